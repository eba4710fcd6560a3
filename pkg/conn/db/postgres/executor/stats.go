package executor

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"text/tabwriter"
	"time"
)

// CallStat is a record of a statement execution.
type CallStat struct {
	// time from the first attempt to the end, including backoff.
	Elapsed time.Duration

	// time spent in the backend (and network), excluding backoff.
	ActualCallTime time.Duration

	// attempts - 1
	Retries int
}

// Summary of CallStats under a label.
type Summary struct {
	Label          string
	Calls          int
	Elapsed        time.Duration
	ActualCallTime time.Duration
	Retries        int
}

func (s Summary) MeanElapsed() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.Elapsed / time.Duration(s.Calls)
}

func (s Summary) MeanActualCallTime() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.ActualCallTime / time.Duration(s.Calls)
}

// Stats collects CallStats by label. It is safe for concurrent use.
type Stats struct {
	mu    sync.Mutex
	calls map[string][]CallStat
}

func NewStats() *Stats {
	return &Stats{calls: map[string][]CallStat{}}
}

func (s *Stats) Record(label string, stat CallStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[label] = append(s.calls[label], stat)
}

// Snapshot returns a copy of records.
func (s *Stats) Snapshot() map[string][]CallStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]CallStat, len(s.calls))
	for label, stats := range s.calls {
		out[label] = slices.Clone(stats)
	}
	return out
}

// Summaries returns summaries sorted by label.
func (s *Stats) Summaries() []Summary {
	snapshot := s.Snapshot()

	out := make([]Summary, 0, len(snapshot))
	for label, stats := range snapshot {
		sum := Summary{Label: label, Calls: len(stats)}
		for _, st := range stats {
			sum.Elapsed += st.Elapsed
			sum.ActualCallTime += st.ActualCallTime
			sum.Retries += st.Retries
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b Summary) int {
		switch {
		case a.Label < b.Label:
			return -1
		case a.Label > b.Label:
			return 1
		}
		return 0
	})
	return out
}

// Report writes summaries as a table.
func (s *Stats) Report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(tw, "label\tcalls\tretries\tmean elapsed\tmean call\ttotal elapsed\t")
	total := Summary{Label: "(total)"}
	for _, sum := range s.Summaries() {
		writeSummary(tw, sum)
		total.Calls += sum.Calls
		total.Retries += sum.Retries
		total.Elapsed += sum.Elapsed
		total.ActualCallTime += sum.ActualCallTime
	}
	writeSummary(tw, total)
	return tw.Flush()
}

func writeSummary(w io.Writer, sum Summary) {
	fmt.Fprintf(
		w, "%s\t%d\t%d\t%s\t%s\t%s\t\n",
		sum.Label, sum.Calls, sum.Retries,
		sum.MeanElapsed().Round(time.Microsecond),
		sum.MeanActualCallTime().Round(time.Microsecond),
		sum.Elapsed.Round(time.Microsecond),
	)
}
