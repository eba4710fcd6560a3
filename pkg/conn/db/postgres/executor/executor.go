package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opst/xtstore/pkg/configs/store"
	kpool "github.com/opst/xtstore/pkg/conn/db/postgres/pool"
	"github.com/opst/xtstore/pkg/utils/retry"
)

// Fetch tells what a Statement returns.
type Fetch int

const (
	// FetchNone executes the statement and returns only the number of affected rows.
	FetchNone Fetch = iota

	// FetchOne returns the first row, if any.
	FetchOne

	// FetchAll returns all rows.
	FetchAll
)

// Statement is a unit of execution.
type Statement struct {
	// Label names the statement in call statistics and logs.
	Label string

	SQL  string
	Args []any

	// Batch, when not nil, executes SQL once per element as arguments.
	// Args and Fetch are ignored.
	Batch [][]any

	Fetch Fetch

	// ExpectDuplicate suppresses logging of duplicate key violation.
	ExpectDuplicate bool
}

type Result struct {
	Columns []string
	Rows    [][]any

	RowsAffected int64
}

// First returns the first row.
func (r Result) First() ([]any, bool) {
	if len(r.Rows) == 0 {
		return nil, false
	}
	return r.Rows[0], true
}

// Interface executes statements.
type Interface interface {
	Execute(ctx context.Context, st Statement) (Result, error)
}

// Connections provides the connection handle.
//
// *connection.Manager implements this.
type Connections interface {
	Acquire(ctx context.Context) (kpool.Pool, error)
	Reset(ctx context.Context, failed kpool.Pool) (kpool.Pool, error)
}

// Policy of retries.
type Policy struct {
	// attempts per statement, including the first one.
	MaxAttempts int

	// wait between attempts. It is not called after the final attempt.
	Backoff retry.Backoff

	// replace the connection before every retry, whatever the failure is.
	ResetOnRetry bool

	// rate of injected faults, in [0, 1).
	FaultRate float64
}

// PolicyFor returns the Policy from configuration.
//
// Services retry many times with random backoff, and clients retry a few times with fixed backoff.
func PolicyFor(conf *store.StoreConfig) Policy {
	r := conf.Retry()
	p := Policy{
		ResetOnRetry: r.ResetConnectionOnRetry(),
		FaultRate:    r.FakeErrorRate(),
	}
	if conf.Service() {
		p.MaxAttempts = r.MaxAttempts()
		p.Backoff = retry.RandomBackoff(r.MaxBackoff())
	} else {
		p.MaxAttempts = r.ClientAttempts()
		p.Backoff = retry.StaticBackoff(r.ClientBackoff())
	}
	return p
}

// Executor is the single point through which statements are sent to the backend.
//
// It is safe for concurrent use.
type Executor struct {
	conns    Connections
	policy   Policy
	classify Classifier
	random   func() float64
	logger   log.Logger
	stats    *Stats
	metrics  *metrics
}

var _ Interface = &Executor{}

type Option func(*Executor) *Executor

func WithLogger(logger log.Logger) Option {
	return func(e *Executor) *Executor {
		e.logger = logger
		return e
	}
}

func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Executor) *Executor {
		e.metrics = newMetrics(r)
		return e
	}
}

// WithClassifier replaces the classifier. Default is ClassifyPostgres.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) *Executor {
		e.classify = c
		return e
	}
}

// WithRandom replaces the source of randomness of fault injection.
func WithRandom(random func() float64) Option {
	return func(e *Executor) *Executor {
		e.random = random
		return e
	}
}

func WithStats(s *Stats) Option {
	return func(e *Executor) *Executor {
		e.stats = s
		return e
	}
}

func New(conns Connections, policy Policy, options ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff == nil {
		policy.Backoff = retry.NoBackoff
	}

	e := &Executor{
		conns:    conns,
		policy:   policy,
		classify: ClassifyPostgres,
		random:   rand.Float64,
		logger:   log.NewNopLogger(),
		stats:    NewStats(),
	}
	for _, opt := range options {
		e = opt(e)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(nil)
	}
	return e
}

func (e *Executor) Stats() *Stats {
	return e.stats
}

// Execute sends the statement to the backend, retrying on transient failures.
//
// # Returns
//
// - Result: rows or the number of affected rows.
//
// - error: One of them:
//
//   - *BackendError: for failures which are not retried.
//     It matches ErrConfiguration or ErrDuplicateKey by errors.Is.
//
//   - *ExhaustedRetriesError: when all attempts are failed. It matches ErrServiceUnavailable.
//
//   - context error: when ctx is done.
func (e *Executor) Execute(ctx context.Context, st Statement) (Result, error) {
	logger := log.With(e.logger, "label", st.Label)

	start := time.Now()
	actual := time.Duration(0)
	record := func(attempts int) {
		elapsed := time.Since(start)
		e.stats.Record(st.Label, CallStat{
			Elapsed:        elapsed,
			ActualCallTime: actual,
			Retries:        attempts - 1,
		})
		e.metrics.callDuration.WithLabelValues(st.Label).Observe(elapsed.Seconds())
		if 1 < attempts {
			e.metrics.retries.WithLabelValues(st.Label).Add(float64(attempts - 1))
		}
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%s: %w", st.Label, err)
		}

		handle, err := e.conns.Acquire(ctx)
		class := ConnectionBroken
		if err == nil {
			before := time.Now()
			var res Result
			res, err = e.attempt(ctx, handle, st)
			actual += time.Since(before)
			if err == nil {
				record(attempt)
				return res, nil
			}
			if errors.Is(err, ErrInjected) {
				class = Transient
			} else {
				class = e.classify(err)
			}
		}

		if cerr := ctx.Err(); cerr != nil {
			return Result{}, fmt.Errorf("%s: %w", st.Label, cerr)
		}
		e.metrics.failures.WithLabelValues(st.Label, class.String()).Inc()

		switch class {
		case DuplicateKey:
			if !st.ExpectDuplicate {
				level.Warn(logger).Log("msg", "duplicate key", "err", err)
			}
			return Result{}, &BackendError{Label: st.Label, Class: class, Err: err}
		case FastFail:
			level.Error(logger).Log("msg", "statement is rejected", "sql", st.SQL, "err", err)
			return Result{}, &BackendError{Label: st.Label, Class: class, Err: err}
		}

		if e.policy.MaxAttempts <= attempt {
			record(attempt)
			level.Error(logger).Log("msg", "retries are exhausted", "attempts", attempt, "err", err)
			return Result{}, &ExhaustedRetriesError{Label: st.Label, Attempts: attempt, Last: err}
		}

		level.Warn(logger).Log(
			"msg", "retrying statement", "attempt", attempt, "class", class, "err", err,
		)
		if handle != nil && (class == ConnectionBroken || e.policy.ResetOnRetry) {
			e.metrics.resets.Inc()
			if _, rerr := e.conns.Reset(ctx, handle); rerr != nil {
				level.Warn(logger).Log("msg", "failed to reset connection", "err", rerr)
			}
		}
		if err := e.policy.Backoff(ctx); err != nil {
			return Result{}, fmt.Errorf("%s: %w", st.Label, err)
		}
	}
}

func (e *Executor) attempt(ctx context.Context, handle kpool.Pool, st Statement) (Result, error) {
	if 0 < e.policy.FaultRate && e.random() < e.policy.FaultRate {
		return Result{}, ErrInjected
	}

	conn, err := handle.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Release()

	if st.Batch != nil {
		n, err := conn.ExecBatch(ctx, st.SQL, st.Batch)
		if err != nil {
			return Result{}, err
		}
		return Result{RowsAffected: n}, nil
	}

	if st.Fetch == FetchNone {
		tag, err := conn.Exec(ctx, st.SQL, st.Args...)
		if err != nil {
			return Result{}, err
		}
		return Result{RowsAffected: tag.RowsAffected()}, nil
	}

	rows, err := conn.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	res := Result{Columns: make([]string, len(fds))}
	for i, fd := range fds {
		res.Columns[i] = string(fd.Name)
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return Result{}, err
		}
		res.Rows = append(res.Rows, vals)
		if st.Fetch == FetchOne {
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	res.RowsAffected = rows.CommandTag().RowsAffected()
	return res, nil
}

// Static returns Connections which always provides p and never replaces it.
func Static(p kpool.Pool) Connections {
	return static{p}
}

type static struct {
	p kpool.Pool
}

func (s static) Acquire(context.Context) (kpool.Pool, error) {
	return s.p, nil
}

func (s static) Reset(context.Context, kpool.Pool) (kpool.Pool, error) {
	return s.p, nil
}
