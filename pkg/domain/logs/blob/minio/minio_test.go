package minio_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/xtstore/pkg/domain"
	"github.com/opst/xtstore/pkg/domain/logs/blob/minio"
	"github.com/opst/xtstore/pkg/utils/try"
)

var errNotFound = errors.New("fake: no such key")

// objects on memory.
type objects map[string]string

func (o objects) Get(_ context.Context, name string) (io.ReadCloser, error) {
	body, ok := o[name]
	if !ok {
		return nil, errNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (o objects) IsObjNotFoundErr(err error) bool {
	return errors.Is(err, errNotFound)
}

func TestLogStore_LogRecordsForRuns(t *testing.T) {
	ctx := context.Background()

	t.Run("records are read from objects of runs", func(t *testing.T) {
		bucket := objects{
			"ws1/runs/run1/log_records.jsonl": `{"event":"created","time":1}` + "\n" +
				"\n" +
				`{"event":"started","data":{"node":0}}` + "\n",
			"ws1/runs/run2/log_records.jsonl": `{"event":"created"}`,
		}
		testee := minio.New(bucket, minio.WithConcurrency(2))

		got := try.To(testee.LogRecordsForRuns(ctx, "ws1", []string{"ws1/run1", "ws1/run2", "ws1/run3"})).OrFatal(t)
		want := []domain.Document{
			{"key": "ws1/run1", "event": "created", "time": 1.0},
			{"key": "ws1/run1", "event": "started", "data": map[string]any{"node": 0.0}},
			{"key": "ws1/run2", "event": "created"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("records (-want +got):\n%s", diff)
		}
	})

	t.Run("broken lines are skipped", func(t *testing.T) {
		bucket := objects{
			"ws1/runs/run1/log_records.jsonl": "{broken\n" + `{"event":"ended"}` + "\n",
		}
		testee := minio.New(bucket)

		got := try.To(testee.LogRecordsForRuns(ctx, "ws1", []string{"ws1/run1"})).OrFatal(t)
		want := []domain.Document{{"key": "ws1/run1", "event": "ended"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("records (-want +got):\n%s", diff)
		}
	})

	t.Run("empty objects have no records", func(t *testing.T) {
		testee := minio.New(objects{"ws1/runs/run1/log_records.jsonl": ""})

		got := try.To(testee.LogRecordsForRuns(ctx, "ws1", []string{"ws1/run1"})).OrFatal(t)
		if diff := cmp.Diff([]domain.Document{}, got); diff != "" {
			t.Errorf("records (-want +got):\n%s", diff)
		}
	})

	t.Run("EOF on opening is no records", func(t *testing.T) {
		testee := minio.New(failing{err: io.EOF})

		got := try.To(testee.LogRecordsForRuns(ctx, "ws1", []string{"ws1/run1", "ws1/run2"})).OrFatal(t)
		if diff := cmp.Diff([]domain.Document{}, got); diff != "" {
			t.Errorf("records (-want +got):\n%s", diff)
		}
	})

	t.Run("errors other than absence are returned", func(t *testing.T) {
		expected := errors.New("fake: access denied")
		testee := minio.New(failing{err: expected})

		if _, err := testee.LogRecordsForRuns(ctx, "ws1", []string{"ws1/run1"}); !errors.Is(err, expected) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

type failing struct{ err error }

func (f failing) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, f.err
}

func (f failing) IsObjNotFoundErr(error) bool {
	return false
}

func TestObjectName(t *testing.T) {
	if got := minio.ObjectName("ws1", "run1.2"); got != "ws1/runs/run1.2/log_records.jsonl" {
		t.Errorf("unexpected name: %s", got)
	}
}
