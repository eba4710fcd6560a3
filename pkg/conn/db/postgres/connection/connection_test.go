package connection_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/opst/xtstore/pkg/conn/db/postgres/connection"
	kpool "github.com/opst/xtstore/pkg/conn/db/postgres/pool"
	"github.com/opst/xtstore/pkg/conn/db/postgres/pool/fake"
	"github.com/opst/xtstore/pkg/utils/try"
)

// opener counting how many handles are opened.
type opener struct {
	mu     sync.Mutex
	opened []*fake.FakePool
	err    error
	resp   fake.Responder
}

func (o *opener) Open(context.Context) (kpool.Pool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	p := fake.New(o.resp)
	o.opened = append(o.opened, p)
	return p, nil
}

func TestManager_Acquire(t *testing.T) {
	t.Run("it opens a handle once and validates it", func(t *testing.T) {
		ctx := context.Background()
		o := &opener{resp: fake.Always(fake.Response{Columns: []string{"max"}, Rows: [][]any{{int32(1)}}})}
		testee := connection.New(o.Open)

		first := try.To(testee.Acquire(ctx)).OrFatal(t)
		second := try.To(testee.Acquire(ctx)).OrFatal(t)

		if first != second {
			t.Error("handle is changed without reset")
		}
		if len(o.opened) != 1 {
			t.Fatalf("opened %d times", len(o.opened))
		}
		calls := o.opened[0].Calls()
		if len(calls) != 1 || calls[0].SQL != connection.DefaultValidation {
			t.Errorf("unexpected validation: %+v", calls)
		}
		if n := o.opened[0].InUse(); n != 0 {
			t.Errorf("validation leaks %d connections", n)
		}
	})

	t.Run("it keeps the handle even if validation fails", func(t *testing.T) {
		ctx := context.Background()
		o := &opener{resp: fake.Always(fake.Response{Err: errors.New("fake")})}
		testee := connection.New(o.Open)

		if _, err := testee.Acquire(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := testee.Acquire(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(o.opened) != 1 {
			t.Errorf("opened %d times", len(o.opened))
		}
	})

	t.Run("it returns an error when it cannot open", func(t *testing.T) {
		expectedErr := errors.New("fake")
		o := &opener{err: expectedErr}
		testee := connection.New(o.Open)

		if _, err := testee.Acquire(context.Background()); !errors.Is(err, expectedErr) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestManager_Reset(t *testing.T) {
	t.Run("it closes the failed handle and opens a new one", func(t *testing.T) {
		ctx := context.Background()
		o := &opener{}
		testee := connection.New(o.Open, connection.WithValidation(""))

		failed := try.To(testee.Acquire(ctx)).OrFatal(t)
		replaced := try.To(testee.Reset(ctx, failed)).OrFatal(t)

		if replaced == failed {
			t.Error("handle is not replaced")
		}
		if !o.opened[0].Closed() {
			t.Error("failed handle is not closed")
		}
		if got := try.To(testee.Acquire(ctx)).OrFatal(t); got != replaced {
			t.Error("Acquire does not return the replaced handle")
		}
	})

	t.Run("it does not reset a handle which has been replaced already", func(t *testing.T) {
		ctx := context.Background()
		o := &opener{}
		testee := connection.New(o.Open, connection.WithValidation(""))

		failed := try.To(testee.Acquire(ctx)).OrFatal(t)

		wg := new(sync.WaitGroup)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := testee.Reset(ctx, failed); err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()

		if len(o.opened) != 2 {
			t.Errorf("opened %d times for concurrent resets", len(o.opened))
		}
		if o.opened[1].Closed() {
			t.Error("replacement is closed")
		}
	})
}
