package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/opst/xtstore/pkg/configs/store"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	xe "github.com/opst/xtstore/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Paginator fetches results of Select, in chunks fetched concurrently when the result is large.
type Paginator struct {
	exec   executor.Interface
	logger log.Logger

	chunkSize   int
	maxWorkers  int
	computeNode bool
}

func NewPaginator(exec executor.Interface, conf *store.StoreConfig, logger log.Logger) *Paginator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Paginator{
		exec:        exec,
		logger:      logger,
		chunkSize:   conf.Query().ChunkSize(),
		maxWorkers:  conf.Query().MaxWorkers(),
		computeNode: conf.ComputeNode(),
	}
}

// Fetch returns rows of the select.
//
// It fetches at once when running in a compute node, when the select pins a record,
// or when the requested page fits in a chunk. Otherwise, it counts matched records first,
// and fetches chunks concurrently when they do not fit in a chunk.
//
// Rows are in the same order as fetching at once.
//
// # Args
//
// - ctx
//
// - sel: query to be fetched.
//
// - progress: if not nil, called with the number of gathered chunks and the total.
// Calls are serialized.
func (p *Paginator) Fetch(ctx context.Context, sel *Select, progress func(done, total int)) (executor.Result, error) {
	entity := sel.Layout().Entity
	first := sel.First()
	if p.computeNode || sel.Pinned || (0 < first && first <= p.chunkSize) {
		return p.direct(ctx, sel)
	}

	sql, args := sel.CountSQL()
	res, err := p.exec.Execute(ctx, executor.Statement{
		Label: "count " + entity, SQL: sql, Args: args, Fetch: executor.FetchOne,
	})
	if err != nil {
		return executor.Result{}, xe.Wrap(err)
	}
	count := 0
	if row, ok := res.First(); ok {
		n, ok := integer(row[0])
		if !ok {
			return executor.Result{}, fmt.Errorf("unexpected count: %v (%T)", row[0], row[0])
		}
		count = int(n)
	}

	available := max(count-sel.Skip(), 0)
	if 0 < first {
		available = min(available, first)
	}
	if available <= p.chunkSize {
		return p.direct(ctx, sel)
	}

	chunks := (available + p.chunkSize - 1) / p.chunkSize
	level.Debug(p.logger).Log(
		"msg", "fetching in chunks", "entity", entity,
		"records", available, "chunks", chunks, "workers", min(chunks, p.maxWorkers),
	)

	results := make([]executor.Result, chunks)
	done := new(atomic.Int64)
	mu := new(sync.Mutex)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.maxWorkers)
	for i := range chunks {
		offset := sel.Skip() + i*p.chunkSize
		n := min(p.chunkSize, available-i*p.chunkSize)
		eg.Go(func() error {
			sql, args := sel.ChunkSQL(offset, n)
			r, err := p.exec.Execute(gctx, executor.Statement{
				Label: "chunk of " + entity, SQL: sql, Args: args, Fetch: executor.FetchAll,
			})
			if err != nil {
				return err
			}
			results[i] = r

			mu.Lock()
			defer mu.Unlock()
			if d := done.Add(1); progress != nil {
				progress(int(d), chunks)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return executor.Result{}, xe.Wrap(err)
	}

	merged := executor.Result{Columns: results[0].Columns}
	for _, r := range results {
		merged.Rows = append(merged.Rows, r.Rows...)
	}
	merged.RowsAffected = int64(len(merged.Rows))
	return merged, nil
}

func (p *Paginator) direct(ctx context.Context, sel *Select) (executor.Result, error) {
	sql, args := sel.SQL()
	res, err := p.exec.Execute(ctx, executor.Statement{
		Label: "query " + sel.Layout().Entity, SQL: sql, Args: args, Fetch: executor.FetchAll,
	})
	if err != nil {
		return executor.Result{}, xe.Wrap(err)
	}
	return res, nil
}
