package connection

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	kpool "github.com/opst/xtstore/pkg/conn/db/postgres/pool"
	xe "github.com/opst/xtstore/pkg/errors"
)

// Opener opens a new connection handle.
type Opener func(ctx context.Context) (kpool.Pool, error)

// DSN returns Opener connecting to the database.
func DSN(dsn string) Opener {
	return func(ctx context.Context) (kpool.Pool, error) {
		return kpool.Connect(ctx, dsn)
	}
}

const DefaultValidation = `SELECT max("version") FROM "schema_version"`

// Manager holds exactly one live connection handle for the process.
//
// Creating and replacing the handle are serialized.
// Callers should not keep the handle across a failure: call Reset with it, and use the returned one.
type Manager struct {
	mu         sync.Mutex
	open       Opener
	current    kpool.Pool
	validation string
	logger     log.Logger
}

type Option func(*Manager) *Manager

// WithValidation sets a query sent to validate new handles.
//
// Empty query disables validation.
func WithValidation(query string) Option {
	return func(m *Manager) *Manager {
		m.validation = query
		return m
	}
}

func WithLogger(logger log.Logger) Option {
	return func(m *Manager) *Manager {
		m.logger = logger
		return m
	}
}

func New(open Opener, options ...Option) *Manager {
	m := &Manager{
		open:       open,
		validation: DefaultValidation,
		logger:     log.NewNopLogger(),
	}
	for _, opt := range options {
		m = opt(m)
	}
	return m
}

// Acquire returns the current handle.
//
// If there are no handles, it opens and validates a new one.
// Failures of validation are logged, and the handle is used anyway.
//
// # Returns
//
// - kpool.Pool: the current handle.
//
// - error: caused when a handle cannot be opened.
func (m *Manager) Acquire(ctx context.Context) (kpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquire(ctx)
}

// Reset replaces the failed handle.
//
// When failed is not the current handle (it has been replaced by another caller already),
// the current one is returned as is.
//
// # Args
//
// - ctx: context.
//
// - failed: the handle on which some errors occurred.
//
// # Returns
//
// - kpool.Pool: the new handle.
//
// - error: caused when a handle cannot be opened.
func (m *Manager) Reset(ctx context.Context, failed kpool.Pool) (kpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current == failed {
		m.current.Close()
		m.current = nil
		level.Info(m.logger).Log("msg", "connection is discarded")
	}
	return m.acquire(ctx)
}

// Close closes the current handle, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}

func (m *Manager) acquire(ctx context.Context) (kpool.Pool, error) {
	if m.current != nil {
		return m.current, nil
	}

	p, err := m.open(ctx)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if err := m.validate(ctx, p); err != nil {
		level.Warn(m.logger).Log("msg", "connection validation failed", "err", err)
	}
	m.current = p
	return p, nil
}

func (m *Manager) validate(ctx context.Context, p kpool.Pool) error {
	if m.validation == "" {
		return nil
	}
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	var v any
	return conn.QueryRow(ctx, m.validation).Scan(&v)
}
