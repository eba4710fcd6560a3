package postgres

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opst/xtstore/pkg/configs/store"
	"github.com/opst/xtstore/pkg/conn/db/postgres/connection"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	kpgstore "github.com/opst/xtstore/pkg/domain/internal/db/postgres"
	kjob "github.com/opst/xtstore/pkg/domain/job/db"
	kpgjob "github.com/opst/xtstore/pkg/domain/job/db/postgres"
	"github.com/opst/xtstore/pkg/domain/logs"
	"github.com/opst/xtstore/pkg/domain/logs/blob/minio"
	knode "github.com/opst/xtstore/pkg/domain/node/db"
	kpgnode "github.com/opst/xtstore/pkg/domain/node/db/postgres"
	krun "github.com/opst/xtstore/pkg/domain/run/db"
	kpgrun "github.com/opst/xtstore/pkg/domain/run/db/postgres"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	kpgschema "github.com/opst/xtstore/pkg/domain/schema/db/postgres"
	kworkspace "github.com/opst/xtstore/pkg/domain/workspace/db"
	kpgworkspace "github.com/opst/xtstore/pkg/domain/workspace/db/postgres"
	dbInterface "github.com/opst/xtstore/pkg/domain/xtstore/db"
)

type xtDBPostgres struct {
	conns     *connection.Manager
	exec      *executor.Executor
	store     *kpgstore.Store
	workspace kworkspace.WorkspaceInterface
	job       kjob.JobInterface
	run       krun.RunInterface
	node      knode.NodeInterface
	schema    kschema.SchemaInterface
	logger    log.Logger
}

type Config struct {
	Logger           log.Logger
	Registerer       prometheus.Registerer
	LogStore         logs.LogStore
	SchemaRepository string
	Clock            func() time.Time
	Connections      executor.Connections
}

type Option func(*Config) *Config

func WithLogger(logger log.Logger) Option {
	return func(c *Config) *Config {
		c.Logger = logger
		return c
	}
}

// WithRegisterer registers metrics of database calls.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Config) *Config {
		c.Registerer = r
		return c
	}
}

// WithLogStore enables to join log records into runs.
//
// It takes precedence over the log store of the configuration.
func WithLogStore(ls logs.LogStore) Option {
	return func(c *Config) *Config {
		c.LogStore = ls
		return c
	}
}

func WithSchemaRepository(repository string) Option {
	return func(c *Config) *Config {
		c.SchemaRepository = repository
		return c
	}
}

// WithClock replaces the source of current time of stores.
func WithClock(now func() time.Time) Option {
	return func(c *Config) *Config {
		c.Clock = now
		return c
	}
}

// WithConnections replaces the connection handle.
//
// By default, a connection manager connecting to the database of the configuration is used.
func WithConnections(conns executor.Connections) Option {
	return func(c *Config) *Config {
		c.Connections = conns
		return c
	}
}

// New wires stores on the database of the configuration.
//
// The connection is opened lazily, on the first statement.
func New(ctx context.Context, conf *store.StoreConfig, options ...Option) (dbInterface.Database, error) {
	c := &Config{Logger: log.NewNopLogger(), Clock: time.Now}
	for _, option := range options {
		c = option(c)
	}

	x := &xtDBPostgres{logger: c.Logger}
	conns := c.Connections
	if conns == nil {
		x.conns = connection.New(
			connection.DSN(conf.Database()),
			connection.WithLogger(log.With(c.Logger, "component", "connection")),
		)
		conns = x.conns
	}

	x.exec = executor.New(
		conns, executor.PolicyFor(conf),
		executor.WithLogger(log.With(c.Logger, "component", "executor")),
		executor.WithRegisterer(c.Registerer),
	)
	reg := kpgschema.NewRegistry(x.exec, c.Logger)
	x.store = kpgstore.NewStore(x.exec, reg, conf, c.Logger)

	x.schema = kpgschema.Null(x.exec)
	if c.SchemaRepository != "" {
		x.schema = kpgschema.New(x.exec, c.SchemaRepository)
	}

	ls := c.LogStore
	if lc := conf.LogStore(); ls == nil && lc != nil {
		bucket, err := minio.NewBucket(minio.Config{
			Endpoint:        lc.Endpoint(),
			Bucket:          lc.Bucket(),
			AccessKeyID:     lc.AccessKeyID(),
			SecretAccessKey: lc.SecretAccessKey(),
			Insecure:        lc.Insecure(),
		})
		if err != nil {
			return nil, err
		}
		ls = minio.New(
			bucket,
			minio.WithLogger(log.With(c.Logger, "component", "logstore")),
			minio.WithConcurrency(lc.Concurrency()),
		)
	}

	x.workspace = kpgworkspace.New(x.store)
	x.job = kpgjob.New(x.store, kpgjob.WithClock(c.Clock))
	x.node = kpgnode.New(x.store, kpgnode.WithClock(c.Clock))
	runOpts := []kpgrun.Option{kpgrun.WithClock(c.Clock)}
	if ls != nil {
		runOpts = append(runOpts, kpgrun.WithLogStore(ls))
	}
	x.run = kpgrun.New(x.store, x.workspace, runOpts...)

	level.Debug(c.Logger).Log("msg", "database is ready", "service", conf.Service(), "computeNode", conf.ComputeNode())
	return x, nil
}

func (x *xtDBPostgres) Workspace() kworkspace.WorkspaceInterface {
	return x.workspace
}

func (x *xtDBPostgres) Job() kjob.JobInterface {
	return x.job
}

func (x *xtDBPostgres) Run() krun.RunInterface {
	return x.run
}

func (x *xtDBPostgres) Node() knode.NodeInterface {
	return x.node
}

func (x *xtDBPostgres) Schema() kschema.SchemaInterface {
	return x.schema
}

func (x *xtDBPostgres) Stats() *executor.Stats {
	return x.exec.Stats()
}

func (x *xtDBPostgres) SetInsertBuffering(n int) {
	x.store.Writer.SetInsertBuffering(n)
}

func (x *xtDBPostgres) Flush(ctx context.Context) error {
	return x.store.Writer.Flush(ctx)
}

func (x *xtDBPostgres) Close() error {
	err := x.Flush(context.Background())
	if x.conns != nil {
		x.conns.Close()
	}
	return err
}
