package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/opst/xtstore/pkg/configs/store"
	"github.com/opst/xtstore/pkg/domain/xtstore/db/postgres"
	"github.com/opst/xtstore/pkg/utils/try"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Host     string `flag:"host" help:"The host of the database."`
	Port     int    `flag:"port" help:"The port of the database."`
	User     string `flag:"user" help:"The user of the database."`
	Password string `flag:"pass" help:"The password of the database."`
	Database string `flag:"database" help:"The name of the database."`

	Config string `flag:"config" help:"The path to the store configuration. Its database is used when given."`
	Schema string `flag:"schema" help:"The path to the schema repository directory."`
	Stats  bool   `flag:"stats" help:"Print statistics of database calls."`
	Debug  bool   `flag:"debug" help:"Print debug logs."`
}

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt, os.Kill,
	)
	defer cancel()

	port := 5432
	if sp := os.Getenv("DB_PORT"); sp != "" {
		p, err := strconv.Atoi(sp)
		if err == nil {
			port = p
		}
	}

	cmd := try.To(flarc.NewCommand(
		"database schema upgrader",
		Flag{
			Host:     os.Getenv("DB_HOST"),
			Port:     port,
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: os.Getenv("DB_NAME"),

			Schema: os.Getenv("XTSTORE_SCHEMA"),
		},
		flarc.Args{},
		func(ctx context.Context, c flarc.Commandline[Flag], a []any) error {
			flags := c.Flags()

			var l kitlog.Logger = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(c.Stderr()))
			l = kitlog.With(l, "ts", kitlog.DefaultTimestampUTC)
			if flags.Debug {
				l = level.NewFilter(l, level.AllowDebug())
			} else {
				l = level.NewFilter(l, level.AllowInfo())
			}

			var conf *store.StoreConfig
			if flags.Config != "" {
				cf, err := store.LoadStoreConfig(flags.Config)
				if err != nil {
					return err
				}
				conf = cf
			} else {
				conf = store.Default(fmt.Sprintf(
					"postgres://%s:%s@%s:%d/%s",
					flags.User, flags.Password, flags.Host, flags.Port, flags.Database,
				))
			}

			db, err := postgres.New(
				ctx, conf,
				postgres.WithLogger(l),
				postgres.WithSchemaRepository(flags.Schema),
			)
			if err != nil {
				return err
			}
			defer db.Close()

			before, err := db.Schema().Version(ctx)
			if err != nil {
				return err
			}
			if err := db.Schema().Upgrade(ctx); err != nil {
				return err
			}
			after, err := db.Schema().Version(ctx)
			if err != nil {
				return err
			}
			level.Info(l).Log("msg", "schema is up to date", "from", before, "to", after)

			if flags.Stats {
				return db.Stats().Report(c.Stdout())
			}
			return nil
		},
	)).OrFatal(logger)

	os.Exit(flarc.Run(ctx, cmd))
}
