package dalma

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/petrijr/dalma/internal/config"
	"github.com/petrijr/dalma/internal/engine"
	"github.com/petrijr/dalma/internal/persistence"
	"github.com/petrijr/dalma/internal/taskqueue"
	"github.com/petrijr/dalma/pkg/api"
	"github.com/petrijr/dalma/pkg/observe"
	"github.com/petrijr/dalma/pkg/worker"
)

// Options supplies what a configuration file cannot describe.
type Options struct {
	// EndPoints and Programs are registered before stored conversations
	// are loaded.
	EndPoints []EndPoint
	Programs  []ProgramDefinition

	// Observer is added to the observers the configuration enables.
	Observer Observer

	// Registerer receives the metrics when cfg.Metrics.Enabled. Defaults
	// to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// TracerProvider is used when cfg.Tracing.Enabled. Defaults to the
	// global provider.
	TracerProvider trace.TracerProvider

	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer
}

// Runtime is an engine together with the resources Open created for it.
type Runtime struct {
	Engine Engine
	Store  Store
	Pool   *worker.Pool
	Logger *slog.Logger

	closeStore func(context.Context) error
}

// Open builds the store, worker pool, observers and engine described by
// cfg, and loads every stored conversation.
//
//	cfg, err := dalma.LoadConfig("dalma.yaml")
//	rt, err := dalma.Open(ctx, cfg, dalma.Options{EndPoints: []dalma.EndPoint{inbox.New("")}})
//	defer rt.Close(ctx)
func Open(ctx context.Context, cfg Config, opts Options) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := cfg.NewLogger(out)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	observers := []api.Observer{api.NewLoggingObserver(logger), opts.Observer}
	if cfg.Metrics.Enabled {
		observers = append(observers, observe.NewPrometheusObserver(opts.Registerer, cfg.Metrics.Namespace))
	}
	if cfg.Tracing.Enabled {
		observers = append(observers, observe.NewTracingObserver(opts.TracerProvider))
	}

	pool := worker.New(taskqueue.NewInMemoryQueue(), worker.Config{
		Workers: cfg.Workers,
		Logger:  logger.With("component", "worker"),
	})
	pool.Start(context.Background())

	eng, err := engine.New(ctx, engine.Config{
		Store:     store,
		Executor:  pool,
		Observer:  api.NewCompositeObserver(observers...),
		Logger:    logger,
		EndPoints: opts.EndPoints,
		Programs:  opts.Programs,
	})
	if err != nil {
		_ = pool.Shutdown(ctx)
		return nil, errors.Join(err, closeStore(ctx))
	}

	logger.Info("dalma started",
		"store", cfg.Store.Driver,
		"workers", cfg.Workers,
		"conversations", len(eng.Conversations()),
	)
	return &Runtime{
		Engine:     eng,
		Store:      store,
		Pool:       pool,
		Logger:     logger,
		closeStore: closeStore,
	}, nil
}

// Close stops the engine and releases the store connection.
func (r *Runtime) Close(ctx context.Context) error {
	return errors.Join(r.Engine.Stop(ctx), r.closeStore(ctx))
}

func noClose(context.Context) error { return nil }

func openStore(ctx context.Context, cfg Config) (persistence.Store, func(context.Context) error, error) {
	sc := cfg.Store
	switch sc.Driver {
	case config.DriverFile:
		s, err := persistence.NewFileStore(cfg.Root)
		if err != nil {
			return nil, nil, err
		}
		return s, noClose, nil

	case config.DriverMemory:
		return persistence.NewInMemoryStore(), noClose, nil

	case config.DriverSQLite, config.DriverPostgres:
		driver := "sqlite"
		newStore := persistence.NewSQLiteStore
		if sc.Driver == config.DriverPostgres {
			driver = "pgx"
			newStore = persistence.NewPostgresStore
		}
		db, err := sql.Open(driver, sc.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", sc.Driver, err)
		}
		if sc.Driver == config.DriverSQLite {
			// One connection keeps ":memory:" databases shared and
			// serializes writers.
			db.SetMaxOpenConns(1)
		}
		s, err := newStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func(context.Context) error { return db.Close() }, nil

	case config.DriverRedis:
		ropts, err := redisOptions(sc.DSN)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(ropts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return persistence.NewRedisStore(client, sc.Prefix), func(context.Context) error { return client.Close() }, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(sc.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("mongo ping: %w", err)
		}
		return persistence.NewMongoStore(client, sc.Database, sc.Collection), client.Disconnect, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

func redisOptions(dsn string) (*redis.Options, error) {
	if strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://") {
		return redis.ParseURL(dsn)
	}
	return &redis.Options{Addr: dsn}, nil
}
