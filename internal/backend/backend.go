// Package backend opens the counter store selected by configuration.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/manenim/redis-rate-limit/internal/config"
	"github.com/manenim/redis-rate-limit/internal/observability"
	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

// Purger is implemented by stores whose expired buckets linger until deleted:
// the SQL stores and the in-process map.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Backend is an opened counter store and the resources behind it.
type Backend struct {
	Store limiter.CounterStore
	// Purger is nil for Redis, which expires keys on its own.
	Purger Purger
	Type   string

	closers []func() error
}

type options struct {
	instrument bool
}

type Option func(*options)

// WithInstrumentation wraps the store in an observability.InstrumentedStore.
func WithInstrumentation() Option {
	return func(o *options) { o.instrument = true }
}

// Open builds the store described by cfg.Store and verifies it. The SQL
// stores run their migration.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Backend, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	b := &Backend{Type: cfg.Store.Type}
	var err error
	switch cfg.Store.Type {
	case config.StoreMemory:
		mem := limiter.NewMemoryStore()
		b.Store = mem
		b.Purger = mem
	case config.StoreRedis:
		err = b.openRedis(cfg.Redis)
	case config.StoreSQLite:
		err = b.openSQLite(ctx, cfg.Store)
	case config.StorePostgres:
		err = b.openPostgres(ctx, cfg.Store)
	default:
		err = fmt.Errorf("unsupported store type: %s", cfg.Store.Type)
	}
	if err != nil {
		b.Close()
		return nil, err
	}

	if o.instrument {
		inst, err := observability.NewInstrumentedStore(b.Store)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to instrument store: %w", err)
		}
		b.Store = inst
	}
	return b, nil
}

func (b *Backend) openRedis(cfg config.RedisConfig) error {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	b.closers = append(b.closers, client.Close)

	store, err := limiter.NewRedisStore(client)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	b.Store = store
	return nil
}

func (b *Backend) openSQLite(ctx context.Context, cfg config.StoreConfig) error {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	b.closers = append(b.closers, db.Close)
	return b.useSQL(ctx, db, limiter.DialectSQLite, cfg.Table)
}

func (b *Backend) openPostgres(ctx context.Context, cfg config.StoreConfig) error {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	b.closers = append(b.closers, func() error { pool.Close(); return nil })

	db := stdlib.OpenDBFromPool(pool)
	b.closers = append(b.closers, db.Close)
	return b.useSQL(ctx, db, limiter.DialectPostgres, cfg.Table)
}

func (b *Backend) useSQL(ctx context.Context, db *sql.DB, dialect limiter.Dialect, table string) error {
	store, err := limiter.NewSQLStore(db, dialect, limiter.WithTable(table))
	if err != nil {
		return err
	}
	if err := store.Verify(ctx); err != nil {
		return fmt.Errorf("failed to verify %s store: %w", dialect, err)
	}
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	b.Store = store
	b.Purger = store
	return nil
}

// Close releases connections in reverse order of acquisition.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
