package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"curator/internal/config"
)

// Store manages queue persistence backed by PostgreSQL.
type Store struct {
	db         *sql.DB
	maxRetries int
	backoff    []time.Duration
	now        func() time.Time
}

const (
	poolMaxOpenConns    = 5
	poolMaxIdleConns    = 2
	poolConnMaxLifetime = 30 * time.Minute
)

// Open connects to the queue database and applies the schema.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is not configured")
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(poolMaxOpenConns)
	db.SetMaxIdleConns(poolMaxIdleConns)
	db.SetConnMaxLifetime(poolConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	backoff := make([]time.Duration, 0, len(cfg.Queue.BackoffMinutes))
	for _, minutes := range cfg.Queue.BackoffMinutes {
		backoff = append(backoff, time.Duration(minutes)*time.Minute)
	}

	store := &Store{
		db:         db,
		maxRetries: cfg.Queue.MaxRetries,
		backoff:    backoff,
		now:        time.Now,
	}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
