// Package dbpool opens the PostgreSQL pool shared by the payment ledger, the
// catalog and the entitlement repository when they point at the same database.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/akkaui/payments/internal/config"
)

const pingTimeout = 5 * time.Second

// SharedPool owns one *sql.DB handed to several repositories.
type SharedPool struct {
	db  *sql.DB
	url string
}

// Open connects and verifies the database before applying pool limits.
func Open(ctx context.Context, connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)
	return &SharedPool{db: db, url: connectionString}, nil
}

// ForConfig opens a pool when the storage backend is postgres, and returns
// nil otherwise. The catalog joins the pool only when it reads the same URL.
func ForConfig(ctx context.Context, cfg *config.Config) (*SharedPool, error) {
	if cfg.Storage.Backend != "postgres" || cfg.Storage.PostgresURL == "" {
		return nil, nil
	}
	return Open(ctx, cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
}

// DB returns the underlying pool, or nil for a nil SharedPool.
func (p *SharedPool) DB() *sql.DB {
	if p == nil {
		return nil
	}
	return p.db
}

// Serves reports whether the pool is connected to url.
func (p *SharedPool) Serves(url string) bool {
	return p != nil && url != "" && p.url == url
}

func (p *SharedPool) Close() error {
	if p == nil {
		return nil
	}
	return p.db.Close()
}
