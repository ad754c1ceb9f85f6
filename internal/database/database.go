package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/retry"
)

// Config holds database connection configuration.
type Config struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnectTimeout     time.Duration // per ping attempt
	// ConnectRetry covers a database that is still starting, as on a fresh
	// Cloud SQL instance.
	ConnectRetry retry.Policy
}

// DefaultConfig returns defaults sized for one daily run plus the API.
func DefaultConfig() Config {
	return Config{
		MaxConnections:     10,
		MaxIdleConnections: 2,
		ConnMaxLifetime:    5 * time.Minute,
		ConnectTimeout:     10 * time.Second,
		ConnectRetry: retry.Policy{
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    8 * time.Second,
			Retryable:   func(error) bool { return true },
		},
	}
}

// Connect opens the pool and pings until the database answers or the retry
// policy gives up.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, models.NewError(models.ErrorKindConfig, "connect database", fmt.Errorf("database URL is required"))
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, models.NewError(models.ErrorKindConfig, "connect database", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	err = retry.DoErr(ctx, cfg.ConnectRetry, "ping database", func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return models.NewError(models.ErrorKindNetwork, "ping database", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// HealthCheck verifies that the history table is reachable, not only the server.
func HealthCheck(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var n int64
	query, args, err := psql.Select("COUNT(*)").From(historyTable).ToSql()
	if err != nil {
		return err
	}
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Stats summarises the pool for startup logs.
func Stats(db *sql.DB) map[string]any {
	stats := db.Stats()
	return map[string]any{
		"max_open": stats.MaxOpenConnections,
		"open":     stats.OpenConnections,
		"in_use":   stats.InUse,
		"idle":     stats.Idle,
	}
}
