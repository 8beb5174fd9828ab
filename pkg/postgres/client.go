package postgres

import (
	"context"
	"fmt"
	"time"

	applogger "CoinPulse/pkg/logger"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Client manages the Postgres connection pool shared by registry, queue and prediction tables.
type Client struct {
	db *sqlx.DB
}

// NewClient opens the pool and pings it, retrying with exponential backoff.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectAttempts: 5,
		ConnectBackoff:  time.Second,
		PingTimeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	backoff := cfg.ConnectBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= cfg.ConnectAttempts {
			_ = db.Close()
			return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", attempt, err)
		}
		cfg.Logger.Warn("postgres ping failed, retrying",
			applogger.Int("attempt", attempt),
			applogger.Duration("backoff_ms", backoff),
			applogger.Error(err))
		time.Sleep(backoff)
		backoff *= 2
	}

	return &Client{db: db}, nil
}

// NewFromDB wraps an existing pool.
func NewFromDB(db *sqlx.DB) *Client {
	return &Client{db: db}
}

// DB returns the sqlx handle.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Health performs health check.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes connection pool.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// InitSchema applies idempotent DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
