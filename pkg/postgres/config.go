package postgres

import (
	"time"

	applogger "CoinPulse/pkg/logger"
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds Postgres pool configuration.
type ClientConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
	ConnectBackoff  time.Duration
	PingTimeout     time.Duration
	Logger          *applogger.Logger
}

// WithDSN sets the connection string.
func WithDSN(dsn string) ClientOption {
	return func(c *ClientConfig) {
		c.DSN = dsn
	}
}

// WithMaxConnections sets max open and idle connections.
func WithMaxConnections(maxOpen, maxIdle int) ClientOption {
	return func(c *ClientConfig) {
		if maxOpen > 0 {
			c.MaxOpenConns = maxOpen
		}
		if maxIdle > 0 {
			c.MaxIdleConns = maxIdle
		}
	}
}

// WithConnMaxLifetime sets the pool connection lifetime.
func WithConnMaxLifetime(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if d > 0 {
			c.ConnMaxLifetime = d
		}
	}
}

// WithConnectRetry sets startup ping attempts and the initial backoff.
func WithConnectRetry(attempts int, backoff time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if attempts > 0 {
			c.ConnectAttempts = attempts
		}
		if backoff > 0 {
			c.ConnectBackoff = backoff
		}
	}
}

// WithLogger attaches a logger for connection retries.
func WithLogger(l *applogger.Logger) ClientOption {
	return func(c *ClientConfig) {
		c.Logger = l
	}
}
