package repository

import (
	"context"
	"time"

	"CoinPulse/internal/domain/models"
)

// MetricsStore provides read-only access to per-coin minute-bar metrics.
type MetricsStore interface {
	Columns(ctx context.Context) ([]string, error)
	Load(ctx context.Context, q models.MetricsQuery) ([]models.MetricRow, error)
	// LoadHistory returns the rows for one coin in (upTo-lookback, upTo], oldest first.
	LoadHistory(ctx context.Context, coinID string, upTo time.Time, lookback time.Duration, columns []string) ([]models.MetricRow, error)
	LatestPoint(ctx context.Context, coinID string, at time.Time) (*models.MetricPoint, error)
	PriceAtOrBefore(ctx context.Context, coinID string, t time.Time) (*float64, error)
	PriceAtOrAfter(ctx context.Context, coinID string, t time.Time) (*float64, error)
	FirstPrice(ctx context.Context, coinID string) (*float64, error)
	Availability(ctx context.Context) (*models.DataAvailability, error)
}
