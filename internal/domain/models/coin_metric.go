package models

import "time"

// Columns every metrics query returns regardless of the requested set.
const (
	ColumnCoinID     = "coin_id"
	ColumnTimestamp  = "timestamp"
	ColumnPriceClose = "price_close"
	ColumnPhaseID    = "phase_id"
	ColumnATHPrice   = "ath_price_sol"
	ColumnBuyVolume  = "buy_volume_sol"
	ColumnSellVolume = "sell_volume_sol"
)

// MetricsQuery selects a window of minute bars.
type MetricsQuery struct {
	CoinIDs []string // empty means all coins
	From    time.Time
	To      time.Time // exclusive
	Columns []string
	Phases  []int // empty means any phase
}

// MetricRow is one (coin_id, timestamp) bar. Values align with the query columns; NULL is NaN.
type MetricRow struct {
	CoinID    string
	Timestamp time.Time
	Values    []float64
}

// MetricPoint is the latest known state of a coin at a moment.
type MetricPoint struct {
	CoinID     string    `json:"coin_id"`
	Timestamp  time.Time `json:"timestamp"`
	PriceClose float64   `json:"price_close"`
	PhaseID    *int      `json:"phase_id,omitempty"`
}

// CoinMetricEvent is what the external producer emits when a new bar lands.
type CoinMetricEvent struct {
	CoinID     string    `json:"coin_id"`
	Timestamp  time.Time `json:"timestamp"`
	PhaseID    *int      `json:"phase_id,omitempty"`
	PriceClose *float64  `json:"price_close,omitempty"`
}

type DataAvailability struct {
	MinTimestamp *time.Time `json:"min_timestamp"`
	MaxTimestamp *time.Time `json:"max_timestamp"`
	Coins        int64      `json:"coins"`
}
