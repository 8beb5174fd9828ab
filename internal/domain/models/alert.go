package models

import "time"

type AlertStatus string

const (
	AlertPending AlertStatus = "pending"
	AlertSuccess AlertStatus = "success"
	AlertFailed  AlertStatus = "failed"
	AlertExpired AlertStatus = "expired"
)

func (s AlertStatus) Terminal() bool { return s != AlertPending }

// AlertEvaluation adjudicates a high-probability prediction after its horizon.
// Rule fields are snapshotted at creation so later config edits do not rewrite history.
type AlertEvaluation struct {
	ID                  int64       `json:"id"`
	PredictionID        int64       `json:"prediction_id"`
	ActiveModelID       int64       `json:"active_model_id"`
	ModelID             string      `json:"model_id"`
	CoinID              string      `json:"coin_id"`
	PredictedLabel      int         `json:"predicted_label"`
	Probability         float64     `json:"probability"`
	Direction           Direction   `json:"direction"`
	MinPercentChange    float64     `json:"min_percent_change"`
	AlertTimestamp      time.Time   `json:"alert_timestamp"`
	EvaluationTimestamp time.Time   `json:"evaluation_timestamp"`
	PriceAtAlert        *float64    `json:"price_at_alert,omitempty"`
	PriceAtEval         *float64    `json:"price_at_eval,omitempty"`
	ChartBaselinePrice  *float64    `json:"chart_baseline_price,omitempty"`
	ActualChangePct     *float64    `json:"actual_price_change_pct,omitempty"`
	Status              AlertStatus `json:"status"`
	EvaluatedAt         *time.Time  `json:"evaluated_at,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

// AlertOutcome is the terminal state written by one sweep step.
type AlertOutcome struct {
	Status          AlertStatus
	PriceAtAlert    *float64
	PriceAtEval     *float64
	ChartBaseline   *float64
	ActualChangePct *float64
	EvaluatedAt     time.Time
}

type AlertFilter struct {
	CoinID      string
	ModelID     string
	Status      AlertStatus
	From        *time.Time
	To          *time.Time
	UniqueCoins bool
	Limit       int
	Offset      int
}

type AlertModelStats struct {
	ActiveModelID int64   `json:"active_model_id"`
	ModelID       string  `json:"model_id"`
	Pending       int64   `json:"pending"`
	Success       int64   `json:"success"`
	Failed        int64   `json:"failed"`
	Expired       int64   `json:"expired"`
	SuccessRate   float64 `json:"success_rate"`
}

type AlertStats struct {
	Total    int64             `json:"total"`
	ByStatus map[string]int64  `json:"by_status"`
	ByModel  []AlertModelStats `json:"by_model"`
}
