package models

import "time"

// Prediction is one classifier output for (active model, coin, data timestamp).
type Prediction struct {
	ID            int64     `json:"id"`
	ActiveModelID int64     `json:"active_model_id"`
	ModelID       string    `json:"model_id"`
	CoinID        string    `json:"coin_id"`
	Label         int       `json:"prediction"`
	Probability   float64   `json:"probability"`
	DataTimestamp time.Time `json:"data_timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}

// PredictionResult is what the engine returns per surviving model.
type PredictionResult struct {
	Prediction
	ModelName string `json:"model_name"`
	IsAlert   bool   `json:"is_alert"`
	// IsNew is false when the idempotency key already existed.
	IsNew bool `json:"is_new"`
}

type PredictionFilter struct {
	CoinID        string
	ModelID       string
	ActiveModelID int64
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// Notification is the message body sent to webhooks and the alerts topic.
type Notification struct {
	ActiveModelID int64     `json:"active_model_id"`
	ModelID       string    `json:"model_id"`
	ModelName     string    `json:"model_name"`
	CoinID        string    `json:"coin_id"`
	Prediction    int       `json:"prediction"`
	Probability   float64   `json:"probability"`
	IsAlert       bool      `json:"is_alert"`
	Threshold     float64   `json:"alert_threshold"`
	DataTimestamp time.Time `json:"data_timestamp"`
	SentAt        time.Time `json:"sent_at"`
}
