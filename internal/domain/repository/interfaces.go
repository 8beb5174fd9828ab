package repository

import (
	"context"
	"time"

	"CoinPulse/internal/domain/models"
)

type ModelRepository interface {
	Create(ctx context.Context, m *models.TrainedModel) error
	MarkReady(ctx context.Context, id, artifactPath string, features []string, metrics *models.EvalMetrics) error
	MarkFailed(ctx context.Context, id, msg string) error
	Get(ctx context.Context, id string) (*models.TrainedModel, error)
	List(ctx context.Context, f models.ModelFilter) ([]*models.TrainedModel, int64, error)
	Delete(ctx context.Context, id string) error
}

type ActiveModelRepository interface {
	Create(ctx context.Context, a *models.ActiveModel) error
	Get(ctx context.Context, id int64) (*models.ActiveModel, error)
	List(ctx context.Context, activeOnly bool) ([]*models.ActiveModel, error)
	SetActive(ctx context.Context, id int64, active bool) error
	UpdateConfig(ctx context.Context, a *models.ActiveModel) error
	UpdateLocalPath(ctx context.Context, id int64, path string) error
	Delete(ctx context.Context, id int64) error
}

type JobRepository interface {
	Enqueue(ctx context.Context, jobType models.JobType, priority int, payload any) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
	Cancel(ctx context.Context, id string) error
	Stuck(ctx context.Context, threshold time.Duration) ([]*models.Job, error)
	CountByStatus(ctx context.Context, status models.JobStatus) (int64, error)
}

type PredictionRepository interface {
	// Insert is idempotent on (active_model_id, coin_id, data_timestamp); created is false
	// when the row already existed and p is filled from the stored row.
	Insert(ctx context.Context, p *models.Prediction) (created bool, err error)
	List(ctx context.Context, f models.PredictionFilter) ([]*models.Prediction, int64, error)
}

type AlertRepository interface {
	// CreatePending is a no-op when the prediction already has an evaluation.
	CreatePending(ctx context.Context, a *models.AlertEvaluation) (bool, error)
	Due(ctx context.Context, now time.Time, limit int) ([]*models.AlertEvaluation, error)
	// Resolve moves a pending row to a terminal status; false means another writer got there first.
	Resolve(ctx context.Context, id int64, o models.AlertOutcome) (bool, error)
	List(ctx context.Context, f models.AlertFilter) ([]*models.AlertEvaluation, int64, error)
	Stats(ctx context.Context) (*models.AlertStats, error)
}

// EventStream is a live source of coin-metric events.
type EventStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.CoinMetricEvent, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Notifier delivers a dispatched prediction to an external system.
type Notifier interface {
	Notify(ctx context.Context, active *models.ActiveModel, n *models.Notification) error
}

// Producer is the subset of the kafka producer used by the domain.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

type Metrics interface {
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordPrediction(model, outcome string)
	RecordAlert(status string)
	RecordDispatch(result string)
	RecordJob(jobType, status string, seconds float64)
	SetRunningJobs(n int)
	SetStuckJobs(n int)
}
