package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/pkg/logger"

	"github.com/robfig/cron/v3"
)

const DefaultActiveRefreshInterval = 30 * time.Second

// SnapshotSyncer is told about every new active-model snapshot.
type SnapshotSyncer interface {
	Sync(active []*models.ActiveModel)
}

// PredictionService turns coin-metric events into predictions, alerts and dispatches
// using a periodically refreshed snapshot of the active models.
type PredictionService struct {
	engine      *PredictionEngine
	active      domrepo.ActiveModelRepository
	predictions domrepo.PredictionRepository
	alerts      *AlertEvaluator
	gate        *DispatchGate
	syncer      SnapshotSyncer
	metrics     domrepo.Metrics
	logger      *logger.Logger
	interval    time.Duration

	mu       sync.RWMutex
	snapshot []*models.ActiveModel
	cron     *cron.Cron
}

func NewPredictionService(
	engine *PredictionEngine,
	active domrepo.ActiveModelRepository,
	predictions domrepo.PredictionRepository,
	alerts *AlertEvaluator,
	gate *DispatchGate,
	syncer SnapshotSyncer,
	metrics domrepo.Metrics,
	interval time.Duration,
	lgr *logger.Logger,
) *PredictionService {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if interval <= 0 {
		interval = DefaultActiveRefreshInterval
	}
	return &PredictionService{
		engine:      engine,
		active:      active,
		predictions: predictions,
		alerts:      alerts,
		gate:        gate,
		syncer:      syncer,
		metrics:     metrics,
		logger:      lgr,
		interval:    interval,
	}
}

// Refresh reloads the active-model snapshot.
func (s *PredictionService) Refresh(ctx context.Context) error {
	list, err := s.active.List(ctx, true)
	if err != nil {
		return fmt.Errorf("refresh active models: %w", err)
	}
	s.mu.Lock()
	s.snapshot = list
	s.mu.Unlock()
	if s.syncer != nil {
		s.syncer.Sync(list)
	}
	return nil
}

// Active returns the current snapshot. Callers must not mutate the entries.
func (s *PredictionService) Active() []*models.ActiveModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// HandleEvent scores the event's coin and runs follow-ups for new predictions.
func (s *PredictionService) HandleEvent(ctx context.Context, ev *models.CoinMetricEvent) error {
	if ev == nil || ev.CoinID == "" {
		return models.NewValidationError("coin_id", "is required")
	}
	active := s.Active()
	if len(active) == 0 {
		return nil
	}
	start := time.Now()
	results := s.engine.Predict(ctx, ev.CoinID, ev.Timestamp, active)
	s.followUp(ctx, results, active)
	s.metrics.RecordLatency("handle_event", time.Since(start).Seconds())
	return nil
}

// Predict is the synchronous API path. It uses the same snapshot and follow-ups as
// event handling.
func (s *PredictionService) Predict(ctx context.Context, req *models.PredictRequest) ([]models.PredictionResult, error) {
	if req.CoinID == "" {
		return nil, models.NewValidationError("coin_id", "is required")
	}
	active := s.Active()
	if len(active) == 0 {
		return []models.PredictionResult{}, nil
	}
	results := s.engine.Predict(ctx, req.CoinID, req.Timestamp.Time, active)
	s.followUp(ctx, results, active)
	if results == nil {
		results = []models.PredictionResult{}
	}
	return results, nil
}

func (s *PredictionService) followUp(ctx context.Context, results []models.PredictionResult, active []*models.ActiveModel) {
	byID := make(map[int64]*models.ActiveModel, len(active))
	for _, a := range active {
		byID[a.ID] = a
	}
	for i := range results {
		r := &results[i]
		a := byID[r.ActiveModelID]
		if a == nil || !r.IsNew {
			continue
		}
		if r.IsAlert && s.alerts != nil {
			if _, err := s.alerts.Schedule(ctx, &r.Prediction, a); err != nil {
				s.metrics.RecordError("alert_schedule")
				s.logger.Error("alert scheduling failed",
					logger.Int64("prediction_id", r.ID),
					logger.Error(err),
				)
			}
		}
		if s.gate != nil {
			if _, err := s.gate.Dispatch(ctx, a, r); err != nil {
				s.logger.Warn("dispatch failed",
					logger.Int64("active_model_id", a.ID),
					logger.String("coin_id", r.CoinID),
					logger.Error(err),
				)
			}
		}
	}
}

func (s *PredictionService) ListPredictions(ctx context.Context, f models.PredictionFilter) ([]*models.Prediction, int64, error) {
	return s.predictions.List(ctx, f)
}

func (s *PredictionService) Name() string { return "active-model-refresher" }

// Start loads the first snapshot and refreshes it on a cron schedule.
func (s *PredictionService) Start(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	s.logger.Info("active models loaded", logger.Int("count", len(s.Active())))

	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			s.metrics.RecordError("active_refresh")
			s.logger.Error("active model refresh failed", logger.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *PredictionService) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
