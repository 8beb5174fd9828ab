package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/internal/services/features"
	"CoinPulse/internal/services/ml"
	"CoinPulse/pkg/logger"
)

const DefaultModelTimeout = 30 * time.Second

// ArtifactLoader resolves an active model to a ready classifier.
type ArtifactLoader interface {
	Load(ctx context.Context, a *models.ActiveModel) (ml.Classifier, *ml.Artifact, error)
}

// PredictionEngine scores one coin against every active model in parallel. A failing
// model never affects its siblings.
type PredictionEngine struct {
	assembler   *features.Assembler
	store       domrepo.MetricsStore
	loader      ArtifactLoader
	predictions domrepo.PredictionRepository
	metrics     domrepo.Metrics
	logger      *logger.Logger
	timeout     time.Duration
}

func NewPredictionEngine(
	assembler *features.Assembler,
	store domrepo.MetricsStore,
	loader ArtifactLoader,
	predictions domrepo.PredictionRepository,
	metrics domrepo.Metrics,
	timeout time.Duration,
	lgr *logger.Logger,
) *PredictionEngine {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	return &PredictionEngine{
		assembler:   assembler,
		store:       store,
		loader:      loader,
		predictions: predictions,
		metrics:     metrics,
		logger:      lgr,
		timeout:     timeout,
	}
}

// errSkipped marks a model filtered out by the phase gate.
var errSkipped = errors.New("phase not accepted")

// Predict returns the results of the models that succeeded, in input order. A zero ts
// means the coin's latest bar.
func (e *PredictionEngine) Predict(ctx context.Context, coinID string, ts time.Time, active []*models.ActiveModel) []models.PredictionResult {
	if len(active) == 0 {
		return nil
	}
	at := ts
	if at.IsZero() {
		at = time.Now().UTC()
	}
	point, err := e.store.LatestPoint(ctx, coinID, at)
	if err != nil {
		e.logger.Warn("latest point lookup failed", logger.String("coin_id", coinID), logger.Error(err))
	}
	if ts.IsZero() && point != nil {
		ts = point.Timestamp
	} else if ts.IsZero() {
		ts = at
	}
	var phase *int
	if point != nil {
		phase = point.PhaseID
	}

	out := make([]*models.PredictionResult, len(active))
	errs := make([]error, len(active))
	var wg sync.WaitGroup
	for i, a := range active {
		wg.Add(1)
		go func(i int, a *models.ActiveModel) {
			defer wg.Done()
			start := time.Now()
			out[i], errs[i] = e.predictOne(ctx, a, coinID, ts, phase)
			e.metrics.RecordLatency("predict_model", time.Since(start).Seconds())
		}(i, a)
	}
	wg.Wait()

	var results []models.PredictionResult
	failed := 0
	for i, a := range active {
		switch err := errs[i]; {
		case err == nil:
			results = append(results, *out[i])
			e.metrics.RecordPrediction(a.Name, "ok")
		case errors.Is(err, errSkipped):
			e.metrics.RecordPrediction(a.Name, "skipped")
		default:
			failed++
			e.metrics.RecordPrediction(a.Name, "error")
			e.logger.Warn("model prediction dropped",
				logger.Int64("active_model_id", a.ID),
				logger.String("model_id", a.ModelID),
				logger.String("coin_id", coinID),
				logger.Error(err),
			)
		}
	}
	if failed == len(active) {
		e.logger.Critical("every active model failed",
			logger.String("coin_id", coinID),
			logger.Int("models", len(active)),
		)
	}
	return results
}

func (e *PredictionEngine) predictOne(ctx context.Context, a *models.ActiveModel, coinID string, ts time.Time, phase *int) (res *models.PredictionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("prediction task panicked",
				logger.Int64("active_model_id", a.ID),
				logger.String("stack", string(debug.Stack())),
			)
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	if !a.AcceptsPhase(phase) {
		return nil, errSkipped
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	clf, art, err := e.loader.Load(ctx, a)
	if err != nil {
		return nil, err
	}
	frame, err := e.assembler.BuildInference(ctx, coinID, ts, a.FeatureConfig)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(frame.Columns, art.Features) {
		return nil, models.NewFeatureError("feature mismatch: frame %v, artifact %v", frame.Columns, art.Features)
	}
	i := frame.LatestAtOrBefore(coinID, ts)
	if i < 0 {
		return nil, models.NewFeatureError("insufficient history for %s up to %s", coinID, ts.Format(time.RFC3339))
	}

	X := [][]float64{frame.Row(i)}
	p := &models.Prediction{
		ActiveModelID: a.ID,
		ModelID:       a.ModelID,
		CoinID:        coinID,
		Label:         clf.Predict(X)[0],
		Probability:   clf.PredictProba(X)[0][1],
		DataTimestamp: frame.Keys[i].Timestamp,
	}
	created, err := e.predictions.Insert(ctx, p)
	if err != nil {
		return nil, err
	}
	return &models.PredictionResult{
		Prediction: *p,
		ModelName:  a.Name,
		IsAlert:    p.Probability >= a.AlertThreshold,
		IsNew:      created,
	}, nil
}
