package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/internal/services/features"
	"CoinPulse/internal/services/ml"
	"CoinPulse/pkg/logger"
	"CoinPulse/pkg/queue"

	"github.com/google/uuid"
)

// Training progress stages.
const (
	stageLoading     = 0.1
	stageEngineering = 0.3
	stageLabelling   = 0.4
	stageFitting     = 0.6
	stageEvaluating  = 0.85
	stagePersisting  = 0.95
	stageDone        = 1.0
)

// TrainingEngine fits, scores and persists classifiers.
type TrainingEngine struct {
	assembler  *features.Assembler
	models     domrepo.ModelRepository
	storageDir string
	logger     *logger.Logger
}

func NewTrainingEngine(assembler *features.Assembler, repo domrepo.ModelRepository, storageDir string, lgr *logger.Logger) *TrainingEngine {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &TrainingEngine{assembler: assembler, models: repo, storageDir: storageDir, logger: lgr}
}

func noProgress(context.Context, float64, string) {}

// Train runs the whole pipeline for a validated request. The model row is created
// pending before any work so a failure is recorded against a model id.
func (e *TrainingEngine) Train(ctx context.Context, req *models.CreateModelRequest, progress queue.ProgressFunc) (*models.TrainResult, error) {
	if progress == nil {
		progress = noProgress
	}
	rule := req.LabelRule()
	cfg := req.FeatureConfig()
	cfg.Features = features.FeatureColumns(cfg.Features, rule)

	m := &models.TrainedModel{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		Kind:               req.ModelType,
		Status:             models.ModelPending,
		Params:             req.Params,
		Label:              rule,
		FeatureConfig:      cfg,
		Phases:             req.Phases,
		UseSMOTE:           req.UseSMOTE,
		UseTimeseriesSplit: req.UseTimeseriesSplit,
		CVSplits:           req.CVSplits,
		TrainStart:         req.TrainStart.Time,
		TrainEnd:           req.TrainEnd.Time,
	}
	if err := e.models.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create model row: %w", err)
	}
	lgr := e.logger.With(logger.String("model_id", m.ID), logger.String("model_type", string(m.Kind)))
	lgr.Info("training started", logger.Strings("features", cfg.Features))

	res, err := e.train(ctx, m, progress)
	if err != nil {
		lgr.Error("training failed", logger.Error(err))
		if ferr := e.models.MarkFailed(context.WithoutCancel(ctx), m.ID, err.Error()); ferr != nil {
			lgr.Error("mark model failed", logger.Error(ferr))
		}
		return nil, err
	}
	lgr.Info("training finished",
		logger.Float64("accuracy", res.Metrics.Accuracy),
		logger.Float64("f1", res.Metrics.F1),
		logger.Int("test_size", res.Metrics.TestSize),
	)
	return res, nil
}

func (e *TrainingEngine) train(ctx context.Context, m *models.TrainedModel, progress queue.ProgressFunc) (*models.TrainResult, error) {
	if len(m.Features) == 0 {
		return nil, &models.TrainingError{Stage: "features", Err: models.NewFeatureError("no features left after removing the label target")}
	}
	if _, err := ml.New(m.Kind, m.Params); err != nil {
		return nil, &models.TrainingError{Stage: "params", Err: err}
	}

	progress(ctx, stageLoading, "loading metrics")
	frame, err := e.assembler.Build(ctx, features.Request{
		From:   m.TrainStart,
		To:     m.TrainEnd,
		Phases: m.Phases,
		Config: m.FeatureConfig,
		Aux:    features.LabelColumns(m.Label),
	})
	if err != nil {
		return nil, &models.TrainingError{Stage: "features", Err: err}
	}
	progress(ctx, stageEngineering, fmt.Sprintf("engineered %d rows", frame.Len()))

	progress(ctx, stageLabelling, "synthesising labels")
	ds, err := features.BuildDataset(frame, m.Label)
	if err != nil {
		return nil, &models.TrainingError{Stage: "labels", Err: err}
	}

	pos := ds.Positives()
	e.logger.Info("labelled dataset",
		logger.String("model_id", m.ID),
		logger.Int("rows", ds.Len()),
		logger.Int("positives", pos),
		logger.Int("negatives", ds.Len()-pos),
	)
	progress(ctx, stageFitting, fmt.Sprintf("fitting on %d rows, %d positive", ds.Len(), pos))
	clf, metrics, err := e.fit(m, ds)
	if err != nil {
		return nil, &models.TrainingError{Stage: "fit", Err: err}
	}
	progress(ctx, stageEvaluating, "evaluating")

	progress(ctx, stagePersisting, "writing artifact")
	art, err := ml.NewArtifact(m.ID, ds.Features, clf)
	if err != nil {
		return nil, &models.TrainingError{Stage: "persist", Err: err}
	}
	path := ml.ArtifactPath(e.storageDir, m.ID)
	if err := ml.WriteArtifact(path, art); err != nil {
		return nil, &models.TrainingError{Stage: "persist", Err: err}
	}
	if err := e.models.MarkReady(ctx, m.ID, path, m.Features, metrics); err != nil {
		_ = ml.RemoveArtifact(path)
		return nil, &models.TrainingError{Stage: "persist", Err: err}
	}
	progress(ctx, stageDone, "done")

	return &models.TrainResult{ModelID: m.ID, Features: ds.Features, Metrics: metrics}, nil
}

// fit splits, optionally oversamples the training side and fits. With a time-series
// split every fold is scored and the last fold's model is kept.
func (e *TrainingEngine) fit(m *models.TrainedModel, ds *features.Dataset) (ml.Classifier, *models.EvalMetrics, error) {
	seed, err := ml.Params(m.Params).Seed()
	if err != nil {
		return nil, nil, err
	}

	if !m.UseTimeseriesSplit {
		fold, err := ml.StratifiedSplit(ds.Y, ml.DefaultTestFraction, rand.New(rand.NewSource(seed)))
		if err != nil {
			return nil, nil, err
		}
		return e.fitFold(m, ds.Subset(fold.Train), ds.Subset(fold.Test), seed)
	}

	order := ds.Chronological()
	folds, err := ml.TimeSeriesSplit(len(order), m.CVSplits)
	if err != nil {
		return nil, nil, err
	}
	var (
		clf    ml.Classifier
		last   *models.EvalMetrics
		scores []models.FoldScore
	)
	for i, f := range folds {
		train := ds.Subset(pick(order, f.Train))
		test := ds.Subset(pick(order, f.Test))
		clf, last, err = e.fitFold(m, train, test, seed)
		if err != nil {
			return nil, nil, fmt.Errorf("fold %d: %w", i, err)
		}
		scores = append(scores, ml.FoldScore(i, last, last.TrainSize))
	}
	last.CVScores = scores
	return clf, last, nil
}

func (e *TrainingEngine) fitFold(m *models.TrainedModel, train, test *features.Dataset, seed int64) (ml.Classifier, *models.EvalMetrics, error) {
	clf, err := ml.New(m.Kind, m.Params)
	if err != nil {
		return nil, nil, err
	}
	X, y := train.X, train.Y
	smote := m.UseSMOTE && ml.ShouldOversample(y)
	if smote {
		X, y = ml.SMOTE(X, y, rand.New(rand.NewSource(seed)))
	}
	if err := clf.Fit(X, y); err != nil {
		return nil, nil, err
	}
	metrics := ml.Evaluate(test.Y, clf.PredictProba(test.X))
	metrics.TrainSize = len(y)
	metrics.SMOTEApplied = smote
	return clf, metrics, nil
}

func pick(order, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = order[j]
	}
	return out
}

// Test re-scores a ready model on a new window with its own feature and label config.
func (e *TrainingEngine) Test(ctx context.Context, modelID string, start, end time.Time, progress queue.ProgressFunc) (*models.TestResult, error) {
	if progress == nil {
		progress = noProgress
	}
	m, err := e.models.Get(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.ModelReady {
		return nil, models.NewValidationError("model_id", "model %s is %s, not ready", modelID, m.Status)
	}
	art, err := ml.ReadArtifact(m.ArtifactPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &models.ArtifactMissingError{ModelID: m.ID, Path: m.ArtifactPath, Err: err}
	}
	if err != nil {
		return nil, err
	}
	clf, err := art.Classifier()
	if err != nil {
		return nil, err
	}

	progress(ctx, stageLoading, "loading metrics for "+modelID)
	frame, err := e.assembler.Build(ctx, features.Request{
		From:   start,
		To:     end,
		Phases: m.Phases,
		Config: m.FeatureConfig,
		Aux:    features.LabelColumns(m.Label),
	})
	if err != nil {
		return nil, err
	}
	progress(ctx, stageLabelling, "synthesising labels")
	ds, err := features.BuildDataset(frame, m.Label)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(ds.Features, art.Features) {
		return nil, models.NewFeatureError("feature mismatch: artifact has %v, frame has %v", art.Features, ds.Features)
	}

	progress(ctx, stageEvaluating, "scoring")
	metrics := ml.Evaluate(ds.Y, clf.PredictProba(ds.X))
	progress(ctx, stageDone, "done")
	return &models.TestResult{
		ModelID:   m.ID,
		TestStart: start,
		TestEnd:   end,
		Samples:   ds.Len(),
		Metrics:   metrics,
	}, nil
}

// Compare tests both models on the same window. Deltas are a minus b; the winner has the
// higher f1, then the higher accuracy, else "tie".
func (e *TrainingEngine) Compare(ctx context.Context, aID, bID string, start, end time.Time, progress queue.ProgressFunc) (*models.CompareResult, error) {
	if progress == nil {
		progress = noProgress
	}
	half := func(offset float64) queue.ProgressFunc {
		return func(ctx context.Context, p float64, msg string) { progress(ctx, offset+p/2, msg) }
	}
	a, err := e.Test(ctx, aID, start, end, half(0))
	if err != nil {
		return nil, fmt.Errorf("model a: %w", err)
	}
	b, err := e.Test(ctx, bID, start, end, half(0.5))
	if err != nil {
		return nil, fmt.Errorf("model b: %w", err)
	}
	return compareResults(a, b), nil
}

func compareResults(a, b *models.TestResult) *models.CompareResult {
	ma, mb := a.Metrics, b.Metrics
	res := &models.CompareResult{
		ModelA: *a,
		ModelB: *b,
		Deltas: map[string]float64{
			"accuracy":  ma.Accuracy - mb.Accuracy,
			"precision": ma.Precision - mb.Precision,
			"recall":    ma.Recall - mb.Recall,
			"f1":        ma.F1 - mb.F1,
			"roc_auc":   ma.ROCAUC - mb.ROCAUC,
		},
		Winner: "tie",
	}
	switch {
	case ma.F1 > mb.F1:
		res.Winner = a.ModelID
	case mb.F1 > ma.F1:
		res.Winner = b.ModelID
	case ma.Accuracy > mb.Accuracy:
		res.Winner = a.ModelID
	case mb.Accuracy > ma.Accuracy:
		res.Winner = b.ModelID
	}
	return res
}
