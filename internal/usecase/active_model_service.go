package usecase

import (
	"context"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/pkg/logger"
)

const DefaultAlertThreshold = 0.7

// ModelSource is the training service as seen by the prediction side.
type ModelSource interface {
	GetModel(ctx context.Context, modelID string) (*models.TrainedModel, error)
}

// ArtifactFetcher copies a model's artifact to local storage and returns its path.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, modelID string) (string, error)
}

// Refresher is notified after every mutation so the prediction snapshot follows.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ActiveModelService manages the runtime policy of imported models.
type ActiveModelService struct {
	repo      domrepo.ActiveModelRepository
	source    ModelSource
	fetcher   ArtifactFetcher
	refresher Refresher
	logger    *logger.Logger
}

func NewActiveModelService(repo domrepo.ActiveModelRepository, source ModelSource, fetcher ArtifactFetcher, refresher Refresher, lgr *logger.Logger) *ActiveModelService {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &ActiveModelService{repo: repo, source: source, fetcher: fetcher, refresher: refresher, logger: lgr}
}

// Import copies a ready trained model and its artifact into the prediction registry.
func (s *ActiveModelService) Import(ctx context.Context, req *models.ImportModelRequest) (*models.ActiveModel, error) {
	tm, err := s.source.GetModel(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}
	if tm.Status != models.ModelReady {
		return nil, models.NewValidationError("model_id", "model %s is %s, not ready", tm.ID, tm.Status)
	}

	a := &models.ActiveModel{
		ModelID:                tm.ID,
		Name:                   tm.Name,
		Kind:                   tm.Kind,
		FeatureConfig:          tm.FeatureConfig,
		Label:                  tm.Label,
		Phases:                 tm.Phases,
		IsActive:               req.Activate,
		AlertThreshold:         DefaultAlertThreshold,
		SendMode:               req.SendMode,
		CoinFilterMode:         req.CoinFilterMode,
		CoinWhitelist:          req.CoinWhitelist,
		MinScanIntervalSeconds: req.MinScanIntervalSeconds,
		WebhookURL:             req.WebhookURL,
		WebhookEnabled:         req.WebhookEnabled,
	}
	if req.AlertThreshold != nil {
		a.AlertThreshold = *req.AlertThreshold
	}
	if len(a.SendMode) == 0 {
		a.SendMode = []models.SendMode{models.SendAlertsOnly}
	}
	if a.CoinFilterMode == "" {
		a.CoinFilterMode = models.CoinFilterAll
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	path, err := s.fetcher.Fetch(ctx, tm.ID)
	if err != nil {
		return nil, err
	}
	a.LocalModelPath = path
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("model imported",
		logger.Int64("active_model_id", a.ID),
		logger.String("model_id", a.ModelID),
		logger.String("path", path),
		logger.Bool("active", a.IsActive),
	)
	s.changed(ctx)
	return a, nil
}

func (s *ActiveModelService) List(ctx context.Context, activeOnly bool) ([]*models.ActiveModel, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *ActiveModelService) Get(ctx context.Context, id int64) (*models.ActiveModel, error) {
	return s.repo.Get(ctx, id)
}

func (s *ActiveModelService) Activate(ctx context.Context, id int64) (*models.ActiveModel, error) {
	return s.setActive(ctx, id, true)
}

func (s *ActiveModelService) Deactivate(ctx context.Context, id int64) (*models.ActiveModel, error) {
	return s.setActive(ctx, id, false)
}

func (s *ActiveModelService) setActive(ctx context.Context, id int64, active bool) (*models.ActiveModel, error) {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	s.logger.Info("active model toggled", logger.Int64("active_model_id", id), logger.Bool("active", active))
	s.changed(ctx)
	return s.repo.Get(ctx, id)
}

// UpdateConfig applies a partial policy change after validating the merged result.
func (s *ActiveModelService) UpdateConfig(ctx context.Context, id int64, req *models.UpdateActiveConfigRequest) (*models.ActiveModel, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := req.Patch().Apply(*cur)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateConfig(ctx, &next); err != nil {
		return nil, err
	}
	s.logger.Info("active model config updated", logger.Int64("active_model_id", id))
	s.changed(ctx)
	return &next, nil
}

// Delete removes the registry row. The local artifact stays since another import of the
// same model shares it.
func (s *ActiveModelService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("active model deleted", logger.Int64("active_model_id", id))
	s.changed(ctx)
	return nil
}

func (s *ActiveModelService) changed(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Warn("active snapshot refresh failed", logger.Error(err))
	}
}
