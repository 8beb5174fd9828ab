package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/internal/services/ml"
	"CoinPulse/pkg/logger"
)

// ModelService is the training-side registry API.
type ModelService struct {
	models domrepo.ModelRepository
	store  domrepo.MetricsStore
	logger *logger.Logger
}

func NewModelService(repo domrepo.ModelRepository, store domrepo.MetricsStore, lgr *logger.Logger) *ModelService {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &ModelService{models: repo, store: store, logger: lgr}
}

func (s *ModelService) Get(ctx context.Context, id string) (*models.TrainedModel, error) {
	return s.models.Get(ctx, id)
}

func (s *ModelService) List(ctx context.Context, f models.ModelFilter) ([]*models.TrainedModel, int64, error) {
	return s.models.List(ctx, f)
}

// Artifact returns the raw artifact bytes of a ready model.
func (s *ModelService) Artifact(ctx context.Context, id string) ([]byte, error) {
	m, err := s.models.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != models.ModelReady || m.ArtifactPath == "" {
		return nil, models.NewValidationError("id", "model %s is %s, no artifact", id, m.Status)
	}
	b, err := os.ReadFile(m.ArtifactPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &models.ArtifactMissingError{ModelID: id, Path: m.ArtifactPath, Err: models.NewNotFoundError("artifact", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", id, err)
	}
	return b, nil
}

// Delete removes the registry row and then the artifact file.
func (s *ModelService) Delete(ctx context.Context, id string) error {
	m, err := s.models.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.models.Delete(ctx, id); err != nil {
		return err
	}
	if m.ArtifactPath != "" {
		if err := ml.RemoveArtifact(m.ArtifactPath); err != nil {
			s.logger.Warn("artifact removal failed", logger.String("model_id", id), logger.Error(err))
		}
	}
	s.logger.Info("model deleted", logger.String("model_id", id))
	return nil
}

func (s *ModelService) Availability(ctx context.Context) (*models.DataAvailability, error) {
	return s.store.Availability(ctx)
}
