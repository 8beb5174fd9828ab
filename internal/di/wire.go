//go:build wireinject
// +build wireinject

package di

import (
	domrepo "CoinPulse/internal/domain/repository"
	internalrepo "CoinPulse/internal/repository"
	"CoinPulse/internal/service/artifact"
	"CoinPulse/internal/service/notifier"
	"CoinPulse/internal/services/training"
	"CoinPulse/internal/usecase"
	"CoinPulse/pkg/config"
	"CoinPulse/pkg/metrics"
	"CoinPulse/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvidePostgresClient,
	ProvideClickHouseClient,
	ProvideMetricsStore,
	ProvideCache,
	ProvideAssembler,
	wire.Bind(new(domrepo.Metrics), new(*metrics.Recorder)),
	wire.Bind(new(domrepo.MetricsStore), new(*internalrepo.CoinMetricsStore)),
)

// InitializeTrainingApp wires the training service.
func InitializeTrainingApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,

		// Repositories
		internalrepo.NewModelRepository,
		internalrepo.NewJobRepository,
		wire.Bind(new(domrepo.ModelRepository), new(*internalrepo.ModelRepository)),
		wire.Bind(new(domrepo.JobRepository), new(*internalrepo.JobRepository)),

		// Use cases
		ProvideTrainingEngine,
		usecase.NewJobService,
		usecase.NewModelService,
		ProvideWorker,
		ProvideStuckMonitor,

		ProvideTrainingHandler,
		ProvideTrainingApp,
	)
	return &server.App{}, nil
}

// InitializePredictionApp wires the prediction service.
func InitializePredictionApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,

		// Repositories
		internalrepo.NewActiveModelRepository,
		internalrepo.NewPredictionRepository,
		internalrepo.NewAlertRepository,
		wire.Bind(new(domrepo.ActiveModelRepository), new(*internalrepo.ActiveModelRepository)),

		// Artifacts and delivery
		ProvideTrainingClient,
		ProvideArtifactLoader,
		ProvideNotifier,
		wire.Bind(new(domrepo.Notifier), new(*notifier.Multi)),
		wire.Bind(new(usecase.ModelSource), new(*training.Client)),
		wire.Bind(new(usecase.ArtifactFetcher), new(*artifact.Loader)),
		wire.Bind(new(usecase.Refresher), new(*usecase.PredictionService)),

		// Use cases
		ProvidePredictionEngine,
		ProvideAlertEvaluator,
		usecase.NewDispatchGate,
		ProvidePredictionService,
		usecase.NewActiveModelService,

		// Event sources
		ProvideEventPipeline,
		ProvideKafkaConsumer,
		ProvideStreamCollector,

		ProvidePredictionHandler,
		ProvidePredictionApp,
	)
	return &server.App{}, nil
}
