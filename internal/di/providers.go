package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"CoinPulse/internal/handler/api"
	mid "CoinPulse/internal/middleware"
	internalrepo "CoinPulse/internal/repository"
	"CoinPulse/internal/service/artifact"
	svcmetrics "CoinPulse/internal/service/metrics"
	"CoinPulse/internal/service/notifier"
	"CoinPulse/internal/service/ratelimit"
	"CoinPulse/internal/service/stream"
	"CoinPulse/internal/services/features"
	"CoinPulse/internal/services/training"
	"CoinPulse/internal/usecase"
	"CoinPulse/pkg/cache"
	pkgch "CoinPulse/pkg/clickhouse"
	"CoinPulse/pkg/config"
	xhttp "CoinPulse/pkg/http"
	pkgkafka "CoinPulse/pkg/kafka"
	"CoinPulse/pkg/logger"
	"CoinPulse/pkg/metrics"
	"CoinPulse/pkg/postgres"
	"CoinPulse/pkg/queue"
	"CoinPulse/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

const (
	predictBurst      = 20
	predictRefillRate = 5
)

// ProvideLogger builds the service logger with an error collector attached before any
// child logger is derived. Aggregated errors go to the logs topic when one is set.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	lgr, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	col := &logger.CollectionConfig{TimeInterval: time.Minute, RecentSize: 20}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		col.Publisher = producer
		col.Topic = cfg.Kafka.LogsTopic
	}
	lgr.AddCollector(col)
	return lgr.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics registers the service collectors on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvidePostgresClient connects to Postgres and applies the schema.
func ProvidePostgresClient(cfg *config.Config, lgr *logger.Logger) (*postgres.Client, error) {
	client, err := postgres.NewClient(
		postgres.WithDSN(cfg.Postgres.DSN),
		postgres.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
		postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		postgres.WithConnectRetry(cfg.Postgres.ConnectAttempts, cfg.Postgres.ConnectBackoff),
		postgres.WithLogger(lgr),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.Schema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return client, nil
}

// ProvideClickHouseClient creates a ClickHouse client. The metrics table is owned by the
// ingestion side, so no schema is applied here.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

func ProvideMetricsStore(ch *pkgch.Client, cfg *config.Config, lgr *logger.Logger) *internalrepo.CoinMetricsStore {
	return internalrepo.NewCoinMetricsStore(ch, cfg.ClickHouse.Table, lgr)
}

// ProvideCache returns Redis when enabled and an in-process cache otherwise. Locks held
// in the in-process cache only coordinate a single replica.
func ProvideCache(cfg *config.Config, lgr *logger.Logger) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		lgr.Info("redis disabled, using in-memory cache")
		return cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Redis.MemoryMaxSize),
			cache.WithMemoryCleanup(cfg.Redis.MemoryCleanup),
		), nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

func ProvideAssembler(store *internalrepo.CoinMetricsStore, cfg *config.Config, lgr *logger.Logger) *features.Assembler {
	return features.NewAssembler(store, lgr, features.WithMinRowsPerCoin(cfg.Training.MinRowsPerCoin))
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// Training service

func ProvideTrainingEngine(assembler *features.Assembler, repo *internalrepo.ModelRepository, cfg *config.Config, lgr *logger.Logger) *usecase.TrainingEngine {
	return usecase.NewTrainingEngine(assembler, repo, cfg.Training.ModelStoragePath, lgr)
}

// ProvideWorker builds the job worker with a handler per job type.
func ProvideWorker(cfg *config.Config, jobs *internalrepo.JobRepository, engine *usecase.TrainingEngine, rec *metrics.Recorder, lgr *logger.Logger) *queue.Worker {
	w := queue.NewWorker(jobs, lgr,
		queue.WithConcurrency(cfg.Training.MaxConcurrentJobs),
		queue.WithPollInterval(cfg.Training.JobPollInterval),
		queue.WithMetrics(rec),
	)
	w.Register(
		usecase.NewTrainJobHandler(engine),
		usecase.NewTestJobHandler(engine),
		usecase.NewCompareJobHandler(engine),
	)
	return w
}

func ProvideStuckMonitor(jobs *internalrepo.JobRepository, rec *metrics.Recorder, cfg *config.Config, lgr *logger.Logger) *usecase.StuckMonitor {
	return usecase.NewStuckMonitor(jobs, rec, cfg.Training.StuckThreshold, lgr)
}

func ProvideTrainingHandler(lgr *logger.Logger, jobs *usecase.JobService, registry *usecase.ModelService, c cache.Service) *api.TrainingHandler {
	h := api.NewTrainingHandler(lgr, jobs, registry)
	h.SetCache(c)
	return h
}

// ProvideTrainingApp assembles the training service: HTTP API, job worker and stuck-job
// monitor.
func ProvideTrainingApp(
	cfg *config.Config,
	lgr *logger.Logger,
	pg *postgres.Client,
	ch *pkgch.Client,
	c cache.Service,
	producer *pkgkafka.Producer,
	worker *queue.Worker,
	monitor *usecase.StuckMonitor,
	handler *api.TrainingHandler,
) (*server.App, error) {
	health := api.NewHealthHandler(lgr, pg, func() map[string]any {
		stuck, running := monitor.Counts()
		return map[string]any{
			"running_jobs":       worker.Running(),
			"max_workers":        cfg.Training.MaxConcurrentJobs,
			"stuck_jobs":         stuck,
			"queue_running_jobs": running,
		}
	})
	gauges := svcmetrics.TrainingGauges(worker.Running, func() int {
		stuck, _ := monitor.Counts()
		return stuck
	})
	if err := svcmetrics.RegisterGauges(prometheus.DefaultRegisterer, "training", gauges...); err != nil {
		return nil, fmt.Errorf("register gauges: %w", err)
	}

	srv := newHTTPServer(cfg, lgr, handler, health)
	app := server.New("training", lgr, srv,
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		server.WithComponent(worker),
		server.WithComponent(monitor),
	)
	addClosers(app, lgr, producer, pg, ch, c)
	return app, nil
}

// Prediction service

func ProvideTrainingClient(cfg *config.Config) *training.Client {
	return training.NewClient(cfg.Prediction.TrainingServiceURL, cfg.Prediction.RecoveryTimeout)
}

func ProvideArtifactLoader(cfg *config.Config, client *training.Client, active *internalrepo.ActiveModelRepository, lgr *logger.Logger) *artifact.Loader {
	c := artifact.NewCache(cfg.Prediction.ArtifactCacheSize)
	return artifact.NewLoader(c, client, active, cfg.Training.ModelStoragePath, cfg.Prediction.RecoveryTimeout, lgr)
}

// ProvideNotifier fans a dispatch out to the model's webhook and, with Kafka enabled,
// to the alerts topic.
func ProvideNotifier(cfg *config.Config, producer *pkgkafka.Producer, lgr *logger.Logger) *notifier.Multi {
	m := notifier.NewMulti(lgr).Add("webhook", notifier.NewWebhook(cfg.Dispatch.WebhookTimeout))
	if producer != nil && cfg.Kafka.AlertsTopic != "" {
		m.Add("kafka", notifier.NewKafka(producer, cfg.Kafka.AlertsTopic))
	}
	return m
}

func ProvidePredictionEngine(
	assembler *features.Assembler,
	store *internalrepo.CoinMetricsStore,
	loader *artifact.Loader,
	preds *internalrepo.PredictionRepository,
	rec *metrics.Recorder,
	cfg *config.Config,
	lgr *logger.Logger,
) *usecase.PredictionEngine {
	return usecase.NewPredictionEngine(assembler, store, loader, preds, rec, cfg.Prediction.ModelTimeout, lgr)
}

func ProvideAlertEvaluator(alerts *internalrepo.AlertRepository, store *internalrepo.CoinMetricsStore, c cache.Service, rec *metrics.Recorder, cfg *config.Config, lgr *logger.Logger) *usecase.AlertEvaluator {
	return usecase.NewAlertEvaluator(alerts, store, c, rec, usecase.AlertConfig{
		Horizon:  cfg.Alerts.DefaultHorizon,
		Grace:    cfg.Alerts.Grace,
		Interval: cfg.Alerts.SweepInterval,
		Batch:    cfg.Alerts.BatchSize,
	}, lgr)
}

func ProvidePredictionService(
	engine *usecase.PredictionEngine,
	active *internalrepo.ActiveModelRepository,
	preds *internalrepo.PredictionRepository,
	alerts *usecase.AlertEvaluator,
	gate *usecase.DispatchGate,
	loader *artifact.Loader,
	rec *metrics.Recorder,
	cfg *config.Config,
	lgr *logger.Logger,
) *usecase.PredictionService {
	return usecase.NewPredictionService(engine, active, preds, alerts, gate, loader, rec, cfg.Prediction.ActiveRefreshInterval, lgr)
}

// ProvideEventPipeline throttles and buffers metric events ahead of the prediction service.
func ProvideEventPipeline(svc *usecase.PredictionService, rec *metrics.Recorder, cfg *config.Config, lgr *logger.Logger) *mid.EventPipeline {
	return mid.NewEventPipeline(svc, rec,
		mid.WithMinInterval(cfg.Prediction.MinEventInterval),
		mid.WithBufferSize(cfg.Prediction.EventBufferSize),
		mid.WithPipelineLogger(lgr),
	)
}

// ProvideKafkaConsumer subscribes the pipeline to the coin-metrics topic. It returns nil
// when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, pipe *mid.EventPipeline, rec *metrics.Recorder, lgr *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(lgr),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewMetricEventHandler(cfg.Kafka.MetricsTopic, pipe, rec))
	consumer.WithHook(pkgkafka.HookFuncs{
		Err: func(_ context.Context, topic string, km kafka.Message, err error) {
			rec.RecordError("kafka_handle")
			lgr.Warn("metric event handling failed",
				logger.String("topic", topic),
				logger.Int("partition", km.Partition),
				logger.Int64("offset", km.Offset),
				logger.Error(err),
			)
		},
	})
	return consumer, nil
}

// ProvideStreamCollector reads the websocket feed when configured, nil otherwise.
func ProvideStreamCollector(cfg *config.Config, pipe *mid.EventPipeline, rec *metrics.Recorder, lgr *logger.Logger) *usecase.StreamCollector {
	sc := cfg.Prediction.Stream
	if !sc.Enabled || sc.URL == "" {
		return nil
	}
	client := stream.New(sc.URL, sc.CoinIDs, sc.ReconnectDelay, sc.PingInterval, lgr)
	return usecase.NewStreamCollector(client, pipe, rec, lgr)
}

func ProvidePredictionHandler(lgr *logger.Logger, active *usecase.ActiveModelService, svc *usecase.PredictionService, alerts *usecase.AlertEvaluator) *api.PredictionHandler {
	h := api.NewPredictionHandler(lgr, active, svc, alerts)
	h.SetLimiter(ratelimit.New(predictBurst, predictRefillRate))
	return h
}

// ProvidePredictionApp assembles the prediction service. Components start in order: the
// snapshot first, then the pipeline, then the event sources feeding it.
func ProvidePredictionApp(
	cfg *config.Config,
	lgr *logger.Logger,
	pg *postgres.Client,
	ch *pkgch.Client,
	c cache.Service,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	collector *usecase.StreamCollector,
	pipe *mid.EventPipeline,
	svc *usecase.PredictionService,
	alerts *usecase.AlertEvaluator,
	loader *artifact.Loader,
	handler *api.PredictionHandler,
) (*server.App, error) {
	activeCount := func() int { return len(svc.Active()) }
	health := api.NewHealthHandler(lgr, pg, func() map[string]any {
		return map[string]any{
			"active_models":    activeCount(),
			"cached_artifacts": loader.CachedArtifacts(),
			"buffered_events":  pipe.Buffered(),
			"kafka_enabled":    consumer != nil,
			"stream_enabled":   collector != nil,
		}
	})
	gauges := svcmetrics.PredictionGauges(activeCount, loader.CachedArtifacts, pipe.Buffered)
	if err := svcmetrics.RegisterGauges(prometheus.DefaultRegisterer, "prediction", gauges...); err != nil {
		return nil, fmt.Errorf("register gauges: %w", err)
	}

	srv := newHTTPServer(cfg, lgr, handler, health)
	app := server.New("prediction", lgr, srv,
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		server.WithComponent(svc),
		server.WithComponent(alerts),
		server.WithComponent(pipe),
	)
	if consumer != nil {
		app.Add(server.WithComponent(pkgkafka.Component{Consumer: consumer}))
	}
	if collector != nil {
		app.Add(server.WithComponent(collector))
	}
	addClosers(app, lgr, producer, pg, ch, c)
	return app, nil
}

func newHTTPServer(cfg *config.Config, lgr *logger.Logger, handlers ...xhttp.Handler) *xhttp.Server {
	return xhttp.NewServer(lgr, handlers,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORSOrigins),
	)
}

// addClosers registers the shared infrastructure. Closers run in reverse order, so the
// log collector flushes before the producer closes.
func addClosers(app *server.App, lgr *logger.Logger, producer *pkgkafka.Producer, pg *postgres.Client, ch *pkgch.Client, c cache.Service) {
	if producer != nil {
		app.Add(server.WithCloser("kafka-producer", producer.Close))
	}
	app.Add(
		server.WithCloser("postgres", pg.Close),
		server.WithCloser("clickhouse", ch.Close),
	)
	if cl, ok := c.(io.Closer); ok {
		app.Add(server.WithCloser("cache", cl.Close))
	}
	app.Add(server.WithCloser("log-collector", func() error {
		lgr.RemoveCollector()
		return nil
	}))
}
