package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/internal/services/ml"
	"CoinPulse/pkg/logger"
	"CoinPulse/pkg/queue"

	"github.com/robfig/cron/v3"
)

// TrainJobHandler runs train jobs.
type TrainJobHandler struct{ engine *TrainingEngine }

func NewTrainJobHandler(e *TrainingEngine) *TrainJobHandler { return &TrainJobHandler{engine: e} }

func (h *TrainJobHandler) Type() string { return string(models.JobTrain) }

func (h *TrainJobHandler) Handle(ctx context.Context, msg *queue.Message, progress queue.ProgressFunc) (*queue.Result, error) {
	req, err := queue.ParsePayload[models.CreateModelRequest](msg.Payload)
	if err != nil {
		return nil, err
	}
	res, err := h.engine.Train(ctx, req, progress)
	if err != nil {
		return nil, err
	}
	return &queue.Result{ModelID: res.ModelID, Body: res}, nil
}

// TestJobHandler runs test jobs.
type TestJobHandler struct{ engine *TrainingEngine }

func NewTestJobHandler(e *TrainingEngine) *TestJobHandler { return &TestJobHandler{engine: e} }

func (h *TestJobHandler) Type() string { return string(models.JobTest) }

func (h *TestJobHandler) Handle(ctx context.Context, msg *queue.Message, progress queue.ProgressFunc) (*queue.Result, error) {
	req, err := queue.ParsePayload[models.TestModelRequest](msg.Payload)
	if err != nil {
		return nil, err
	}
	res, err := h.engine.Test(ctx, req.ModelID, req.TestStart.Time, req.TestEnd.Time, progress)
	if err != nil {
		return nil, err
	}
	return &queue.Result{Body: res}, nil
}

// CompareJobHandler runs compare jobs.
type CompareJobHandler struct{ engine *TrainingEngine }

func NewCompareJobHandler(e *TrainingEngine) *CompareJobHandler {
	return &CompareJobHandler{engine: e}
}

func (h *CompareJobHandler) Type() string { return string(models.JobCompare) }

func (h *CompareJobHandler) Handle(ctx context.Context, msg *queue.Message, progress queue.ProgressFunc) (*queue.Result, error) {
	req, err := queue.ParsePayload[models.CompareModelsRequest](msg.Payload)
	if err != nil {
		return nil, err
	}
	res, err := h.engine.Compare(ctx, req.ModelAID, req.ModelBID, req.TestStart.Time, req.TestEnd.Time, progress)
	if err != nil {
		return nil, err
	}
	return &queue.Result{Body: res}, nil
}

var (
	_ queue.Handler = (*TrainJobHandler)(nil)
	_ queue.Handler = (*TestJobHandler)(nil)
	_ queue.Handler = (*CompareJobHandler)(nil)
)

// JobService validates operator submissions before anything is queued.
type JobService struct {
	jobs   domrepo.JobRepository
	models domrepo.ModelRepository
	logger *logger.Logger
}

func NewJobService(jobs domrepo.JobRepository, repo domrepo.ModelRepository, lgr *logger.Logger) *JobService {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &JobService{jobs: jobs, models: repo, logger: lgr}
}

func (s *JobService) SubmitTrain(ctx context.Context, req *models.CreateModelRequest) (*models.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := ml.New(req.ModelType, req.Params); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, models.JobTrain, req.Priority, req)
}

func (s *JobService) SubmitTest(ctx context.Context, req *models.TestModelRequest) (*models.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireReady(ctx, "model_id", req.ModelID); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, models.JobTest, req.Priority, req)
}

func (s *JobService) SubmitCompare(ctx context.Context, req *models.CompareModelsRequest) (*models.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ModelAID == req.ModelBID {
		return nil, models.NewValidationError("model_b_id", "must differ from model_a_id")
	}
	if err := s.requireReady(ctx, "model_a_id", req.ModelAID); err != nil {
		return nil, err
	}
	if err := s.requireReady(ctx, "model_b_id", req.ModelBID); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, models.JobCompare, req.Priority, req)
}

func (s *JobService) enqueue(ctx context.Context, t models.JobType, priority int, payload any) (*models.Job, error) {
	job, err := s.jobs.Enqueue(ctx, t, priority, payload)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job queued",
		logger.String("job_id", job.ID),
		logger.String("job_type", string(t)),
		logger.Int("priority", priority),
	)
	return job, nil
}

func (s *JobService) requireReady(ctx context.Context, field, id string) error {
	m, err := s.models.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != models.ModelReady {
		return models.NewValidationError(field, "model %s is %s, not ready", id, m.Status)
	}
	return nil
}

func (s *JobService) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.jobs.Get(ctx, id)
}

func (s *JobService) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	if status != "" && !status.Valid() {
		return nil, models.NewValidationError("status", "unknown job status %q", status)
	}
	return s.jobs.List(ctx, status, limit)
}

// Cancel is only honoured while the job is pending.
func (s *JobService) Cancel(ctx context.Context, id string) error {
	if err := s.jobs.Cancel(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job cancelled", logger.String("job_id", id))
	return nil
}

// StuckMonitor surfaces running jobs without a progress update for longer than the
// threshold. It never cancels them.
type StuckMonitor struct {
	jobs      domrepo.JobRepository
	metrics   domrepo.Metrics
	logger    *logger.Logger
	threshold time.Duration
	cron      *cron.Cron

	stuck   atomic.Int64
	running atomic.Int64
}

func NewStuckMonitor(jobs domrepo.JobRepository, metrics domrepo.Metrics, threshold time.Duration, lgr *logger.Logger) *StuckMonitor {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	return &StuckMonitor{jobs: jobs, metrics: metrics, logger: lgr, threshold: threshold}
}

// Check counts stuck and running jobs once.
func (m *StuckMonitor) Check(ctx context.Context) (stuck int, err error) {
	jobs, err := m.jobs.Stuck(ctx, m.threshold)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		m.logger.Warn("job stuck",
			logger.String("job_id", j.ID),
			logger.String("job_type", string(j.Type)),
			logger.Float64("progress", j.Progress),
			logger.String("progress_msg", j.ProgressMsg),
			logger.Time("updated_at", j.UpdatedAt),
		)
	}
	m.metrics.SetStuckJobs(len(jobs))
	m.stuck.Store(int64(len(jobs)))

	if running, err := m.jobs.CountByStatus(ctx, models.JobRunning); err == nil {
		m.running.Store(running)
	}
	return len(jobs), nil
}

// Counts returns the last observed stuck and running job counts.
func (m *StuckMonitor) Counts() (stuck, running int) {
	return int(m.stuck.Load()), int(m.running.Load())
}

func (m *StuckMonitor) Name() string { return "stuck-job-monitor" }

func (m *StuckMonitor) Start(ctx context.Context) error {
	if _, err := m.Check(ctx); err != nil {
		m.logger.Warn("initial stuck job check failed", logger.Error(err))
	}
	m.cron = cron.New()
	_, err := m.cron.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := m.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("stuck job check failed", logger.Error(err))
		}
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

func (m *StuckMonitor) Stop(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	select {
	case <-m.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
