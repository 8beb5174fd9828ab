package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"CoinPulse/pkg/logger"

	"golang.org/x/sync/semaphore"
)

// Worker polls a Store and runs at most `concurrency` jobs at a time.
// Running jobs are not cancelled on Stop; Stop waits for them.
type Worker struct {
	store        Store
	logger       *logger.Logger
	metrics      Metrics
	handlers     map[string]Handler
	concurrency  int64
	pollInterval time.Duration
	storeTimeout time.Duration

	sem     *semaphore.Weighted
	running atomic.Int64
	wg      sync.WaitGroup
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// WorkerOption configures Worker.
type WorkerOption func(*Worker)

func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = int64(n)
		}
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithMetrics(m Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(store Store, lgr *logger.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:        store,
		logger:       lgr,
		handlers:     make(map[string]Handler),
		concurrency:  2,
		pollInterval: 5 * time.Second,
		storeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.sem = semaphore.NewWeighted(w.concurrency)
	return w
}

// Register adds handlers. A second handler for the same type is ignored.
func (w *Worker) Register(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if _, exists := w.handlers[h.Type()]; exists {
			w.logger.Warn("job handler already registered", logger.String("type", h.Type()))
			continue
		}
		w.handlers[h.Type()] = h
		w.logger.Info("job handler registered", logger.String("type", h.Type()))
	}
}

// Running returns the number of jobs in flight.
func (w *Worker) Running() int { return int(w.running.Load()) }

func (w *Worker) Name() string { return "job-worker" }

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("worker already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx)
	w.logger.Info("job worker started",
		logger.Int64("concurrency", w.concurrency),
		logger.Duration("poll_interval_ms", w.pollInterval))
	return nil
}

// Stop halts polling and waits for running jobs until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	waitCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
		w.logger.Info("job worker stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("timeout waiting for running jobs", logger.Int("running", w.Running()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll claims jobs while slots are free. It returns the number of jobs started.
func (w *Worker) Poll(ctx context.Context) int {
	started := 0
	for ctx.Err() == nil && w.sem.TryAcquire(1) {
		msg, err := w.store.Claim(ctx)
		if err != nil {
			w.sem.Release(1)
			if ctx.Err() == nil {
				w.logger.Error("claim job failed", logger.Error(err))
			}
			return started
		}
		if msg == nil {
			w.sem.Release(1)
			return started
		}
		started++
		w.wg.Add(1)
		w.setRunning(w.running.Add(1))
		// Jobs outlive the poll loop: once running they finish or fail.
		go w.run(context.WithoutCancel(ctx), msg)
	}
	return started
}

// Wait blocks until every started job has finished.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) run(ctx context.Context, msg *Message) {
	start := time.Now()
	status := "completed"
	defer func() {
		w.setRunning(w.running.Add(-1))
		w.sem.Release(1)
		w.wg.Done()
		if w.metrics != nil {
			w.metrics.RecordJob(msg.Type, status, time.Since(start).Seconds())
		}
	}()

	log := w.logger.With(logger.String("job_id", msg.ID), logger.String("type", msg.Type))
	log.Info("job started")

	res, err := w.handle(ctx, msg)
	if err != nil {
		status = "failed"
		log.Warn("job failed", logger.Error(err), logger.Duration("elapsed_ms", time.Since(start)))
		w.storeCall(ctx, log, "fail", func(c context.Context) error {
			return w.store.Fail(c, msg.ID, err.Error())
		})
		return
	}

	log.Info("job completed", logger.Duration("elapsed_ms", time.Since(start)))
	w.storeCall(ctx, log, "complete", func(c context.Context) error {
		return w.store.Complete(c, msg.ID, res)
	})
}

func (w *Worker) handle(ctx context.Context, msg *Message) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked",
				logger.String("job_id", msg.ID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	w.mu.Lock()
	h, ok := w.handlers[msg.Type]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no handler for job type %q", msg.Type)
	}

	progress := func(c context.Context, p float64, m string) {
		w.storeCall(c, w.logger, "progress", func(sc context.Context) error {
			return w.store.Progress(sc, msg.ID, p, m)
		})
	}
	return h.Handle(ctx, msg, progress)
}

func (w *Worker) storeCall(ctx context.Context, log *logger.Logger, op string, fn func(context.Context) error) {
	c, cancel := context.WithTimeout(ctx, w.storeTimeout)
	defer cancel()
	if err := fn(c); err != nil {
		log.Error("job store update failed", logger.String("op", op), logger.Error(err))
	}
}

func (w *Worker) setRunning(n int64) {
	if w.metrics != nil {
		w.metrics.SetRunningJobs(int(n))
	}
}
