package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/internal/services/features"
	"CoinPulse/pkg/cache"
	"CoinPulse/pkg/logger"

	"github.com/robfig/cron/v3"
)

const (
	DefaultAlertHorizon  = 10 * time.Minute
	DefaultAlertGrace    = 15 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	DefaultSweepBatch    = 500

	sweepLockKey = "alert-sweep"
)

// AlertConfig tunes scheduling and the sweep.
type AlertConfig struct {
	Horizon  time.Duration
	Grace    time.Duration
	Interval time.Duration
	Batch    int
}

func (c *AlertConfig) setDefaults() {
	if c.Horizon <= 0 {
		c.Horizon = DefaultAlertHorizon
	}
	if c.Grace <= 0 {
		c.Grace = DefaultAlertGrace
	}
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.Batch <= 0 {
		c.Batch = DefaultSweepBatch
	}
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Due      int
	Resolved int
	Expired  int
	Pending  int
	Lost     int // resolved concurrently by another sweeper
	Skipped  bool
}

// AlertEvaluator schedules pending evaluations for high-probability predictions and
// resolves them once their horizon has passed.
type AlertEvaluator struct {
	alerts  domrepo.AlertRepository
	store   domrepo.MetricsStore
	locker  cache.Service
	metrics domrepo.Metrics
	logger  *logger.Logger
	cfg     AlertConfig
	now     func() time.Time
	cron    *cron.Cron
}

// NewAlertEvaluator builds an evaluator. locker may be nil; the sweep then relies on the
// pending-to-terminal compare-and-set alone.
func NewAlertEvaluator(alerts domrepo.AlertRepository, store domrepo.MetricsStore, locker cache.Service, metrics domrepo.Metrics, cfg AlertConfig, lgr *logger.Logger) *AlertEvaluator {
	if lgr == nil {
		lgr = logger.Nop()
	}
	cfg.setDefaults()
	return &AlertEvaluator{
		alerts:  alerts,
		store:   store,
		locker:  locker,
		metrics: metrics,
		logger:  lgr,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Schedule creates a pending evaluation when p crosses the model's alert threshold.
func (e *AlertEvaluator) Schedule(ctx context.Context, p *models.Prediction, a *models.ActiveModel) (bool, error) {
	if p.Probability < a.AlertThreshold {
		return false, nil
	}
	dir, minPct := models.DirectionUp, 0.0
	if a.Label.TimeBased {
		minPct = a.Label.MinPercentChange
		if a.Label.Direction != "" {
			dir = a.Label.Direction
		}
	}
	ev := &models.AlertEvaluation{
		PredictionID:        p.ID,
		ActiveModelID:       a.ID,
		ModelID:             a.ModelID,
		CoinID:              p.CoinID,
		PredictedLabel:      p.Label,
		Probability:         p.Probability,
		Direction:           dir,
		MinPercentChange:    minPct,
		AlertTimestamp:      p.DataTimestamp,
		EvaluationTimestamp: p.DataTimestamp.Add(a.Horizon(e.cfg.Horizon)),
		Status:              models.AlertPending,
	}
	created, err := e.alerts.CreatePending(ctx, ev)
	if err != nil {
		return false, err
	}
	if created {
		e.metrics.RecordAlert(string(models.AlertPending))
		e.logger.Info("alert scheduled",
			logger.Int64("prediction_id", p.ID),
			logger.String("coin_id", p.CoinID),
			logger.Float64("probability", p.Probability),
			logger.Time("evaluation_timestamp", ev.EvaluationTimestamp),
		)
	}
	return created, nil
}

// ChartPct is a price's position relative to the coin's chart baseline, in percent.
func ChartPct(price, base float64) float64 {
	return (price - base) / base * 100
}

// EvaluateAlert adjudicates an alert from the three prices. ok is false when the baseline
// cannot anchor a percentage.
func EvaluateAlert(ev *models.AlertEvaluation, base, atAlert, atEval float64) (models.AlertOutcome, bool) {
	if base <= 0 || math.IsNaN(base) || math.IsNaN(atAlert) || math.IsNaN(atEval) {
		return models.AlertOutcome{}, false
	}
	change := ChartPct(atEval, base) - ChartPct(atAlert, base)

	hit := features.MovedEnough(change, ev.Direction, ev.MinPercentChange)
	status := models.AlertFailed
	if hit == (ev.PredictedLabel == 1) {
		status = models.AlertSuccess
	}
	return models.AlertOutcome{
		Status:          status,
		PriceAtAlert:    &atAlert,
		PriceAtEval:     &atEval,
		ChartBaseline:   &base,
		ActualChangePct: &change,
	}, true
}

// Sweep resolves every due pending evaluation once.
func (e *AlertEvaluator) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var st SweepStats
	if e.locker != nil {
		// held for slightly less than one interval so the next tick can take it
		ok, err := e.locker.TryLock(ctx, sweepLockKey, e.cfg.Interval*9/10)
		switch {
		case err != nil:
			e.logger.Warn("alert sweep lock unavailable, sweeping anyway", logger.Error(err))
		case !ok:
			st.Skipped = true
			return st, nil
		}
	}

	due, err := e.alerts.Due(ctx, now, e.cfg.Batch)
	if err != nil {
		return st, fmt.Errorf("load due alerts: %w", err)
	}
	st.Due = len(due)
	for _, ev := range due {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		e.sweepOne(ctx, ev, now, &st)
	}
	if st.Due > 0 {
		e.logger.Info("alert sweep finished",
			logger.Int("due", st.Due),
			logger.Int("resolved", st.Resolved),
			logger.Int("expired", st.Expired),
			logger.Int("pending", st.Pending),
		)
	}
	return st, nil
}

func (e *AlertEvaluator) sweepOne(ctx context.Context, ev *models.AlertEvaluation, now time.Time, st *SweepStats) {
	if ev.Status.Terminal() {
		return
	}
	out, ok, err := e.resolve(ctx, ev)
	if err != nil {
		e.logger.Warn("alert evaluation deferred",
			logger.Int64("alert_id", ev.ID),
			logger.String("coin_id", ev.CoinID),
			logger.Error(err),
		)
	}
	if !ok {
		if !now.After(ev.EvaluationTimestamp.Add(e.cfg.Grace)) {
			st.Pending++
			return
		}
		out.Status = models.AlertExpired
	}
	out.EvaluatedAt = now

	won, err := e.alerts.Resolve(ctx, ev.ID, out)
	if err != nil {
		st.Pending++
		e.metrics.RecordError("alert_resolve")
		e.logger.Error("alert resolve failed", logger.Int64("alert_id", ev.ID), logger.Error(err))
		return
	}
	if !won {
		st.Lost++
		return
	}
	if out.Status == models.AlertExpired {
		st.Expired++
	} else {
		st.Resolved++
	}
	e.metrics.RecordAlert(string(out.Status))
}

// resolve reads the three prices. ok is false while price_at_eval is not yet known; the
// partial outcome still carries whatever prices were found.
func (e *AlertEvaluator) resolve(ctx context.Context, ev *models.AlertEvaluation) (models.AlertOutcome, bool, error) {
	var out models.AlertOutcome
	base, err := e.store.FirstPrice(ctx, ev.CoinID)
	if err != nil {
		return out, false, err
	}
	atAlert, err := e.store.PriceAtOrBefore(ctx, ev.CoinID, ev.AlertTimestamp)
	if err != nil {
		return out, false, err
	}
	atEval, err := e.store.PriceAtOrAfter(ctx, ev.CoinID, ev.EvaluationTimestamp)
	if err != nil {
		return out, false, err
	}
	out.ChartBaseline, out.PriceAtAlert, out.PriceAtEval = base, atAlert, atEval
	if base == nil || atAlert == nil || atEval == nil {
		return out, false, nil
	}
	res, ok := EvaluateAlert(ev, *base, *atAlert, *atEval)
	if !ok {
		return out, false, fmt.Errorf("unusable chart baseline %v", *base)
	}
	return res, true, nil
}

func (e *AlertEvaluator) List(ctx context.Context, f models.AlertFilter) ([]*models.AlertEvaluation, int64, error) {
	return e.alerts.List(ctx, f)
}

func (e *AlertEvaluator) Stats(ctx context.Context) (*models.AlertStats, error) {
	return e.alerts.Stats(ctx)
}

func (e *AlertEvaluator) Name() string { return "alert-evaluator" }

// Start runs the sweep on a cron schedule every configured interval.
func (e *AlertEvaluator) Start(context.Context) error {
	e.cron = cron.New()
	_, err := e.cron.AddFunc(fmt.Sprintf("@every %s", e.cfg.Interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Interval)
		defer cancel()
		if _, err := e.Sweep(ctx, e.now()); err != nil {
			e.metrics.RecordError("alert_sweep")
			e.logger.Error("alert sweep failed", logger.Error(err))
		}
	})
	if err != nil {
		return err
	}
	e.cron.Start()
	e.logger.Info("alert evaluator started", logger.Duration("interval", e.cfg.Interval))
	return nil
}

func (e *AlertEvaluator) Stop(ctx context.Context) error {
	if e.cron == nil {
		return nil
	}
	select {
	case <-e.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
