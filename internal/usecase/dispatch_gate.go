package usecase

import (
	"context"
	"fmt"
	"slices"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/pkg/cache"
	"CoinPulse/pkg/logger"
)

// Gate rejection reasons, also used as metric labels.
const (
	DispatchSent        = "sent"
	ReasonInactive      = "inactive"
	ReasonNoWebhook     = "webhook_disabled"
	ReasonCoinFiltered  = "coin_filtered"
	ReasonSendMode      = "send_mode"
	ReasonThrottled     = "throttled"
	ReasonDeliveryError = "delivery_failed"
)

type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision { return Decision{Reason: reason} }

// CheckDispatch applies the policy checks that need no shared state, in order, and
// reports the first failure.
func CheckDispatch(a *models.ActiveModel, r *models.PredictionResult) Decision {
	if !a.IsActive {
		return deny(ReasonInactive)
	}
	if !a.WebhookEnabled || a.WebhookURL == "" {
		return deny(ReasonNoWebhook)
	}
	if a.CoinFilterMode == models.CoinFilterWhitelist && !slices.Contains(a.CoinWhitelist, r.CoinID) {
		return deny(ReasonCoinFiltered)
	}
	if !matchesSendMode(a, r) {
		return deny(ReasonSendMode)
	}
	return Decision{Allowed: true}
}

func matchesSendMode(a *models.ActiveModel, r *models.PredictionResult) bool {
	for _, m := range a.SendMode {
		switch m {
		case models.SendAll:
			return true
		case models.SendAlertsOnly:
			if r.Label == 1 && r.Probability >= a.AlertThreshold {
				return true
			}
		case models.SendPositiveOnly:
			if r.Label == 1 {
				return true
			}
		case models.SendNegativeOnly:
			if r.Label == 0 {
				return true
			}
		}
	}
	return false
}

func dispatchKey(activeID int64, coinID string) string {
	return cache.GenerateKey("dispatch", activeID, coinID)
}

// DispatchGate decides whether a prediction is sent and sends it. The per-(model, coin)
// scan interval is a TTL marker in the shared cache.
type DispatchGate struct {
	locker   cache.Service
	notifier domrepo.Notifier
	metrics  domrepo.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

func NewDispatchGate(locker cache.Service, notifier domrepo.Notifier, metrics domrepo.Metrics, lgr *logger.Logger) *DispatchGate {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &DispatchGate{
		locker:   locker,
		notifier: notifier,
		metrics:  metrics,
		logger:   lgr,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs every check and delivers on success. A delivery failure releases the
// interval marker so the next prediction may retry.
func (g *DispatchGate) Dispatch(ctx context.Context, a *models.ActiveModel, r *models.PredictionResult) (Decision, error) {
	d := CheckDispatch(a, r)
	if !d.Allowed {
		g.metrics.RecordDispatch(d.Reason)
		return d, nil
	}

	key := dispatchKey(a.ID, r.CoinID)
	locked := false
	if a.MinScanIntervalSeconds > 0 && g.locker != nil {
		ok, err := g.locker.TryLock(ctx, key, time.Duration(a.MinScanIntervalSeconds)*time.Second)
		if err != nil {
			g.metrics.RecordError("dispatch_lock")
			return deny(ReasonThrottled), fmt.Errorf("dispatch interval check: %w", err)
		}
		if !ok {
			g.metrics.RecordDispatch(ReasonThrottled)
			return deny(ReasonThrottled), nil
		}
		locked = true
	}

	n := &models.Notification{
		ActiveModelID: a.ID,
		ModelID:       a.ModelID,
		ModelName:     a.Name,
		CoinID:        r.CoinID,
		Prediction:    r.Label,
		Probability:   r.Probability,
		IsAlert:       r.IsAlert,
		Threshold:     a.AlertThreshold,
		DataTimestamp: r.DataTimestamp,
		SentAt:        g.now(),
	}
	if err := g.notifier.Notify(ctx, a, n); err != nil {
		if locked {
			if uerr := g.locker.Unlock(context.WithoutCancel(ctx), key); uerr != nil {
				g.logger.Warn("dispatch marker release failed", logger.String("key", key), logger.Error(uerr))
			}
		}
		g.metrics.RecordDispatch(ReasonDeliveryError)
		return deny(ReasonDeliveryError), err
	}
	g.metrics.RecordDispatch(DispatchSent)
	g.logger.Info("prediction dispatched",
		logger.Int64("active_model_id", a.ID),
		logger.String("coin_id", r.CoinID),
		logger.Int("prediction", r.Label),
		logger.Float64("probability", r.Probability),
	)
	return Decision{Allowed: true, Reason: DispatchSent}, nil
}
