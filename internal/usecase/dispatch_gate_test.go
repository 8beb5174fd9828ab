package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"CoinPulse/internal/domain/models"
	"CoinPulse/pkg/cache"
	"CoinPulse/pkg/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func dispatchModel() *models.ActiveModel {
	return &models.ActiveModel{
		ID:             4,
		ModelID:        "m-4",
		Name:           "pump-detector",
		IsActive:       true,
		AlertThreshold: 0.8,
		SendMode:       []models.SendMode{models.SendAlertsOnly},
		CoinFilterMode: models.CoinFilterAll,
		WebhookURL:     "http://hooks.local/coin",
		WebhookEnabled: true,
	}
}

func scored(coin string, label int, prob float64) *models.PredictionResult {
	return &models.PredictionResult{
		Prediction: models.Prediction{ID: 1, ActiveModelID: 4, CoinID: coin, Label: label, Probability: prob, DataTimestamp: t0},
		IsAlert:    prob >= 0.8,
		IsNew:      true,
	}
}

func TestAlertsOnlySuppressesNegativeLabel(t *testing.T) {
	n := &fakeNotifier{}
	g := NewDispatchGate(nil, n, metrics.Nop{}, nil)

	d, err := g.Dispatch(context.Background(), dispatchModel(), scored("aaa", 0, 0.9))
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != ReasonSendMode {
		t.Fatalf("decision %+v", d)
	}
	if n.count() != 0 {
		t.Fatal("notifier must not be called")
	}

	d, _ = g.Dispatch(context.Background(), dispatchModel(), scored("aaa", 1, 0.9))
	if !d.Allowed || n.count() != 1 {
		t.Fatalf("label 1 above threshold should be sent, got %+v", d)
	}
	sent := n.sent[0].n
	if sent.CoinID != "aaa" || sent.Threshold != 0.8 || !sent.IsAlert || sent.ModelName != "pump-detector" {
		t.Fatalf("notification %+v", sent)
	}
}

func TestCheckDispatchOrder(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(a *models.ActiveModel)
		res    *models.PredictionResult
		reason string
	}{
		{"inactive wins over everything", func(a *models.ActiveModel) { a.IsActive = false; a.WebhookEnabled = false }, scored("zzz", 0, 0.1), ReasonInactive},
		{"webhook disabled", func(a *models.ActiveModel) { a.WebhookEnabled = false }, scored("aaa", 1, 0.9), ReasonNoWebhook},
		{"webhook url empty", func(a *models.ActiveModel) { a.WebhookURL = "" }, scored("aaa", 1, 0.9), ReasonNoWebhook},
		{"coin not whitelisted", func(a *models.ActiveModel) {
			a.CoinFilterMode = models.CoinFilterWhitelist
			a.CoinWhitelist = []string{"bbb"}
		}, scored("aaa", 1, 0.9), ReasonCoinFiltered},
		{"below threshold", func(*models.ActiveModel) {}, scored("aaa", 1, 0.79), ReasonSendMode},
		{"positive only", func(a *models.ActiveModel) { a.SendMode = []models.SendMode{models.SendPositiveOnly} }, scored("aaa", 0, 0.2), ReasonSendMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := dispatchModel()
			tc.mutate(a)
			if d := CheckDispatch(a, tc.res); d.Allowed || d.Reason != tc.reason {
				t.Fatalf("decision %+v, want %s", d, tc.reason)
			}
		})
	}
}

func TestSendModesAreUnioned(t *testing.T) {
	a := dispatchModel()
	a.SendMode = []models.SendMode{models.SendAlertsOnly, models.SendNegativeOnly}
	if d := CheckDispatch(a, scored("aaa", 0, 0.3)); !d.Allowed {
		t.Fatalf("negative_only should admit label 0: %+v", d)
	}
	a.SendMode = []models.SendMode{models.SendAll}
	if d := CheckDispatch(a, scored("aaa", 0, 0.01)); !d.Allowed {
		t.Fatalf("all should admit anything: %+v", d)
	}
}

func newRedisLocker(t *testing.T) (*miniredis.Miniredis, cache.Service) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	return mr, cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
}

func TestDispatchThrottlesPerModelAndCoin(t *testing.T) {
	mr, locker := newRedisLocker(t)
	n := &fakeNotifier{}
	g := NewDispatchGate(locker, n, metrics.Nop{}, nil)
	a := dispatchModel()
	a.MinScanIntervalSeconds = 60

	if d, _ := g.Dispatch(context.Background(), a, scored("aaa", 1, 0.9)); !d.Allowed {
		t.Fatalf("first dispatch %+v", d)
	}
	if d, _ := g.Dispatch(context.Background(), a, scored("aaa", 1, 0.95)); d.Reason != ReasonThrottled {
		t.Fatalf("second dispatch inside the interval %+v", d)
	}
	if d, _ := g.Dispatch(context.Background(), a, scored("bbb", 1, 0.95)); !d.Allowed {
		t.Fatalf("another coin has its own interval %+v", d)
	}

	mr.FastForward(61 * time.Second)
	if d, _ := g.Dispatch(context.Background(), a, scored("aaa", 1, 0.9)); !d.Allowed {
		t.Fatalf("after the interval %+v", d)
	}
	if n.count() != 3 {
		t.Fatalf("sent %d, want 3", n.count())
	}
}

func TestDispatchFailureReleasesInterval(t *testing.T) {
	_, locker := newRedisLocker(t)
	n := &fakeNotifier{err: errors.New("connection refused")}
	g := NewDispatchGate(locker, n, metrics.Nop{}, nil)
	a := dispatchModel()
	a.MinScanIntervalSeconds = 300

	d, err := g.Dispatch(context.Background(), a, scored("aaa", 1, 0.9))
	if err == nil || d.Reason != ReasonDeliveryError {
		t.Fatalf("decision %+v err %v", d, err)
	}

	n.mu.Lock()
	n.err = nil
	n.mu.Unlock()
	if d, err := g.Dispatch(context.Background(), a, scored("aaa", 1, 0.9)); err != nil || !d.Allowed {
		t.Fatalf("retry after failure %+v %v", d, err)
	}
}

func TestDispatchWithoutIntervalNeverThrottles(t *testing.T) {
	n := &fakeNotifier{}
	g := NewDispatchGate(cache.NewMemoryCache(), n, metrics.Nop{}, nil)
	for i := 0; i < 3; i++ {
		if d, _ := g.Dispatch(context.Background(), dispatchModel(), scored("aaa", 1, 0.9)); !d.Allowed {
			t.Fatalf("dispatch %d: %+v", i, d)
		}
	}
}
