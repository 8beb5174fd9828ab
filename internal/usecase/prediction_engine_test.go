package usecase

import (
	"context"
	"testing"
	"time"

	"CoinPulse/internal/domain/models"
	"CoinPulse/internal/services/features"
	"CoinPulse/pkg/metrics"
)

func activeModel(id int64, feats []string, phases []int) *models.ActiveModel {
	return &models.ActiveModel{
		ID:             id,
		ModelID:        "m",
		Name:           "model",
		FeatureConfig:  models.FeatureConfig{Features: feats},
		Phases:         phases,
		IsActive:       true,
		AlertThreshold: 0.8,
		SendMode:       []models.SendMode{models.SendAll},
		CoinFilterMode: models.CoinFilterAll,
	}
}

func newTestEngine(t *testing.T, store *fakeStore, loader *fakeLoader) (*PredictionEngine, *fakePredictionRepo) {
	t.Helper()
	preds := newFakePredictionRepo()
	e := NewPredictionEngine(features.NewAssembler(store, nil), store, loader, preds, metrics.Nop{}, time.Second, nil)
	return e, preds
}

func rising(i int) float64 { return 1 + float64(i)*0.01 }

func TestPredictDropsFailingModel(t *testing.T) {
	store := &fakeStore{catalog: catalog, points: bars("aaa", 90, nil, rising)}
	good := priceClassifier(t, []string{"price_close"})
	loader := &fakeLoader{byID: map[int64]loaded{1: good, 2: priceClassifier(t, []string{"missing_col"}), 3: good}}
	e, preds := newTestEngine(t, store, loader)

	active := []*models.ActiveModel{
		activeModel(1, []string{"price_close"}, nil),
		activeModel(2, []string{"missing_col"}, nil),
		activeModel(3, []string{"price_close"}, nil),
	}
	ts := t0.Add(80 * time.Minute)
	res := e.Predict(context.Background(), "aaa", ts, active)
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	if res[0].ActiveModelID != 1 || res[1].ActiveModelID != 3 {
		t.Fatalf("results out of input order: %d, %d", res[0].ActiveModelID, res[1].ActiveModelID)
	}
	if preds.count() != 2 {
		t.Fatalf("persisted %d predictions, want 2", preds.count())
	}

	// survivors match a standalone run
	e2, _ := newTestEngine(t, store, loader)
	solo := e2.Predict(context.Background(), "aaa", ts, active[:1])
	if len(solo) != 1 || solo[0].Probability != res[0].Probability || solo[0].Label != res[0].Label {
		t.Fatalf("standalone %+v differs from fan-out %+v", solo, res[0])
	}
	if res[0].Label != 1 || !res[0].DataTimestamp.Equal(ts) {
		t.Fatalf("unexpected prediction %+v", res[0].Prediction)
	}
}

func TestPredictRecoversPanickingModel(t *testing.T) {
	store := &fakeStore{catalog: catalog, points: bars("aaa", 90, nil, rising)}
	good := priceClassifier(t, []string{"price_close"})
	e, _ := newTestEngine(t, store, &fakeLoader{byID: map[int64]loaded{1: good}, panic: 2})

	res := e.Predict(context.Background(), "aaa", t0.Add(80*time.Minute), []*models.ActiveModel{
		activeModel(1, []string{"price_close"}, nil),
		activeModel(2, []string{"price_close"}, nil),
	})
	if len(res) != 1 || res[0].ActiveModelID != 1 {
		t.Fatalf("expected only model 1 to survive, got %+v", res)
	}
}

func TestPredictIsIdempotent(t *testing.T) {
	store := &fakeStore{catalog: catalog, points: bars("aaa", 90, nil, rising)}
	e, preds := newTestEngine(t, store, &fakeLoader{byID: map[int64]loaded{1: priceClassifier(t, []string{"price_close"})}})
	active := []*models.ActiveModel{activeModel(1, []string{"price_close"}, nil)}
	ts := t0.Add(70 * time.Minute)

	first := e.Predict(context.Background(), "aaa", ts, active)
	second := e.Predict(context.Background(), "aaa", ts, active)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one result per call")
	}
	if !first[0].IsNew || second[0].IsNew {
		t.Fatalf("IsNew = %v then %v, want true then false", first[0].IsNew, second[0].IsNew)
	}
	if first[0].ID != second[0].ID || preds.count() != 1 {
		t.Fatalf("expected a single stored row, have %d", preds.count())
	}
}

func TestPredictPhaseGate(t *testing.T) {
	two := 2
	store := &fakeStore{catalog: catalog, points: append(bars("aaa", 90, &two, rising), bars("bbb", 90, nil, rising)...)}
	clf := priceClassifier(t, []string{"price_close"})
	loader := &fakeLoader{byID: map[int64]loaded{1: clf, 2: clf, 3: clf}}
	e, _ := newTestEngine(t, store, loader)
	active := []*models.ActiveModel{
		activeModel(1, []string{"price_close"}, nil),
		activeModel(2, []string{"price_close"}, []int{2}),
		activeModel(3, []string{"price_close"}, []int{1}),
	}
	ts := t0.Add(80 * time.Minute)

	res := e.Predict(context.Background(), "aaa", ts, active)
	if len(res) != 2 || res[0].ActiveModelID != 1 || res[1].ActiveModelID != 2 {
		t.Fatalf("phase 2 coin: got %+v", res)
	}
	// a NULL phase never matches a non-empty phase list
	res = e.Predict(context.Background(), "bbb", ts, active)
	if len(res) != 1 || res[0].ActiveModelID != 1 {
		t.Fatalf("null phase coin: got %+v", res)
	}
}

func TestPredictZeroTimestampUsesLatestBar(t *testing.T) {
	store := &fakeStore{catalog: catalog, points: bars("aaa", 90, nil, rising)}
	e, _ := newTestEngine(t, store, &fakeLoader{byID: map[int64]loaded{1: priceClassifier(t, []string{"price_close"})}})

	res := e.Predict(context.Background(), "aaa", time.Time{}, []*models.ActiveModel{activeModel(1, []string{"price_close"}, nil)})
	if len(res) != 1 || !res[0].DataTimestamp.Equal(t0.Add(89*time.Minute)) {
		t.Fatalf("expected the latest bar, got %+v", res)
	}
}
