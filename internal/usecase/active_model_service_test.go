package usecase

import (
	"context"
	"errors"
	"testing"

	"CoinPulse/internal/domain/models"
)

type fakeSource struct{ byID map[string]*models.TrainedModel }

func (s *fakeSource) GetModel(_ context.Context, id string) (*models.TrainedModel, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, models.NewNotFoundError("model", id)
	}
	return m, nil
}

type fakeFetcher struct {
	calls int
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, id string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "/var/lib/coinpulse/active_" + id + ".bin", nil
}

type countingRefresher struct{ n int }

func (r *countingRefresher) Refresh(context.Context) error { r.n++; return nil }

func newActiveFixture() (*ActiveModelService, *fakeActiveRepo, *fakeFetcher, *countingRefresher) {
	src := &fakeSource{byID: map[string]*models.TrainedModel{
		"m-ready": {
			ID:            "m-ready",
			Name:          "pump",
			Kind:          models.KindRandomForest,
			Status:        models.ModelReady,
			FeatureConfig: models.FeatureConfig{Features: []string{"price_close"}},
			Phases:        []int{1, 2},
		},
		"m-pending": {ID: "m-pending", Status: models.ModelPending},
	}}
	repo := newFakeActiveRepo()
	fetcher := &fakeFetcher{}
	refresher := &countingRefresher{}
	return NewActiveModelService(repo, src, fetcher, refresher, nil), repo, fetcher, refresher
}

func TestImportAppliesDefaults(t *testing.T) {
	svc, repo, fetcher, refresher := newActiveFixture()
	a, err := svc.Import(context.Background(), &models.ImportModelRequest{ModelID: "m-ready", Activate: true})
	if err != nil {
		t.Fatal(err)
	}
	if a.AlertThreshold != DefaultAlertThreshold || a.CoinFilterMode != models.CoinFilterAll {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if len(a.SendMode) != 1 || a.SendMode[0] != models.SendAlertsOnly {
		t.Fatalf("send mode %v", a.SendMode)
	}
	if a.LocalModelPath != "/var/lib/coinpulse/active_m-ready.bin" || fetcher.calls != 1 {
		t.Fatalf("artifact not fetched: %q", a.LocalModelPath)
	}
	stored, err := repo.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "pump" || len(stored.Phases) != 2 || stored.Features[0] != "price_close" {
		t.Fatalf("metadata not copied: %+v", stored)
	}
	if refresher.n != 1 {
		t.Fatalf("refreshes = %d", refresher.n)
	}
}

func TestImportRejectsUnreadyModel(t *testing.T) {
	svc, _, fetcher, _ := newActiveFixture()
	_, err := svc.Import(context.Background(), &models.ImportModelRequest{ModelID: "m-pending"})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatal("artifact fetched for an unready model")
	}
	if _, err := svc.Import(context.Background(), &models.ImportModelRequest{ModelID: "nope"}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestImportValidatesWhitelist(t *testing.T) {
	svc, _, fetcher, _ := newActiveFixture()
	_, err := svc.Import(context.Background(), &models.ImportModelRequest{ModelID: "m-ready", CoinFilterMode: models.CoinFilterWhitelist})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatal("validation must run before the download")
	}
}

func TestUpdateConfigMergesAndValidates(t *testing.T) {
	svc, _, _, refresher := newActiveFixture()
	a, err := svc.Import(context.Background(), &models.ImportModelRequest{ModelID: "m-ready", Activate: true})
	if err != nil {
		t.Fatal(err)
	}

	th := 0.9
	got, err := svc.UpdateConfig(context.Background(), a.ID, &models.UpdateActiveConfigRequest{AlertThreshold: &th})
	if err != nil {
		t.Fatal(err)
	}
	if got.AlertThreshold != 0.9 || got.SendMode[0] != models.SendAlertsOnly {
		t.Fatalf("merged %+v", got)
	}

	mode := models.CoinFilterWhitelist
	if _, err := svc.UpdateConfig(context.Background(), a.ID, &models.UpdateActiveConfigRequest{CoinFilterMode: &mode}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("whitelist mode without coins: err = %v", err)
	}
	cur, _ := svc.Get(context.Background(), a.ID)
	if cur.CoinFilterMode != models.CoinFilterAll || cur.AlertThreshold != 0.9 {
		t.Fatalf("failed update leaked into the row: %+v", cur)
	}
	if refresher.n != 2 {
		t.Fatalf("refreshes = %d, want 2", refresher.n)
	}
}

func TestToggleAndDelete(t *testing.T) {
	svc, _, _, _ := newActiveFixture()
	a, err := svc.Import(context.Background(), &models.ImportModelRequest{ModelID: "m-ready"})
	if err != nil {
		t.Fatal(err)
	}
	if a.IsActive {
		t.Fatal("import without activate should stay inactive")
	}
	on, err := svc.Activate(context.Background(), a.ID)
	if err != nil || !on.IsActive {
		t.Fatalf("activate: %+v %v", on, err)
	}
	list, _ := svc.List(context.Background(), true)
	if len(list) != 1 {
		t.Fatalf("active list %d", len(list))
	}
	if err := svc.Delete(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(context.Background(), a.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
