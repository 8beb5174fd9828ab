package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"CoinPulse/internal/domain/models"

	"github.com/lib/pq"
)

func init() {
	retryBackoff = time.Millisecond
}

func TestWithRetryRetriesTransientOnce(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second call, got err=%v calls=%d", err, calls)
	}
}

func TestWithRetryWrapsPersistentFailure(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "load", func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if !errors.Is(err, models.ErrDatabase) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
}

func TestWithRetrySkipsNonRetryable(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "insert", func(context.Context) error {
		calls++
		return &pq.Error{Code: "23505"}
	})
	if calls != 1 {
		t.Fatalf("unique violation must not be retried, got %d calls", calls)
	}
	if !errors.Is(err, models.ErrDatabase) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}

	calls = 0
	err = withRetry(context.Background(), "get", func(context.Context) error {
		calls++
		return sql.ErrNoRows
	})
	if calls != 1 || !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("ErrNoRows must pass through, got %v after %d calls", err, calls)
	}
}

func TestWhitelistColumns(t *testing.T) {
	catalog := []string{"coin_id", "timestamp", "price_close", "volume_sol", "phase_id"}

	got, err := whitelistColumns(catalog, []string{"volume_sol", "coin_id", "price_close", "volume_sol"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(got, ",") != "volume_sol,price_close" {
		t.Fatalf("unexpected columns %v", got)
	}

	_, err = whitelistColumns(catalog, []string{"price_close", "price_close; DROP TABLE x"})
	if !errors.Is(err, models.ErrFeature) {
		t.Fatalf("expected feature error for unknown column, got %v", err)
	}
}

func TestBuildLoadQuery(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	q, args := buildLoadQuery("coin_metrics", []string{"price_close", "volume_sol"}, models.MetricsQuery{
		CoinIDs: []string{"a", "b"},
		From:    from,
		To:      to,
		Phases:  []int{1},
	})
	for _, want := range []string{
		"SELECT coin_id, `timestamp`, toFloat64(`price_close`), toFloat64(`volume_sol`) FROM `coin_metrics`",
		"`timestamp` >= ? AND `timestamp` < ?",
		"coin_id IN (?, ?)",
		"phase_id IN (?)",
		"ORDER BY coin_id ASC, `timestamp` ASC",
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("query %q missing %q", q, want)
		}
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %d", len(args))
	}
}

func TestBuildAlertStats(t *testing.T) {
	st := buildAlertStats([]alertStatsRow{
		{ActiveModelID: 1, ModelID: "m1", Pending: 2, Success: 3, Failed: 1},
		{ActiveModelID: 2, ModelID: "m2", Expired: 4},
	})
	if st.Total != 10 {
		t.Fatalf("expected total 10, got %d", st.Total)
	}
	if st.ByStatus["success"] != 3 || st.ByStatus["expired"] != 4 {
		t.Fatalf("unexpected by_status %v", st.ByStatus)
	}
	if st.ByModel[0].SuccessRate != 0.75 {
		t.Fatalf("expected success rate 0.75, got %v", st.ByModel[0].SuccessRate)
	}
	if st.ByModel[1].SuccessRate != 0 {
		t.Fatalf("model without decided alerts must have rate 0, got %v", st.ByModel[1].SuccessRate)
	}
}

func TestModelRowRoundTrip(t *testing.T) {
	m := &models.TrainedModel{
		FeatureConfig: models.FeatureConfig{Features: []string{"price_close"}, UseEngineered: true, Windows: []int{5, 10}},
		ID:            "m1",
		Kind:          models.KindRandomForest,
		Status:        models.ModelPending,
		Params:        map[string]any{"n_estimators": float64(50)},
		Label:         models.LabelRule{TimeBased: true, TargetVar: "price_close", FutureMinutes: 10, MinPercentChange: 5, Direction: models.DirectionUp},
		Phases:        []int{1, 2},
	}
	row, err := newModelRow(m)
	if err != nil {
		t.Fatalf("newModelRow: %v", err)
	}
	back, err := row.toDomain()
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if back.Label != m.Label || len(back.Windows) != 2 || back.Phases[1] != 2 {
		t.Fatalf("round trip lost fields: %+v", back)
	}
	if back.Params["n_estimators"] != float64(50) {
		t.Fatalf("params lost: %v", back.Params)
	}
}
