package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"math"
	"testing"
	"time"

	"CoinPulse/internal/domain/models"
	applogger "CoinPulse/pkg/logger"

	"github.com/ClickHouse/clickhouse-go/v2"
)

var socketTimeout = &clickhouse.Exception{Code: 209, Message: "socket timeout"}

func storeOn(t *testing.T, db *scriptedDB) *CoinMetricsStore {
	return &CoinMetricsStore{db: db.open(t), table: "coin_metrics", l: applogger.Nop()}
}

func priceStep(v float64) step {
	return rowStep([]string{"price_close"}, []driver.Value{v})
}

func TestPriceReadRetriesTransientClickHouseError(t *testing.T) {
	db := &scriptedDB{steps: []step{failStep(socketTimeout), priceStep(1.25)}}

	v, err := storeOn(t, db).PriceAtOrBefore(context.Background(), "coin-a", time.Now())
	if err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
	if v == nil || *v != 1.25 {
		t.Fatalf("unexpected price %v", v)
	}
	if db.calls() != 2 {
		t.Fatalf("expected 2 queries, got %d", db.calls())
	}
}

func TestLoadHistoryRetriesTransientClickHouseError(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	db := &scriptedDB{steps: []step{
		failStep(socketTimeout),
		rowStep([]string{"coin_id", "timestamp", "volume_sol"},
			[]driver.Value{"coin-a", ts, 3.5},
			[]driver.Value{"coin-a", ts.Add(time.Minute), nil}),
	}}
	store := storeOn(t, db)
	store.catalog = []string{"coin_id", "timestamp", "volume_sol"}

	rows, err := store.LoadHistory(context.Background(), "coin-a", ts.Add(time.Hour), time.Hour, []string{"volume_sol"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Values[0] != 3.5 || !math.IsNaN(rows[1].Values[0]) {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestPriceReadSurfacesDatabaseErrorAfterRetry(t *testing.T) {
	db := &scriptedDB{steps: []step{failStep(socketTimeout), failStep(socketTimeout)}}

	_, err := storeOn(t, db).FirstPrice(context.Background(), "coin-a")
	if !errors.Is(err, models.ErrDatabase) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
	if db.calls() != 2 {
		t.Fatalf("expected exactly one retry, got %d queries", db.calls())
	}
}

func TestPermanentClickHouseErrorIsNotRetried(t *testing.T) {
	db := &scriptedDB{steps: []step{failStep(&clickhouse.Exception{Code: 62, Message: "syntax error"})}}

	if _, err := storeOn(t, db).PriceAtOrAfter(context.Background(), "coin-a", time.Now()); !errors.Is(err, models.ErrDatabase) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
	if db.calls() != 1 {
		t.Fatalf("syntax errors must not be retried, got %d queries", db.calls())
	}
}
