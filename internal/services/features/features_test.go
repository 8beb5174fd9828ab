package features

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sort"
	"testing"
	"time"

	"CoinPulse/internal/domain/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type point struct {
	coin string
	ts   time.Time
	vals map[string]float64
}

type fakeStore struct {
	catalog []string
	points  []point
}

func (s *fakeStore) Columns(context.Context) ([]string, error) { return s.catalog, nil }

func (s *fakeStore) Load(_ context.Context, q models.MetricsQuery) ([]models.MetricRow, error) {
	return s.rows(q.Columns, func(p point) bool {
		return !p.ts.Before(q.From) && p.ts.Before(q.To)
	})
}

func (s *fakeStore) LoadHistory(_ context.Context, coin string, upTo time.Time, lookback time.Duration, cols []string) ([]models.MetricRow, error) {
	return s.rows(cols, func(p point) bool {
		return p.coin == coin && p.ts.After(upTo.Add(-lookback)) && !p.ts.After(upTo)
	})
}

func (s *fakeStore) rows(cols []string, match func(point) bool) ([]models.MetricRow, error) {
	for _, c := range cols {
		if !contains(s.catalog, c) {
			return nil, models.NewFeatureError("column missing: %s", c)
		}
	}
	var out []models.MetricRow
	for _, p := range s.points {
		if !match(p) {
			continue
		}
		r := models.MetricRow{CoinID: p.coin, Timestamp: p.ts, Values: make([]float64, len(cols))}
		for i, c := range cols {
			v, ok := p.vals[c]
			if !ok {
				v = math.NaN()
			}
			r.Values[i] = v
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CoinID != out[j].CoinID {
			return out[i].CoinID < out[j].CoinID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *fakeStore) LatestPoint(context.Context, string, time.Time) (*models.MetricPoint, error) {
	return nil, nil
}

func (s *fakeStore) PriceAtOrBefore(context.Context, string, time.Time) (*float64, error) {
	return nil, nil
}

func (s *fakeStore) PriceAtOrAfter(context.Context, string, time.Time) (*float64, error) {
	return nil, nil
}

func (s *fakeStore) FirstPrice(context.Context, string) (*float64, error) { return nil, nil }

func (s *fakeStore) Availability(context.Context) (*models.DataAvailability, error) {
	return &models.DataAvailability{}, nil
}

// series builds n minute bars for a coin with a rising price.
func series(coin string, n int, extra func(i int, v map[string]float64)) []point {
	out := make([]point, n)
	for i := range out {
		v := map[string]float64{
			"price_close":     1 + float64(i)*0.01,
			"volume_sol":      10 + float64(i%7),
			"buy_volume_sol":  float64(5 + i%3),
			"sell_volume_sol": float64(4 + i%2),
			"ath_price_sol":   1 + float64(i)*0.01,
		}
		if extra != nil {
			extra(i, v)
		}
		out[i] = point{coin: coin, ts: t0.Add(time.Duration(i) * time.Minute), vals: v}
	}
	return out
}

var catalog = []string{"coin_id", "timestamp", "price_close", "volume_sol", "buy_volume_sol", "sell_volume_sol", "ath_price_sol", "phase_id"}

func TestRollingHelpers(t *testing.T) {
	mean := RollingMean([]float64{1, 2, 3, 4}, 2)
	if !math.IsNaN(mean[0]) || mean[1] != 1.5 || mean[3] != 3.5 {
		t.Fatalf("unexpected rolling mean %v", mean)
	}
	std := RollingStd([]float64{1, 2, 3}, 3)
	if !math.IsNaN(std[1]) || math.Abs(std[2]-1) > 1e-12 {
		t.Fatalf("expected sample std 1, got %v", std)
	}
	pct := PctChange([]float64{1, 2, 4}, 1)
	if !math.IsNaN(pct[0]) || pct[1] != 100 || pct[2] != 100 {
		t.Fatalf("unexpected pct change %v", pct)
	}
	bp := BuyPressure([]float64{3, 0}, []float64{1, 0})
	if bp[0] != 0.75 || bp[1] != 0.5 {
		t.Fatalf("unexpected buy pressure %v", bp)
	}
	mins := MinutesSinceATH(
		[]time.Time{t0, t0.Add(time.Minute), t0.Add(5 * time.Minute)},
		[]float64{1, 2, 1.5},
		[]float64{1, 2, 2},
	)
	if mins[1] != 0 || mins[2] != 4 {
		t.Fatalf("unexpected minutes since ath %v", mins)
	}
}

func TestColumnsForOrder(t *testing.T) {
	cols := ColumnsFor(models.FeatureConfig{
		Features:      []string{"volume_sol", "price_close"},
		UseEngineered: true,
		Windows:       []int{10, 5},
	})
	want := []string{
		"price_close", "volume_sol",
		"price_close_pct_change_5", "price_close_pct_change_10",
		"price_close_rolling_mean_5", "price_close_rolling_mean_10",
		"price_close_rolling_std_5", "price_close_rolling_std_10",
		"volume_sol_pct_change_5", "volume_sol_pct_change_10",
		"volume_sol_rolling_mean_5", "volume_sol_rolling_mean_10",
		"volume_sol_rolling_std_5", "volume_sol_rolling_std_10",
	}
	if !reflect.DeepEqual(cols, want) {
		t.Fatalf("unexpected column order:\n got %v\nwant %v", cols, want)
	}
}

func TestBuildCleaningContract(t *testing.T) {
	var pts []point
	pts = append(pts, series("aaa", 40, func(i int, v map[string]float64) {
		if i == 20 {
			delete(v, "volume_sol")
		}
	})...)
	pts = append(pts, series("bbb", 20, nil)...)
	a := NewAssembler(&fakeStore{catalog: catalog, points: pts}, nil)

	f, err := a.Build(context.Background(), Request{
		From:   t0,
		To:     t0.Add(2 * time.Hour),
		Config: models.FeatureConfig{Features: []string{"price_close", "volume_sol"}, UseEngineered: true, Windows: []int{5}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if coins := f.Coins(); len(coins) != 1 || coins[0] != "aaa" {
		t.Fatalf("expected only coin aaa to survive, got %v", coins)
	}
	// 40 rows, 1 NULL, 5 warm-up rows for pct_change_5
	if f.Len() != 34 {
		t.Fatalf("expected 34 rows, got %d", f.Len())
	}
	for _, c := range f.Columns {
		col, _ := f.Column(c)
		for i, v := range col {
			if math.IsNaN(v) {
				t.Fatalf("NaN left in %s at row %d", c, i)
			}
		}
	}
	for i := 0; i < f.Len(); i++ {
		if f.Keys[i].Timestamp.Equal(t0.Add(20 * time.Minute)) {
			t.Fatalf("NULL row survived cleaning")
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	pts := append(series("aaa", 50, nil), series("ccc", 45, nil)...)
	a := NewAssembler(&fakeStore{catalog: catalog, points: pts}, nil)
	req := Request{
		From: t0,
		To:   t0.Add(2 * time.Hour),
		Config: models.FeatureConfig{
			Features:      []string{"volume_sol", "buy_volume_sol", "sell_volume_sol", "price_close"},
			UseEngineered: true,
			Windows:       []int{3, 6},
			UseATH:        true,
		},
	}
	f1, err := a.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	f2, _ := a.Build(context.Background(), req)
	if !reflect.DeepEqual(f1.Columns, f2.Columns) || !reflect.DeepEqual(f1.Matrix(), f2.Matrix()) {
		t.Fatalf("two builds over the same data differ")
	}
	for _, c := range []string{FeatureBuyPressure, FeatureNetVolume, FeaturePriceVsATH, FeatureMinutesSinceATH} {
		if !contains(f1.Columns, c) {
			t.Fatalf("missing derived column %s in %v", c, f1.Columns)
		}
	}
}

func TestBuildMissingColumn(t *testing.T) {
	a := NewAssembler(&fakeStore{catalog: catalog, points: series("aaa", 40, nil)}, nil)
	_, err := a.Build(context.Background(), Request{
		From:   t0,
		To:     t0.Add(time.Hour),
		Config: models.FeatureConfig{Features: []string{"price_close", "holders_count"}},
	})
	if !errors.Is(err, models.ErrFeature) {
		t.Fatalf("expected feature error, got %v", err)
	}
}

func TestBuildATHCoverage(t *testing.T) {
	pts := series("aaa", 60, func(i int, v map[string]float64) {
		if i%20 != 0 {
			delete(v, "ath_price_sol")
		}
	})
	a := NewAssembler(&fakeStore{catalog: catalog, points: pts}, nil)
	_, err := a.Build(context.Background(), Request{
		From:   t0,
		To:     t0.Add(2 * time.Hour),
		Config: models.FeatureConfig{Features: []string{"volume_sol"}, UseATH: true},
	})
	if !errors.Is(err, models.ErrFeature) {
		t.Fatalf("expected ath coverage error, got %v", err)
	}
}

func TestBuildEmptyFrame(t *testing.T) {
	a := NewAssembler(&fakeStore{catalog: catalog, points: series("aaa", 10, nil)}, nil)
	_, err := a.Build(context.Background(), Request{
		From:   t0,
		To:     t0.Add(time.Hour),
		Config: models.FeatureConfig{Features: []string{"price_close"}},
	})
	if !errors.Is(err, models.ErrFeature) {
		t.Fatalf("expected empty frame error, got %v", err)
	}
}

func TestBuildInference(t *testing.T) {
	a := NewAssembler(&fakeStore{catalog: catalog, points: series("aaa", 90, nil)}, nil)
	cfg := models.FeatureConfig{Features: []string{"price_close"}, UseEngineered: true, Windows: []int{5, 10}}
	at := t0.Add(80 * time.Minute)
	f, err := a.BuildInference(context.Background(), "aaa", at, cfg)
	if err != nil {
		t.Fatalf("inference build: %v", err)
	}
	i := f.LatestAtOrBefore("aaa", at)
	if i < 0 || !f.Keys[i].Timestamp.Equal(at) {
		t.Fatalf("expected latest row at %s, got index %d", at, i)
	}

	_, err = a.BuildInference(context.Background(), "aaa", t0.Add(-time.Hour), cfg)
	if !errors.Is(err, models.ErrFeature) {
		t.Fatalf("expected insufficient history, got %v", err)
	}
}

// priceFrame builds a one-coin frame with bars at the given offsets from t0.
func priceFrame(offsets []time.Duration, prices []float64) *Frame {
	f := newFrame([]string{"volume_sol"})
	for i, d := range offsets {
		f.Keys = append(f.Keys, RowKey{CoinID: "aaa", Timestamp: t0.Add(d)})
		f.data["price_close"] = append(f.data["price_close"], prices[i])
		f.data["volume_sol"] = append(f.data["volume_sol"], 1)
	}
	return f
}

func TestTimeBasedLabels(t *testing.T) {
	rule := models.LabelRule{TimeBased: true, TargetVar: "price_close", FutureMinutes: 10, MinPercentChange: 5, Direction: models.DirectionUp}
	cases := []struct {
		name   string
		future float64
		want   int
	}{
		{"six percent up", 1.06, 1},
		{"exactly at threshold", 1.05, 1},
		{"just below threshold", 1.049, 0},
		{"down move", 0.9, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := priceFrame([]time.Duration{0, 10 * time.Minute}, []float64{1.0, tc.future})
			ds, err := BuildDataset(f, rule)
			if err != nil {
				t.Fatalf("build dataset: %v", err)
			}
			if ds.Len() != 1 {
				t.Fatalf("expected 1 labelled row, got %d", ds.Len())
			}
			if ds.Y[0] != tc.want {
				t.Fatalf("expected label %d, got %d", tc.want, ds.Y[0])
			}
		})
	}
}

func TestTimeBasedDownAndTolerance(t *testing.T) {
	rule := models.LabelRule{TimeBased: true, TargetVar: "price_close", FutureMinutes: 10, MinPercentChange: 5, Direction: models.DirectionDown}
	f := priceFrame(
		[]time.Duration{0, 9*time.Minute + 30*time.Second, 10*time.Minute + 30*time.Second, 30 * time.Minute},
		[]float64{1.0, 1.0, 0.94, 1.0},
	)
	labels, keep, err := TimeBased(f, rule)
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	// equidistant candidates: the later one (0.94) wins
	if !keep[0] || labels[0] != 1 {
		t.Fatalf("expected first row labelled 1, got keep=%v label=%d", keep[0], labels[0])
	}
	if keep[3] {
		t.Fatalf("row without a future row must be dropped")
	}
}

func TestClassicLabels(t *testing.T) {
	f := priceFrame([]time.Duration{0, time.Minute, 2 * time.Minute}, []float64{1, 2, 3})
	ds, err := BuildDataset(f, models.LabelRule{TargetVar: "price_close", Operator: ">=", TargetValue: 2})
	if err != nil {
		t.Fatalf("build dataset: %v", err)
	}
	if !reflect.DeepEqual(ds.Y, []int{0, 1, 1}) {
		t.Fatalf("unexpected labels %v", ds.Y)
	}
	if ds.Positives() != 2 {
		t.Fatalf("positives = %d", ds.Positives())
	}
	if len(ds.X) != len(ds.Y) || len(ds.Keys) != len(ds.Y) {
		t.Fatalf("misaligned dataset: X=%d Y=%d keys=%d", len(ds.X), len(ds.Y), len(ds.Keys))
	}

	_, err = BuildDataset(f, models.LabelRule{TargetVar: "price_close", Operator: "~", TargetValue: 2})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error for unknown operator, got %v", err)
	}
}

func TestLeakageGuard(t *testing.T) {
	features := []string{"price_close", "volume_sol", "price_close"}
	timeRule := models.LabelRule{TimeBased: true, TargetVar: "price_close", FutureMinutes: 10}
	if got := FeatureColumns(features, timeRule); !reflect.DeepEqual(got, []string{"volume_sol"}) {
		t.Fatalf("time-based rule must drop its target, got %v", got)
	}
	classic := models.LabelRule{TargetVar: "price_close", Operator: ">", TargetValue: 1}
	if got := FeatureColumns(features, classic); !reflect.DeepEqual(got, []string{"price_close", "volume_sol"}) {
		t.Fatalf("classic rule keeps its target, got %v", got)
	}
}
