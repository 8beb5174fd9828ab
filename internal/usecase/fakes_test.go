package usecase

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"CoinPulse/internal/domain/models"
	"CoinPulse/internal/services/ml"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type metricPoint struct {
	coin  string
	ts    time.Time
	phase *int
	vals  map[string]float64
}

type fakeStore struct {
	catalog  []string
	points   []metricPoint
	priceErr error
}

func (s *fakeStore) Columns(context.Context) ([]string, error) { return s.catalog, nil }

func (s *fakeStore) Load(_ context.Context, q models.MetricsQuery) ([]models.MetricRow, error) {
	return s.rows(q.Columns, func(p metricPoint) bool {
		return !p.ts.Before(q.From) && p.ts.Before(q.To)
	})
}

func (s *fakeStore) LoadHistory(_ context.Context, coin string, upTo time.Time, lookback time.Duration, cols []string) ([]models.MetricRow, error) {
	return s.rows(cols, func(p metricPoint) bool {
		return p.coin == coin && p.ts.After(upTo.Add(-lookback)) && !p.ts.After(upTo)
	})
}

func (s *fakeStore) rows(cols []string, match func(metricPoint) bool) ([]models.MetricRow, error) {
	for _, c := range cols {
		if !slices.Contains(s.catalog, c) {
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

func (s *fakeStore) coinPoints(coin string) []metricPoint {
	var out []metricPoint
	for _, p := range s.points {
		if p.coin == coin {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ts.Before(out[j].ts) })
	return out
}

func (s *fakeStore) LatestPoint(_ context.Context, coin string, at time.Time) (*models.MetricPoint, error) {
	var last *models.MetricPoint
	for _, p := range s.coinPoints(coin) {
		if p.ts.After(at) {
			break
		}
		last = &models.MetricPoint{CoinID: coin, Timestamp: p.ts, PriceClose: p.vals["price_close"], PhaseID: p.phase}
	}
	return last, nil
}

func (s *fakeStore) PriceAtOrBefore(_ context.Context, coin string, t time.Time) (*float64, error) {
	if s.priceErr != nil {
		return nil, s.priceErr
	}
	var out *float64
	for _, p := range s.coinPoints(coin) {
		if p.ts.After(t) {
			break
		}
		v := p.vals["price_close"]
		out = &v
	}
	return out, nil
}

func (s *fakeStore) PriceAtOrAfter(_ context.Context, coin string, t time.Time) (*float64, error) {
	if s.priceErr != nil {
		return nil, s.priceErr
	}
	for _, p := range s.coinPoints(coin) {
		if !p.ts.Before(t) {
			v := p.vals["price_close"]
			return &v, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FirstPrice(_ context.Context, coin string) (*float64, error) {
	if s.priceErr != nil {
		return nil, s.priceErr
	}
	pts := s.coinPoints(coin)
	if len(pts) == 0 {
		return nil, nil
	}
	v := pts[0].vals["price_close"]
	return &v, nil
}

func (s *fakeStore) Availability(context.Context) (*models.DataAvailability, error) {
	return &models.DataAvailability{}, nil
}

// bars builds n minute bars for coin with price from fn.
func bars(coin string, n int, phase *int, price func(i int) float64) []metricPoint {
	out := make([]metricPoint, n)
	for i := range out {
		out[i] = metricPoint{
			coin:  coin,
			ts:    t0.Add(time.Duration(i) * time.Minute),
			phase: phase,
			vals: map[string]float64{
				"price_close": price(i),
				"volume_sol":  10 + float64(i%7),
			},
		}
	}
	return out
}

var catalog = []string{"coin_id", "timestamp", "price_close", "volume_sol", "phase_id"}

type fakeModelRepo struct {
	mu   sync.Mutex
	rows map[string]*models.TrainedModel
}

func newFakeModelRepo() *fakeModelRepo {
	return &fakeModelRepo{rows: map[string]*models.TrainedModel{}}
}

func (r *fakeModelRepo) Create(_ context.Context, m *models.TrainedModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.rows[m.ID] = &cp
	return nil
}

func (r *fakeModelRepo) MarkReady(_ context.Context, id, path string, features []string, metrics *models.EvalMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || m.Status != models.ModelPending {
		return models.NewNotFoundError("model", id)
	}
	m.Status, m.ArtifactPath, m.Features, m.Metrics = models.ModelReady, path, features, metrics
	return nil
}

func (r *fakeModelRepo) MarkFailed(_ context.Context, id, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[id]; ok {
		m.Status, m.ErrorMsg = models.ModelFailed, msg
	}
	return nil
}

func (r *fakeModelRepo) Get(_ context.Context, id string) (*models.TrainedModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, models.NewNotFoundError("model", id)
	}
	cp := *m
	return &cp, nil
}

func (r *fakeModelRepo) List(context.Context, models.ModelFilter) ([]*models.TrainedModel, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TrainedModel
	for _, m := range r.rows {
		out = append(out, m)
	}
	return out, int64(len(out)), nil
}

func (r *fakeModelRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return models.NewNotFoundError("model", id)
	}
	delete(r.rows, id)
	return nil
}

type fakePredictionRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*models.Prediction
}

func newFakePredictionRepo() *fakePredictionRepo {
	return &fakePredictionRepo{rows: map[string]*models.Prediction{}}
}

func (r *fakePredictionRepo) Insert(_ context.Context, p *models.Prediction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%d|%s|%d", p.ActiveModelID, p.CoinID, p.DataTimestamp.UnixNano())
	if existing, ok := r.rows[key]; ok {
		*p = *existing
		return false, nil
	}
	r.nextID++
	p.ID = r.nextID
	cp := *p
	r.rows[key] = &cp
	return true, nil
}

func (r *fakePredictionRepo) List(context.Context, models.PredictionFilter) ([]*models.Prediction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Prediction
	for _, p := range r.rows {
		out = append(out, p)
	}
	return out, int64(len(out)), nil
}

func (r *fakePredictionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakeAlertRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.AlertEvaluation
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{rows: map[int64]*models.AlertEvaluation{}}
}

func (r *fakeAlertRepo) CreatePending(_ context.Context, a *models.AlertEvaluation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.rows {
		if ex.PredictionID == a.PredictionID {
			return false, nil
		}
	}
	r.nextID++
	a.ID = r.nextID
	cp := *a
	r.rows[a.ID] = &cp
	return true, nil
}

func (r *fakeAlertRepo) Due(_ context.Context, now time.Time, limit int) ([]*models.AlertEvaluation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AlertEvaluation
	for _, a := range r.rows {
		if a.Status == models.AlertPending && !a.EvaluationTimestamp.After(now) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeAlertRepo) Resolve(_ context.Context, id int64, o models.AlertOutcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Status != models.AlertPending {
		return false, nil
	}
	at := o.EvaluatedAt
	a.Status, a.EvaluatedAt = o.Status, &at
	a.PriceAtAlert, a.PriceAtEval = o.PriceAtAlert, o.PriceAtEval
	a.ChartBaselinePrice, a.ActualChangePct = o.ChartBaseline, o.ActualChangePct
	return true, nil
}

func (r *fakeAlertRepo) List(context.Context, models.AlertFilter) ([]*models.AlertEvaluation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AlertEvaluation
	for _, a := range r.rows {
		out = append(out, a)
	}
	return out, int64(len(out)), nil
}

func (r *fakeAlertRepo) Stats(context.Context) (*models.AlertStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := &models.AlertStats{ByStatus: map[string]int64{}}
	for _, a := range r.rows {
		st.Total++
		st.ByStatus[string(a.Status)]++
	}
	return st, nil
}

func (r *fakeAlertRepo) get(id int64) models.AlertEvaluation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

type fakeActiveRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.ActiveModel
}

func newFakeActiveRepo(list ...*models.ActiveModel) *fakeActiveRepo {
	r := &fakeActiveRepo{rows: map[int64]*models.ActiveModel{}}
	for _, a := range list {
		r.Create(context.Background(), a)
	}
	return r
}

func (r *fakeActiveRepo) Create(_ context.Context, a *models.ActiveModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == 0 {
		r.nextID++
		a.ID = r.nextID
	}
	cp := *a
	r.rows[a.ID] = &cp
	return nil
}

func (r *fakeActiveRepo) Get(_ context.Context, id int64) (*models.ActiveModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, models.NewNotFoundError("active model", id)
	}
	cp := *a
	return &cp, nil
}

func (r *fakeActiveRepo) List(_ context.Context, activeOnly bool) ([]*models.ActiveModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ActiveModel
	for _, a := range r.rows {
		if !activeOnly || a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeActiveRepo) SetActive(_ context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return models.NewNotFoundError("active model", id)
	}
	a.IsActive = active
	return nil
}

func (r *fakeActiveRepo) UpdateConfig(_ context.Context, a *models.ActiveModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[a.ID]; !ok {
		return models.NewNotFoundError("active model", a.ID)
	}
	cp := *a
	r.rows[a.ID] = &cp
	return nil
}

func (r *fakeActiveRepo) UpdateLocalPath(_ context.Context, id int64, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[id]; ok {
		a.LocalModelPath = path
	}
	return nil
}

func (r *fakeActiveRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return models.NewNotFoundError("active model", id)
	}
	delete(r.rows, id)
	return nil
}

type loaded struct {
	clf ml.Classifier
	art *ml.Artifact
	err error
}

type fakeLoader struct {
	byID  map[int64]loaded
	panic int64
}

func (l *fakeLoader) Load(_ context.Context, a *models.ActiveModel) (ml.Classifier, *ml.Artifact, error) {
	if a.ID == l.panic {
		panic("corrupt artifact")
	}
	v, ok := l.byID[a.ID]
	if !ok {
		return nil, nil, &models.ArtifactMissingError{ModelID: a.ModelID, Path: a.LocalModelPath}
	}
	return v.clf, v.art, v.err
}

type sentNotification struct {
	active *models.ActiveModel
	n      *models.Notification
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, a *models.ActiveModel, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{active: a, n: n})
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// priceClassifier is a fitted forest on one feature: label 1 when x >= 1.5.
func priceClassifier(t testing.TB, features []string) loaded {
	t.Helper()
	clf, err := ml.New(models.KindRandomForest, map[string]any{"n_estimators": float64(10)})
	if err != nil {
		t.Fatal(err)
	}
	var X [][]float64
	var y []int
	for i := 0; i < 40; i++ {
		x := 1 + float64(i)*0.025
		X = append(X, []float64{x})
		if x >= 1.5 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}
	if err := clf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	art, err := ml.NewArtifact("m", features, clf)
	if err != nil {
		t.Fatal(err)
	}
	return loaded{clf: clf, art: art}
}
