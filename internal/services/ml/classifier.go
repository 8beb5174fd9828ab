package ml

import (
	"fmt"
	"math"

	"CoinPulse/internal/domain/models"
)

const DefaultRandomState = 42

// Classifier is the narrow capability set shared by training and prediction.
// PredictProba returns [P(class 0), P(class 1)] per row.
type Classifier interface {
	Kind() models.ModelKind
	Fit(X [][]float64, y []int) error
	Predict(X [][]float64) []int
	PredictProba(X [][]float64) [][2]float64
}

// New builds an unfitted classifier of the given kind.
func New(kind models.ModelKind, params map[string]any) (Classifier, error) {
	p := Params(params)
	switch kind {
	case models.KindRandomForest:
		return newRandomForest(p)
	case models.KindGradientBoosting:
		return newGradientBoosting(p)
	}
	return nil, models.NewValidationError("model_type", "unknown model type %q", kind)
}

// Params are user hyperparameters as decoded from JSON.
type Params map[string]any

func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, models.NewValidationError("params."+key, "must be an integer, got %v", n)
		}
		return int(n), nil
	}
	return 0, models.NewValidationError("params."+key, "must be a number, got %T", v)
}

func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, models.NewValidationError("params."+key, "must be a number, got %T", v)
}

func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, models.NewValidationError("params."+key, "must be a boolean, got %T", v)
	}
	return b, nil
}

// Seed returns random_state, defaulting to DefaultRandomState.
func (p Params) Seed() (int64, error) {
	s, err := p.Int("random_state", DefaultRandomState)
	return int64(s), err
}

// maxFeatures resolves max_features against the number of columns: "sqrt", "log2",
// an absolute count or a fraction in (0,1].
func (p Params) maxFeatures(nFeatures int, def string) (int, error) {
	v, ok := p["max_features"]
	if !ok || v == nil {
		v = def
	}
	var k int
	switch x := v.(type) {
	case string:
		switch x {
		case "sqrt":
			k = int(math.Sqrt(float64(nFeatures)))
		case "log2":
			k = int(math.Log2(float64(nFeatures)))
		case "all", "":
			k = nFeatures
		default:
			return 0, models.NewValidationError("params.max_features", "unknown value %q", x)
		}
	case float64:
		if x > 0 && x <= 1 && x != math.Trunc(x) {
			k = int(x * float64(nFeatures))
		} else {
			k = int(x)
		}
	case int:
		k = x
	default:
		return 0, models.NewValidationError("params.max_features", "unsupported type %T", v)
	}
	if k < 1 {
		k = 1
	}
	if k > nFeatures {
		k = nFeatures
	}
	return k, nil
}

func positive(key string, v int) error {
	if v < 1 {
		return models.NewValidationError("params."+key, "must be >= 1, got %d", v)
	}
	return nil
}

func checkFitInput(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("X has %d rows, y has %d", len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return fmt.Errorf("no feature columns")
	}
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), width)
		}
	}
	for i, v := range y {
		if v != 0 && v != 1 {
			return fmt.Errorf("label %d at row %d is not binary", v, i)
		}
	}
	return nil
}

// labels thresholds class-1 probabilities at 0.5.
func labels(proba [][2]float64) []int {
	out := make([]int, len(proba))
	for i, p := range proba {
		if p[1] >= 0.5 {
			out[i] = 1
		}
	}
	return out
}
