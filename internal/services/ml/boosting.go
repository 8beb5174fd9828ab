package ml

import (
	"math"
	"math/rand"

	"CoinPulse/internal/domain/models"
)

// GradientBoosting is binary log-loss boosting of regression trees. Leaves hold a
// single Newton step; the raw score is Init + LearningRate * Σ tree(x).
type GradientBoosting struct {
	Init         float64
	LearningRate float64
	Trees        []*Tree
	NumFeatures  int

	params      Params
	nEstimators int
	subsample   float64
	seed        int64
	cfg         treeConfig
}

func newGradientBoosting(p Params) (*GradientBoosting, error) {
	gb := &GradientBoosting{params: p}
	var err error
	if gb.nEstimators, err = p.Int("n_estimators", 100); err != nil {
		return nil, err
	}
	if err = positive("n_estimators", gb.nEstimators); err != nil {
		return nil, err
	}
	if gb.LearningRate, err = p.Float("learning_rate", 0.1); err != nil {
		return nil, err
	}
	if gb.LearningRate <= 0 {
		return nil, models.NewValidationError("params.learning_rate", "must be > 0")
	}
	if gb.cfg.maxDepth, err = p.Int("max_depth", 3); err != nil {
		return nil, err
	}
	if err = positive("max_depth", gb.cfg.maxDepth); err != nil {
		return nil, err
	}
	if gb.cfg.minSamplesSplit, err = p.Int("min_samples_split", 2); err != nil {
		return nil, err
	}
	if gb.cfg.minSamplesLeaf, err = p.Int("min_samples_leaf", 1); err != nil {
		return nil, err
	}
	if err = positive("min_samples_leaf", gb.cfg.minSamplesLeaf); err != nil {
		return nil, err
	}
	if gb.subsample, err = p.Float("subsample", 1.0); err != nil {
		return nil, err
	}
	if gb.subsample <= 0 || gb.subsample > 1 {
		return nil, models.NewValidationError("params.subsample", "must be within (0,1]")
	}
	if gb.seed, err = p.Seed(); err != nil {
		return nil, err
	}
	if _, err = p.maxFeatures(1, "all"); err != nil {
		return nil, err
	}
	return gb, nil
}

func (gb *GradientBoosting) Kind() models.ModelKind { return models.KindGradientBoosting }

func (gb *GradientBoosting) Fit(X [][]float64, y []int) error {
	if err := checkFitInput(X, y); err != nil {
		return err
	}
	k, err := gb.params.maxFeatures(len(X[0]), "all")
	if err != nil {
		return err
	}
	cfg := gb.cfg
	cfg.maxFeatures = k

	n := len(X)
	var pos float64
	for _, v := range y {
		pos += float64(v)
	}
	prior := math.Min(math.Max(pos/float64(n), 1e-6), 1-1e-6)
	gb.Init = math.Log(prior / (1 - prior))

	rng := rand.New(rand.NewSource(gb.seed))
	raw := make([]float64, n)
	for i := range raw {
		raw[i] = gb.Init
	}
	resid := make([]float64, n)
	hess := make([]float64, n)
	newton := func(idx []int) float64 {
		var num, den float64
		for _, i := range idx {
			num += resid[i]
			den += hess[i]
		}
		if den < 1e-12 {
			return 0
		}
		return num / den
	}

	gb.Trees = make([]*Tree, 0, gb.nEstimators)
	for m := 0; m < gb.nEstimators; m++ {
		for i := range raw {
			p := sigmoid(raw[i])
			resid[i] = float64(y[i]) - p
			hess[i] = p * (1 - p)
		}
		idx := rng.Perm(n)
		if gb.subsample < 1 {
			idx = idx[:max(1, int(gb.subsample*float64(n)))]
		}
		t := growTree(X, resid, idx, cfg, rng, newton)
		for i, x := range X {
			raw[i] += gb.LearningRate * t.Predict(x)
		}
		gb.Trees = append(gb.Trees, t)
	}
	gb.NumFeatures = len(X[0])
	return nil
}

func (gb *GradientBoosting) PredictProba(X [][]float64) [][2]float64 {
	out := make([][2]float64, len(X))
	for i, x := range X {
		s := gb.Init
		for _, t := range gb.Trees {
			s += gb.LearningRate * t.Predict(x)
		}
		p := sigmoid(s)
		out[i] = [2]float64{1 - p, p}
	}
	return out
}

func (gb *GradientBoosting) Predict(X [][]float64) []int { return labels(gb.PredictProba(X)) }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
