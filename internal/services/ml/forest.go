package ml

import (
	"fmt"
	"math/rand"
	"runtime"

	"CoinPulse/internal/domain/models"

	"golang.org/x/sync/errgroup"
)

// RandomForest averages the class-1 leaf frequencies of bootstrapped gini trees.
type RandomForest struct {
	Trees       []*Tree
	NumFeatures int

	params      Params
	nEstimators int
	bootstrap   bool
	seed        int64
	cfg         treeConfig
}

func newRandomForest(p Params) (*RandomForest, error) {
	rf := &RandomForest{params: p}
	var err error
	if rf.nEstimators, err = p.Int("n_estimators", 100); err != nil {
		return nil, err
	}
	if err = positive("n_estimators", rf.nEstimators); err != nil {
		return nil, err
	}
	if rf.cfg.maxDepth, err = p.Int("max_depth", 0); err != nil {
		return nil, err
	}
	if rf.cfg.minSamplesSplit, err = p.Int("min_samples_split", 2); err != nil {
		return nil, err
	}
	if rf.cfg.minSamplesLeaf, err = p.Int("min_samples_leaf", 1); err != nil {
		return nil, err
	}
	if err = positive("min_samples_leaf", rf.cfg.minSamplesLeaf); err != nil {
		return nil, err
	}
	if rf.bootstrap, err = p.Bool("bootstrap", true); err != nil {
		return nil, err
	}
	if rf.seed, err = p.Seed(); err != nil {
		return nil, err
	}
	if _, err = p.maxFeatures(1, "sqrt"); err != nil {
		return nil, err
	}
	if rf.cfg.maxDepth < 0 {
		return nil, models.NewValidationError("params.max_depth", "must be >= 0")
	}
	return rf, nil
}

func (rf *RandomForest) Kind() models.ModelKind { return models.KindRandomForest }

// Fit grows trees concurrently. Per-tree seeds are drawn up front so the result does
// not depend on scheduling.
func (rf *RandomForest) Fit(X [][]float64, y []int) error {
	if err := checkFitInput(X, y); err != nil {
		return err
	}
	k, err := rf.params.maxFeatures(len(X[0]), "sqrt")
	if err != nil {
		return err
	}
	cfg := rf.cfg
	cfg.maxFeatures = k

	yf := make([]float64, len(y))
	for i, v := range y {
		yf[i] = float64(v)
	}
	master := rand.New(rand.NewSource(rf.seed))
	seeds := make([]int64, rf.nEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*Tree, rf.nEstimators)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range trees {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("tree %d: %v", t, r)
				}
			}()
			rng := rand.New(rand.NewSource(seeds[t]))
			idx := make([]int, len(X))
			for i := range idx {
				if rf.bootstrap {
					idx[i] = rng.Intn(len(X))
				} else {
					idx[i] = i
				}
			}
			trees[t] = growTree(X, yf, idx, cfg, rng, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	rf.Trees = trees
	rf.NumFeatures = len(X[0])
	return nil
}

func (rf *RandomForest) PredictProba(X [][]float64) [][2]float64 {
	out := make([][2]float64, len(X))
	if len(rf.Trees) == 0 {
		return out
	}
	for i, x := range X {
		var s float64
		for _, t := range rf.Trees {
			s += t.Predict(x)
		}
		p := s / float64(len(rf.Trees))
		out[i] = [2]float64{1 - p, p}
	}
	return out
}

func (rf *RandomForest) Predict(X [][]float64) []int { return labels(rf.PredictProba(X)) }
