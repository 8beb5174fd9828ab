package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const DefaultTestFraction = 0.2

// Fold holds row indices. For time-series folds every train index precedes every test
// index in the ordering the caller supplied.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedSplit shuffles each class separately and holds out round(n_c * testFrac) rows
// of each class, at least one when the class has two or more rows.
func StratifiedSplit(y []int, testFrac float64, rng *rand.Rand) (Fold, error) {
	if testFrac <= 0 || testFrac >= 1 {
		return Fold{}, fmt.Errorf("test fraction %.2f outside (0,1)", testFrac)
	}
	var byClass [2][]int
	for i, v := range y {
		byClass[v] = append(byClass[v], i)
	}
	var f Fold
	for _, rows := range byClass {
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		nTest := int(math.Round(float64(len(rows)) * testFrac))
		if nTest == 0 && len(rows) >= 2 {
			nTest = 1
		}
		f.Test = append(f.Test, rows[:nTest]...)
		f.Train = append(f.Train, rows[nTest:]...)
	}
	if len(f.Train) == 0 || len(f.Test) == 0 {
		return Fold{}, fmt.Errorf("%d rows are too few for a %.0f/%.0f split", len(y), 100*(1-testFrac), 100*testFrac)
	}
	sort.Ints(f.Train)
	sort.Ints(f.Test)
	return f, nil
}

// TimeSeriesSplit returns k expanding-window folds over n ordered rows. Each test block
// has n/(k+1) rows and the training set is everything before it.
func TimeSeriesSplit(n, k int) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 splits, got %d", k)
	}
	size := n / (k + 1)
	if size < 1 {
		return nil, fmt.Errorf("%d rows are too few for %d splits", n, k)
	}
	folds := make([]Fold, k)
	for i := range folds {
		start := n - (k-i)*size
		folds[i] = Fold{Train: seq(0, start), Test: seq(start, start+size)}
	}
	return folds, nil
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
