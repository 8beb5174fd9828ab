package ml

import (
	"math/rand"
	"sort"
)

// Node is one tree node stored in a flat slice. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// Tree is a binary CART tree. Rows go left when x[Feature] <= Threshold.
type Tree struct {
	Nodes []Node
}

func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeConfig struct {
	maxDepth        int // 0 is unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 is every feature
}

// leafFunc computes a leaf value from the rows that reach it.
type leafFunc func(idx []int) float64

type treeBuilder struct {
	cfg      treeConfig
	X        [][]float64
	y        []float64
	rng      *rand.Rand
	leaf     leafFunc
	nodes    []Node
	features []int
	order    []int
}

type split struct {
	feature   int
	threshold float64
	score     float64
}

// growTree fits a tree on rows idx by variance reduction. For 0/1 targets the variance
// is half the gini impurity, so the same criterion serves classification and the
// regression trees of gradient boosting. idx is reordered in place.
func growTree(X [][]float64, y []float64, idx []int, cfg treeConfig, rng *rand.Rand, leaf leafFunc) *Tree {
	b := &treeBuilder{
		cfg:   cfg,
		X:     X,
		y:     y,
		rng:   rng,
		leaf:  leaf,
		order: make([]int, len(idx)),
	}
	if b.leaf == nil {
		b.leaf = b.mean
	}
	b.features = make([]int, len(X[0]))
	for i := range b.features {
		b.features[i] = i
	}
	b.build(idx, 0)
	return &Tree{Nodes: b.nodes}
}

func (b *treeBuilder) mean(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var s float64
	for _, i := range idx {
		s += b.y[i]
	}
	return s / float64(len(idx))
}

func (b *treeBuilder) build(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1})

	if b.stop(idx, depth) {
		b.nodes[id].Value = b.leaf(idx)
		return id
	}
	s, ok := b.bestSplit(idx)
	if !ok {
		b.nodes[id].Value = b.leaf(idx)
		return id
	}

	// partition in place: left rows first
	mid := 0
	for i, r := range idx {
		if b.X[r][s.feature] <= s.threshold {
			idx[mid], idx[i] = idx[i], idx[mid]
			mid++
		}
	}
	left := b.build(idx[:mid], depth+1)
	right := b.build(idx[mid:], depth+1)
	b.nodes[id] = Node{Feature: s.feature, Threshold: s.threshold, Left: left, Right: right}
	return id
}

func (b *treeBuilder) stop(idx []int, depth int) bool {
	n := len(idx)
	if b.cfg.maxDepth > 0 && depth >= b.cfg.maxDepth {
		return true
	}
	if n < b.cfg.minSamplesSplit || n < 2*b.cfg.minSamplesLeaf {
		return true
	}
	first := b.y[idx[0]]
	for _, i := range idx[1:] {
		if b.y[i] != first {
			return false
		}
	}
	return true
}

// candidates draws maxFeatures distinct columns with a partial Fisher-Yates shuffle.
func (b *treeBuilder) candidates() []int {
	k := b.cfg.maxFeatures
	if k <= 0 || k >= len(b.features) {
		return b.features
	}
	for i := 0; i < k; i++ {
		j := i + b.rng.Intn(len(b.features)-i)
		b.features[i], b.features[j] = b.features[j], b.features[i]
	}
	return b.features[:k]
}

// bestSplit maximises sumL²/nL + sumR²/nR, which minimises the children's squared error.
func (b *treeBuilder) bestSplit(idx []int) (split, bool) {
	n := len(idx)
	var total float64
	for _, i := range idx {
		total += b.y[i]
	}
	parent := total * total / float64(n)
	best := split{feature: -1, score: parent + 1e-12}
	minLeaf := max(b.cfg.minSamplesLeaf, 1)

	order := b.order[:n]
	for _, f := range b.candidates() {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return b.X[order[a]][f] < b.X[order[c]][f] })

		var left float64
		for i := 0; i < n-1; i++ {
			left += b.y[order[i]]
			lo, hi := b.X[order[i]][f], b.X[order[i+1]][f]
			if lo == hi {
				continue
			}
			nl := i + 1
			nr := n - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			right := total - left
			score := left*left/float64(nl) + right*right/float64(nr)
			if score > best.score {
				thr := lo + (hi-lo)/2
				if thr >= hi {
					thr = lo
				}
				best = split{feature: f, threshold: thr, score: score}
			}
		}
	}
	return best, best.feature >= 0
}
