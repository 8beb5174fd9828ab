package ml

import (
	"math/rand"
	"sort"
)

const (
	smoteNeighbours = 5
	smoteMaxShare   = 0.4
)

// ShouldOversample reports whether the positive share lies in (0, 0.4).
func ShouldOversample(y []int) bool {
	if len(y) == 0 {
		return false
	}
	pos := 0
	for _, v := range y {
		pos += v
	}
	share := float64(pos) / float64(len(y))
	return share > 0 && share < smoteMaxShare
}

// SMOTE appends synthetic positives until the classes balance. Each synthetic row lies on
// the segment between a positive and one of its k nearest positive neighbours, with
// k = min(5, positives-1). Fewer than two positives leaves the input unchanged.
// The input slices are not modified.
func SMOTE(X [][]float64, y []int, rng *rand.Rand) ([][]float64, []int) {
	var pos []int
	for i, v := range y {
		if v == 1 {
			pos = append(pos, i)
		}
	}
	need := len(y) - 2*len(pos)
	if len(pos) < 2 || need <= 0 {
		return X, y
	}
	k := min(smoteNeighbours, len(pos)-1)
	neighbours := nearest(X, pos, k)

	outX := append(make([][]float64, 0, len(X)+need), X...)
	outY := append(make([]int, 0, len(y)+need), y...)
	for s := 0; s < need; s++ {
		a := s % len(pos)
		base := X[pos[a]]
		nb := X[neighbours[a][rng.Intn(k)]]
		gap := rng.Float64()
		row := make([]float64, len(base))
		for j := range base {
			row[j] = base[j] + gap*(nb[j]-base[j])
		}
		outX = append(outX, row)
		outY = append(outY, 1)
	}
	return outX, outY
}

// nearest returns, for every row in pos, the row indices of its k nearest other rows in pos.
func nearest(X [][]float64, pos []int, k int) [][]int {
	out := make([][]int, len(pos))
	type cand struct {
		row  int
		dist float64
	}
	cands := make([]cand, 0, len(pos)-1)
	for a, i := range pos {
		cands = cands[:0]
		for _, j := range pos {
			if j == i {
				continue
			}
			cands = append(cands, cand{row: j, dist: sqDist(X[i], X[j])})
		}
		sort.SliceStable(cands, func(p, q int) bool { return cands[p].dist < cands[q].dist })
		out[a] = make([]int, k)
		for n := 0; n < k; n++ {
			out[a][n] = cands[n].row
		}
	}
	return out
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
