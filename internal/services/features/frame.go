package features

import (
	"sort"
	"time"
)

// RowKey identifies one frame row.
type RowKey struct {
	CoinID    string
	Timestamp time.Time
}

// Frame is a column-major feature table. Rows are grouped by coin and ascending in time
// within a coin. Columns lists the model features in their fixed order; auxiliary columns
// (label targets, prices for ATH maths) are reachable through Column but are not features.
type Frame struct {
	Keys    []RowKey
	Columns []string
	data    map[string][]float64
}

func newFrame(columns []string) *Frame {
	return &Frame{Columns: columns, data: make(map[string][]float64)}
}

func (f *Frame) Len() int { return len(f.Keys) }

// Column returns a feature or auxiliary column by name.
func (f *Frame) Column(name string) ([]float64, bool) {
	v, ok := f.data[name]
	return v, ok
}

// Row returns the feature vector of row i in Columns order.
func (f *Frame) Row(i int) []float64 {
	out := make([]float64, len(f.Columns))
	for j, c := range f.Columns {
		out[j] = f.data[c][i]
	}
	return out
}

// Matrix returns every row in Columns order.
func (f *Frame) Matrix() [][]float64 {
	out := make([][]float64, f.Len())
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}

// Coins lists distinct coins in frame order.
func (f *Frame) Coins() []string {
	var out []string
	for i, k := range f.Keys {
		if i == 0 || f.Keys[i-1].CoinID != k.CoinID {
			out = append(out, k.CoinID)
		}
	}
	return out
}

// CoinRows returns the [start, end) row range of every coin.
func (f *Frame) CoinRows() map[string][2]int {
	out := make(map[string][2]int)
	start := 0
	for i := 1; i <= len(f.Keys); i++ {
		if i == len(f.Keys) || f.Keys[i].CoinID != f.Keys[start].CoinID {
			out[f.Keys[start].CoinID] = [2]int{start, i}
			start = i
		}
	}
	return out
}

// LatestAtOrBefore returns the index of the newest row with Timestamp <= t for coin, or -1.
func (f *Frame) LatestAtOrBefore(coin string, t time.Time) int {
	r, ok := f.CoinRows()[coin]
	if !ok {
		return -1
	}
	keys := f.Keys[r[0]:r[1]]
	i := sort.Search(len(keys), func(i int) bool { return keys[i].Timestamp.After(t) })
	if i == 0 {
		return -1
	}
	return r[0] + i - 1
}
