package features

import (
	"math"
	"sort"
	"time"

	"CoinPulse/internal/domain/models"
)

const (
	futureTolerance = time.Minute
	compareSlack    = 1e-9
)

// Dataset is a labelled feature matrix. X, Y and Keys always have equal length.
type Dataset struct {
	X        [][]float64
	Y        []int
	Features []string
	Keys     []RowKey
}

func (d *Dataset) Len() int { return len(d.Y) }

func (d *Dataset) Positives() int {
	n := 0
	for _, y := range d.Y {
		n += y
	}
	return n
}

// Subset returns the rows at idx, in idx order. Row slices are shared.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{
		X:        make([][]float64, len(idx)),
		Y:        make([]int, len(idx)),
		Features: d.Features,
		Keys:     make([]RowKey, len(idx)),
	}
	for i, j := range idx {
		out.X[i], out.Y[i], out.Keys[i] = d.X[j], d.Y[j], d.Keys[j]
	}
	return out
}

// Chronological returns row indices ordered by timestamp, coin order breaking ties.
func (d *Dataset) Chronological() []int {
	idx := make([]int, d.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return d.Keys[idx[a]].Timestamp.Before(d.Keys[idx[b]].Timestamp)
	})
	return idx
}

// FeatureColumns is the leakage guard. A time-based rule labels from the future of its
// target, so the target column itself is never a feature.
func FeatureColumns(features []string, rule models.LabelRule) []string {
	out := make([]string, 0, len(features))
	for _, f := range dedupe(features) {
		if rule.TimeBased && f == rule.TargetVar {
			continue
		}
		out = append(out, f)
	}
	return out
}

// LabelColumns are the auxiliary columns a rule needs loaded next to the features.
func LabelColumns(rule models.LabelRule) []string {
	if rule.TimeBased {
		return []string{models.ColumnPriceClose}
	}
	return []string{rule.TargetVar}
}

// Classic labels row t as 1 iff target(t) <op> value. Every row is kept.
func Classic(f *Frame, rule models.LabelRule) ([]int, []bool, error) {
	col, ok := f.Column(rule.TargetVar)
	if !ok {
		return nil, nil, models.NewFeatureError("column missing: %s", rule.TargetVar)
	}
	labels := make([]int, len(col))
	keep := make([]bool, len(col))
	for i, v := range col {
		hit, err := compare(v, rule.Operator, rule.TargetValue)
		if err != nil {
			return nil, nil, err
		}
		if hit {
			labels[i] = 1
		}
		keep[i] = true
	}
	return labels, keep, nil
}

func compare(v float64, op string, target float64) (bool, error) {
	switch op {
	case ">":
		return v > target, nil
	case "<":
		return v < target, nil
	case ">=":
		return v >= target, nil
	case "<=":
		return v <= target, nil
	case "==":
		return v == target, nil
	case "!=":
		return v != target, nil
	}
	return false, models.NewValidationError("operator", "unsupported operator %q", op)
}

// TimeBased labels row t from the price change to the row nearest t+h within a minute.
// Equidistant candidates resolve to the later row. Rows without a future row are dropped.
func TimeBased(f *Frame, rule models.LabelRule) ([]int, []bool, error) {
	price, ok := f.Column(models.ColumnPriceClose)
	if !ok {
		return nil, nil, models.NewFeatureError("column missing: %s", models.ColumnPriceClose)
	}
	h := time.Duration(rule.FutureMinutes) * time.Minute
	labels := make([]int, f.Len())
	keep := make([]bool, f.Len())

	for _, r := range f.CoinRows() {
		keys := f.Keys[r[0]:r[1]]
		for i := range keys {
			j := futureRow(keys, i, keys[i].Timestamp.Add(h))
			if j < 0 {
				continue
			}
			p0, p1 := price[r[0]+i], price[r[0]+j]
			if p0 == 0 || math.IsNaN(p0) || math.IsNaN(p1) {
				continue
			}
			change := (p1 - p0) / p0 * 100
			keep[r[0]+i] = true
			if MovedEnough(change, rule.Direction, rule.MinPercentChange) {
				labels[r[0]+i] = 1
			}
		}
	}
	return labels, keep, nil
}

// MovedEnough compares inclusively, so a move exactly at the threshold counts.
func MovedEnough(change float64, dir models.Direction, minPct float64) bool {
	if dir == models.DirectionDown {
		return change <= -minPct+compareSlack
	}
	return change >= minPct-compareSlack
}

func futureRow(keys []RowKey, i int, target time.Time) int {
	lo := target.Add(-futureTolerance)
	hi := target.Add(futureTolerance)
	j := sort.Search(len(keys), func(k int) bool { return !keys[k].Timestamp.Before(lo) })
	best := -1
	var bestDist time.Duration
	for ; j < len(keys) && !keys[j].Timestamp.After(hi); j++ {
		if j <= i {
			continue
		}
		d := keys[j].Timestamp.Sub(target)
		if d < 0 {
			d = -d
		}
		if best < 0 || d <= bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

// BuildDataset labels the frame and keeps only rows with a label.
func BuildDataset(f *Frame, rule models.LabelRule) (*Dataset, error) {
	var (
		labels []int
		keep   []bool
		err    error
	)
	if rule.TimeBased {
		labels, keep, err = TimeBased(f, rule)
	} else {
		labels, keep, err = Classic(f, rule)
	}
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Features: append([]string{}, f.Columns...)}
	for i := range labels {
		if !keep[i] {
			continue
		}
		ds.X = append(ds.X, f.Row(i))
		ds.Y = append(ds.Y, labels[i])
		ds.Keys = append(ds.Keys, f.Keys[i])
	}
	if ds.Len() == 0 {
		return nil, models.NewFeatureError("no labelled rows")
	}
	return ds, nil
}
