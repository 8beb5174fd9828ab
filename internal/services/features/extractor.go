package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"CoinPulse/internal/domain/models"

	"gonum.org/v1/gonum/stat"
)

// Derived feature names.
const (
	FeatureBuyPressure     = "buy_pressure"
	FeatureNetVolume       = "net_volume_sol"
	FeaturePriceVsATH      = "price_vs_ath_pct"
	FeatureMinutesSinceATH = "minutes_since_ath"
)

// RollingMean is the mean of the last w values including the current one. The first w-1
// entries are NaN.
func RollingMean(x []float64, w int) []float64 {
	out := nanSlice(len(x))
	if w <= 0 {
		return out
	}
	for i := w - 1; i < len(x); i++ {
		out[i] = stat.Mean(x[i-w+1:i+1], nil)
	}
	return out
}

// RollingStd is the sample standard deviation over the last w values.
func RollingStd(x []float64, w int) []float64 {
	out := nanSlice(len(x))
	if w < 2 {
		return out
	}
	for i := w - 1; i < len(x); i++ {
		out[i] = stat.StdDev(x[i-w+1:i+1], nil)
	}
	return out
}

// PctChange is (x[t] - x[t-w]) / x[t-w] * 100. A zero base yields NaN.
func PctChange(x []float64, w int) []float64 {
	out := nanSlice(len(x))
	if w <= 0 {
		return out
	}
	for i := w; i < len(x); i++ {
		base := x[i-w]
		if base == 0 {
			continue
		}
		out[i] = (x[i] - base) / base * 100
	}
	return out
}

// BuyPressure is buy/(buy+sell). Bars without volume are neutral (0.5).
func BuyPressure(buy, sell []float64) []float64 {
	out := make([]float64, len(buy))
	for i := range buy {
		total := buy[i] + sell[i]
		if total == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = buy[i] / total
	}
	return out
}

func NetVolume(buy, sell []float64) []float64 {
	out := make([]float64, len(buy))
	for i := range buy {
		out[i] = buy[i] - sell[i]
	}
	return out
}

// PriceVsATH is (price - ath) / ath * 100; unknown or non-positive ATH yields NaN.
func PriceVsATH(price, ath []float64) []float64 {
	out := nanSlice(len(price))
	for i := range price {
		if math.IsNaN(ath[i]) || ath[i] <= 0 {
			continue
		}
		out[i] = (price[i] - ath[i]) / ath[i] * 100
	}
	return out
}

// MinutesSinceATH counts minutes since the latest row at or above its ATH. Before the
// first such row it counts from the start of the series.
func MinutesSinceATH(ts []time.Time, price, ath []float64) []float64 {
	out := make([]float64, len(ts))
	last := 0
	for i := range ts {
		if !math.IsNaN(ath[i]) && price[i] >= ath[i] {
			last = i
		}
		out[i] = ts[i].Sub(ts[last]).Minutes()
	}
	return out
}

// forwardFill replaces NaN with the last seen value. Leading NaNs stay.
func forwardFill(x []float64) []float64 {
	out := make([]float64, len(x))
	prev := math.NaN()
	for i, v := range x {
		if !math.IsNaN(v) {
			prev = v
		}
		out[i] = prev
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

type derived struct {
	stem   string
	window int
}

func (d derived) name() string {
	if d.window == 0 {
		return d.stem
	}
	return fmt.Sprintf("%s_%d", d.stem, d.window)
}

// derivedFeatures lists engineered columns sorted by (stem, window).
func derivedFeatures(cfg models.FeatureConfig) []derived {
	var out []derived
	base := dedupe(cfg.Features)
	if cfg.UseEngineered {
		for _, c := range base {
			for _, w := range dedupeInts(cfg.Windows) {
				out = append(out,
					derived{c + "_rolling_mean", w},
					derived{c + "_rolling_std", w},
					derived{c + "_pct_change", w},
				)
			}
		}
		if contains(base, models.ColumnBuyVolume) && contains(base, models.ColumnSellVolume) {
			out = append(out, derived{FeatureBuyPressure, 0}, derived{FeatureNetVolume, 0})
		}
	}
	if cfg.UseATH {
		out = append(out, derived{FeaturePriceVsATH, 0}, derived{FeatureMinutesSinceATH, 0})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].stem != out[j].stem {
			return out[i].stem < out[j].stem
		}
		return out[i].window < out[j].window
	})
	return out
}

// ColumnsFor returns the feature columns a config produces: base columns sorted by name,
// then derived columns sorted by stem and window.
func ColumnsFor(cfg models.FeatureConfig) []string {
	base := dedupe(cfg.Features)
	sort.Strings(base)
	cols := append([]string{}, base...)
	for _, d := range derivedFeatures(cfg) {
		if !contains(cols, d.name()) {
			cols = append(cols, d.name())
		}
	}
	return cols
}

// engineer computes every derived column for one coin's cleaned series.
func engineer(cfg models.FeatureConfig, ts []time.Time, cols map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64)
	for _, d := range derivedFeatures(cfg) {
		switch d.stem {
		case FeatureBuyPressure:
			out[d.name()] = BuyPressure(cols[models.ColumnBuyVolume], cols[models.ColumnSellVolume])
		case FeatureNetVolume:
			out[d.name()] = NetVolume(cols[models.ColumnBuyVolume], cols[models.ColumnSellVolume])
		case FeaturePriceVsATH:
			out[d.name()] = PriceVsATH(cols[models.ColumnPriceClose], cols[models.ColumnATHPrice])
		case FeatureMinutesSinceATH:
			out[d.name()] = MinutesSinceATH(ts, cols[models.ColumnPriceClose], cols[models.ColumnATHPrice])
		default:
			c, kind := splitStem(d.stem)
			switch kind {
			case "rolling_mean":
				out[d.name()] = RollingMean(cols[c], d.window)
			case "rolling_std":
				out[d.name()] = RollingStd(cols[c], d.window)
			case "pct_change":
				out[d.name()] = PctChange(cols[c], d.window)
			}
		}
	}
	return out
}

func splitStem(stem string) (column, kind string) {
	for _, k := range []string{"rolling_mean", "rolling_std", "pct_change"} {
		suffix := "_" + k
		if len(stem) > len(suffix) && stem[len(stem)-len(suffix):] == suffix {
			return stem[:len(stem)-len(suffix)], k
		}
	}
	return stem, ""
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func dedupeInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
