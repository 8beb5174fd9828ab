package ml

import (
	"sort"

	"CoinPulse/internal/domain/models"
)

// Evaluate scores class-1 probabilities against held-out labels at a 0.5 threshold.
// Undefined ratios (no predicted or no actual positives) are reported as 0 so the
// result always encodes as JSON.
func Evaluate(y []int, proba [][2]float64) *models.EvalMetrics {
	pred := labels(proba)
	var c models.Confusion
	for i, actual := range y {
		switch {
		case actual == 1 && pred[i] == 1:
			c.TP++
		case actual == 0 && pred[i] == 1:
			c.FP++
		case actual == 0 && pred[i] == 0:
			c.TN++
		default:
			c.FN++
		}
	}
	n := len(y)
	m := &models.EvalMetrics{
		Confusion:    c,
		ClassBalance: models.ClassBalance{Positive: c.TP + c.FN, Negative: c.TN + c.FP},
		TestSize:     n,
	}
	if n == 0 {
		return m
	}
	m.Accuracy = ratio(c.TP+c.TN, n)
	m.Precision = ratio(c.TP, c.TP+c.FP)
	m.Recall = ratio(c.TP, c.TP+c.FN)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.PositiveRate = ratio(c.TP+c.FP, n)

	scores := make([]float64, n)
	for i, p := range proba {
		scores[i] = p[1]
	}
	m.ROCAUC = rocAUC(y, scores)
	return m
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// rocAUC is the Mann-Whitney statistic with average ranks for ties. A single-class
// set has no ranking to measure and returns 0.
func rocAUC(y []int, score []float64) float64 {
	n := len(y)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return score[idx[a]] < score[idx[b]] })

	var nPos, nNeg int
	var rankSum float64
	for i := 0; i < n; {
		j := i
		for j < n && score[idx[j]] == score[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks i+1..j
		for k := i; k < j; k++ {
			if y[idx[k]] == 1 {
				rankSum += avg
				nPos++
			} else {
				nNeg++
			}
		}
		i = j
	}
	if nPos == 0 || nNeg == 0 {
		return 0
	}
	return (rankSum - float64(nPos*(nPos+1))/2) / float64(nPos*nNeg)
}

// FoldScore summarises one cross-validation fold.
func FoldScore(fold int, m *models.EvalMetrics, trainSize int) models.FoldScore {
	return models.FoldScore{
		Fold:      fold,
		Accuracy:  m.Accuracy,
		F1:        m.F1,
		TrainSize: trainSize,
		TestSize:  m.TestSize,
	}
}
