package features

import (
	"context"
	"math"
	"time"

	"CoinPulse/internal/domain/models"
	"CoinPulse/internal/domain/repository"
	"CoinPulse/pkg/logger"
)

const (
	DefaultMinRowsPerCoin = 30
	minATHCoverage        = 0.10
	minInferenceLookback  = 60 * time.Minute
)

// Request describes a training frame.
type Request struct {
	CoinIDs []string // empty means every coin
	From    time.Time
	To      time.Time
	Phases  []int
	Config  models.FeatureConfig
	// Aux columns are loaded and NULL-cleaned with the features but not exposed as features.
	Aux []string
}

// Stats are the cleaning counters logged for every build.
type Stats struct {
	RowsBefore  int
	RowsAfter   int
	CoinsBefore int
	CoinsAfter  int
}

type Assembler struct {
	store   repository.MetricsStore
	logger  *logger.Logger
	minRows int
}

type Option func(*Assembler)

// WithMinRowsPerCoin sets the training-time coin cut-off.
func WithMinRowsPerCoin(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.minRows = n
		}
	}
}

func NewAssembler(store repository.MetricsStore, lgr *logger.Logger, opts ...Option) *Assembler {
	if lgr == nil {
		lgr = logger.Nop()
	}
	a := &Assembler{store: store, logger: lgr, minRows: DefaultMinRowsPerCoin}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build loads and engineers a training frame.
func (a *Assembler) Build(ctx context.Context, req Request) (*Frame, error) {
	if len(req.Config.Features) == 0 {
		return nil, models.NewFeatureError("no features requested")
	}
	loaded := loadColumns(req.Config, req.Aux)
	rows, err := a.store.Load(ctx, models.MetricsQuery{
		CoinIDs: req.CoinIDs,
		From:    req.From,
		To:      req.To,
		Columns: loaded,
		Phases:  req.Phases,
	})
	if err != nil {
		return nil, err
	}
	frame, st, err := assemble(rows, loaded, req.Config, req.Aux, a.minRows)
	a.logger.Info("feature frame cleaned",
		logger.Int("rows_before", st.RowsBefore),
		logger.Int("rows_after", st.RowsAfter),
		logger.Int("coins_before", st.CoinsBefore),
		logger.Int("coins_after", st.CoinsAfter),
		logger.Int("features", len(ColumnsFor(req.Config))),
	)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// InferenceLookback is the history needed to warm up every engineered window.
func InferenceLookback(cfg models.FeatureConfig) time.Duration {
	d := time.Duration(cfg.MaxWindow()+5) * time.Minute
	if d < minInferenceLookback {
		d = minInferenceLookback
	}
	return d
}

// BuildInference builds the frame for one coin up to at. Any coin with a clean row survives.
func (a *Assembler) BuildInference(ctx context.Context, coinID string, at time.Time, cfg models.FeatureConfig) (*Frame, error) {
	if len(cfg.Features) == 0 {
		return nil, models.NewFeatureError("no features configured")
	}
	loaded := loadColumns(cfg, nil)
	rows, err := a.store.LoadHistory(ctx, coinID, at, InferenceLookback(cfg), loaded)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, models.NewFeatureError("insufficient history for %s up to %s", coinID, at.Format(time.RFC3339))
	}
	frame, st, err := assemble(rows, loaded, cfg, nil, 1)
	if err != nil {
		return nil, &models.FeatureError{Reason: "insufficient history for " + coinID, Err: err}
	}
	a.logger.Debug("inference frame built",
		logger.String("coin_id", coinID),
		logger.Int("rows_before", st.RowsBefore),
		logger.Int("rows_after", st.RowsAfter),
	)
	return frame, nil
}

// loadColumns is the de-duplicated store projection. ATH features pull price and ATH.
func loadColumns(cfg models.FeatureConfig, aux []string) []string {
	cols := append([]string{}, cfg.Features...)
	cols = append(cols, aux...)
	if cfg.UseATH {
		cols = append(cols, models.ColumnPriceClose, models.ColumnATHPrice)
	}
	out := make([]string, 0, len(cols))
	for _, c := range dedupe(cols) {
		if c != models.ColumnCoinID && c != models.ColumnTimestamp {
			out = append(out, c)
		}
	}
	return out
}

// assemble runs the cleaning contract on raw store rows:
//  1. drop rows with NULL in any selected column
//  2. engineer per coin
//  3. drop warm-up rows with NaN features
//  4. drop coins with fewer than minRows rows
//
// The ATH column is forward-filled per coin instead of being NULL-dropped.
func assemble(rows []models.MetricRow, loaded []string, cfg models.FeatureConfig, aux []string, minRows int) (*Frame, Stats, error) {
	var st Stats
	st.RowsBefore = len(rows)

	pos := make(map[string]int, len(loaded))
	for i, c := range loaded {
		pos[c] = i
	}
	strict := make([]int, 0, len(loaded))
	for _, c := range loaded {
		if cfg.UseATH && c == models.ColumnATHPrice && !contains(cfg.Features, c) && !contains(aux, c) {
			continue
		}
		strict = append(strict, pos[c])
	}

	featureCols := ColumnsFor(cfg)
	frame := newFrame(featureCols)
	var athSeen, athTotal int

	for start := 0; start < len(rows); {
		end := start + 1
		for end < len(rows) && rows[end].CoinID == rows[start].CoinID {
			end++
		}
		st.CoinsBefore++
		coinRows := rows[start:end]
		start = end

		// 1. NULL drop
		clean := coinRows[:0:0]
		for _, r := range coinRows {
			ok := true
			for _, p := range strict {
				if math.IsNaN(r.Values[p]) {
					ok = false
					break
				}
			}
			if ok {
				clean = append(clean, r)
			}
		}
		if len(clean) == 0 {
			continue
		}

		ts := make([]time.Time, len(clean))
		cols := make(map[string][]float64, len(loaded))
		for _, c := range loaded {
			cols[c] = make([]float64, len(clean))
		}
		for i, r := range clean {
			ts[i] = r.Timestamp
			for _, c := range loaded {
				cols[c][i] = r.Values[pos[c]]
			}
		}
		if cfg.UseATH {
			for _, v := range cols[models.ColumnATHPrice] {
				athTotal++
				if !math.IsNaN(v) {
					athSeen++
				}
			}
			cols[models.ColumnATHPrice] = forwardFill(cols[models.ColumnATHPrice])
		}

		// 2. engineering
		for name, v := range engineer(cfg, ts, cols) {
			cols[name] = v
		}

		// 3. warm-up drop
		keep := make([]int, 0, len(clean))
		for i := range clean {
			ok := true
			for _, c := range featureCols {
				if math.IsNaN(cols[c][i]) {
					ok = false
					break
				}
			}
			if ok {
				keep = append(keep, i)
			}
		}

		// 4. coin cut-off
		if len(keep) < minRows {
			continue
		}
		st.CoinsAfter++
		for _, i := range keep {
			frame.Keys = append(frame.Keys, RowKey{CoinID: clean[i].CoinID, Timestamp: ts[i]})
		}
		for name, v := range cols {
			dst := frame.data[name]
			for _, i := range keep {
				dst = append(dst, v[i])
			}
			frame.data[name] = dst
		}
	}
	st.RowsAfter = frame.Len()

	if cfg.UseATH && athTotal > 0 && float64(athSeen)/float64(athTotal) < minATHCoverage {
		return nil, st, models.NewFeatureError("ath coverage %.1f%% below %.0f%%",
			100*float64(athSeen)/float64(athTotal), 100*minATHCoverage)
	}
	if frame.Len() == 0 {
		return nil, st, models.NewFeatureError("empty frame after cleaning (%d raw rows)", st.RowsBefore)
	}
	return frame, st, nil
}
