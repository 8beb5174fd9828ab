package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	pkgch "CoinPulse/pkg/clickhouse"
	applogger "CoinPulse/pkg/logger"
)

// CoinMetricsStore implements MetricsStore on the read-only ClickHouse coin_metrics table.
type CoinMetricsStore struct {
	db    *sql.DB
	ch    *pkgch.Client
	table string
	l     *applogger.Logger

	mu      sync.Mutex
	catalog []string
}

func NewCoinMetricsStore(ch *pkgch.Client, table string, l *applogger.Logger) *CoinMetricsStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CoinMetricsStore{db: ch.DB(), ch: ch, table: table, l: l}
}

var _ domrepo.MetricsStore = (*CoinMetricsStore)(nil)

// Columns returns the table catalogue. It is fetched once and cached.
func (s *CoinMetricsStore) Columns(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog != nil {
		return s.catalog, nil
	}
	var cols []string
	err := withRetry(ctx, "list metric columns", func(ctx context.Context) error {
		var err error
		cols, err = s.ch.TableColumns(ctx, s.table)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, &models.DatabaseError{Op: "list metric columns", Err: fmt.Errorf("table %s not found", s.table)}
	}
	s.catalog = cols
	return cols, nil
}

func (s *CoinMetricsStore) Load(ctx context.Context, q models.MetricsQuery) ([]models.MetricRow, error) {
	start := time.Now()
	cols, err := s.checkColumns(ctx, q.Columns)
	if err != nil {
		return nil, err
	}
	query, args := buildLoadQuery(s.table, cols, q)
	out, err := s.queryRows(ctx, "load metrics", query, args, len(cols))
	if err != nil {
		s.l.Error("clickhouse load metrics error",
			applogger.String("table", s.table),
			applogger.Int("coins", len(q.CoinIDs)),
			applogger.Error(err),
		)
		return nil, err
	}
	s.l.Debug("clickhouse load metrics ok",
		applogger.String("table", s.table),
		applogger.Int("columns", len(cols)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CoinMetricsStore) LoadHistory(ctx context.Context, coinID string, upTo time.Time, lookback time.Duration, columns []string) ([]models.MetricRow, error) {
	cols, err := s.checkColumns(ctx, columns)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT coin_id, `timestamp`%s FROM %s WHERE coin_id = ? AND `timestamp` > ? AND `timestamp` <= ? ORDER BY `timestamp` ASC",
		selectList(cols), quoteIdent(s.table))
	return s.queryRows(ctx, "load history", query, []any{coinID, upTo.Add(-lookback), upTo}, len(cols))
}

// LatestPoint returns nil when the coin has no row at or before at.
func (s *CoinMetricsStore) LatestPoint(ctx context.Context, coinID string, at time.Time) (*models.MetricPoint, error) {
	query := fmt.Sprintf("SELECT `timestamp`, toFloat64(price_close), toInt64(phase_id) FROM %s WHERE coin_id = ? AND `timestamp` <= ? ORDER BY `timestamp` DESC LIMIT 1",
		quoteIdent(s.table))
	var (
		ts    time.Time
		price sql.NullFloat64
		phase sql.NullInt64
	)
	err := withRetry(ctx, "latest point", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query, coinID, at).Scan(&ts, &price, &phase)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := &models.MetricPoint{CoinID: coinID, Timestamp: ts.UTC(), PriceClose: math.NaN()}
	if price.Valid {
		p.PriceClose = price.Float64
	}
	if phase.Valid {
		v := int(phase.Int64)
		p.PhaseID = &v
	}
	return p, nil
}

func (s *CoinMetricsStore) PriceAtOrBefore(ctx context.Context, coinID string, t time.Time) (*float64, error) {
	return s.price(ctx, "price at or before", "`timestamp` <= ? ORDER BY `timestamp` DESC", coinID, t)
}

func (s *CoinMetricsStore) PriceAtOrAfter(ctx context.Context, coinID string, t time.Time) (*float64, error) {
	return s.price(ctx, "price at or after", "`timestamp` >= ? ORDER BY `timestamp` ASC", coinID, t)
}

// FirstPrice is the coin's earliest known close, the baseline of chart percentages.
func (s *CoinMetricsStore) FirstPrice(ctx context.Context, coinID string) (*float64, error) {
	return s.price(ctx, "first price", "1 ORDER BY `timestamp` ASC", coinID)
}

func (s *CoinMetricsStore) price(ctx context.Context, op, clause string, args ...any) (*float64, error) {
	query := fmt.Sprintf("SELECT toFloat64(price_close) FROM %s WHERE coin_id = ? AND price_close IS NOT NULL AND %s LIMIT 1",
		quoteIdent(s.table), clause)
	var v float64
	err := withRetry(ctx, op, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(&v)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *CoinMetricsStore) Availability(ctx context.Context) (*models.DataAvailability, error) {
	query := fmt.Sprintf("SELECT count(), min(`timestamp`), max(`timestamp`), uniqExact(coin_id) FROM %s", quoteIdent(s.table))
	var (
		n           uint64
		first, last time.Time
		coins       uint64
	)
	err := withRetry(ctx, "data availability", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query).Scan(&n, &first, &last, &coins)
	})
	if err != nil {
		return nil, err
	}
	out := &models.DataAvailability{Coins: int64(coins)}
	if n > 0 {
		first, last = first.UTC(), last.UTC()
		out.MinTimestamp, out.MaxTimestamp = &first, &last
	}
	return out, nil
}

// checkColumns whitelists requested names against the catalogue. coin_id and timestamp are
// implied and dropped; duplicates keep their first position.
func (s *CoinMetricsStore) checkColumns(ctx context.Context, requested []string) ([]string, error) {
	catalog, err := s.Columns(ctx)
	if err != nil {
		return nil, err
	}
	return whitelistColumns(catalog, requested)
}

func whitelistColumns(catalog, requested []string) ([]string, error) {
	out := make([]string, 0, len(requested))
	for _, c := range requested {
		if c == models.ColumnCoinID || c == models.ColumnTimestamp || slices.Contains(out, c) {
			continue
		}
		if !slices.Contains(catalog, c) {
			return nil, models.NewFeatureError("column missing: %s", c)
		}
		out = append(out, c)
	}
	return out, nil
}

// queryRows retries the whole read, so a stream broken mid-scan starts over.
func (s *CoinMetricsStore) queryRows(ctx context.Context, op, query string, args []any, ncols int) ([]models.MetricRow, error) {
	var out []models.MetricRow
	err := withRetry(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = s.scanRows(ctx, query, args, ncols)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CoinMetricsStore) scanRows(ctx context.Context, query string, args []any, ncols int) ([]models.MetricRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.MetricRow, 0, 1024)
	vals := make([]sql.NullFloat64, ncols)
	dest := make([]any, ncols+2)
	for i := range vals {
		dest[i+2] = &vals[i]
	}
	for rows.Next() {
		var r models.MetricRow
		dest[0], dest[1] = &r.CoinID, &r.Timestamp
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		r.Values = make([]float64, ncols)
		for i, v := range vals {
			if v.Valid {
				r.Values[i] = v.Float64
			} else {
				r.Values[i] = math.NaN()
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func buildLoadQuery(table string, cols []string, q models.MetricsQuery) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT coin_id, `timestamp`%s FROM %s WHERE `timestamp` >= ? AND `timestamp` < ?",
		selectList(cols), quoteIdent(table))
	args := []any{q.From, q.To}
	if len(q.CoinIDs) > 0 {
		b.WriteString(" AND coin_id IN (" + placeholders(len(q.CoinIDs)) + ")")
		for _, id := range q.CoinIDs {
			args = append(args, id)
		}
	}
	if len(q.Phases) > 0 {
		b.WriteString(" AND phase_id IN (" + placeholders(len(q.Phases)) + ")")
		for _, p := range q.Phases {
			args = append(args, p)
		}
	}
	b.WriteString(" ORDER BY coin_id ASC, `timestamp` ASC")
	return b.String(), args
}

func selectList(cols []string) string {
	var b strings.Builder
	for _, c := range cols {
		b.WriteString(", toFloat64(" + quoteIdent(c) + ")")
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
