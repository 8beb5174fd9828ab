package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/pkg/postgres"
	"CoinPulse/pkg/util"

	"github.com/jmoiron/sqlx"
)

type alertRow struct {
	ID                  int64      `db:"id"`
	PredictionID        int64      `db:"prediction_id"`
	ActiveModelID       int64      `db:"active_model_id"`
	ModelID             string     `db:"model_id"`
	CoinID              string     `db:"coin_id"`
	PredictedLabel      int        `db:"predicted_label"`
	Probability         float64    `db:"probability"`
	Direction           string     `db:"direction"`
	MinPercentChange    float64    `db:"min_percent_change"`
	AlertTimestamp      time.Time  `db:"alert_timestamp"`
	EvaluationTimestamp time.Time  `db:"evaluation_timestamp"`
	PriceAtAlert        *float64   `db:"price_at_alert"`
	PriceAtEval         *float64   `db:"price_at_eval"`
	ChartBaselinePrice  *float64   `db:"chart_baseline_price"`
	ActualChangePct     *float64   `db:"actual_price_change_pct"`
	Status              string     `db:"status"`
	EvaluatedAt         *time.Time `db:"evaluated_at"`
	CreatedAt           time.Time  `db:"created_at"`
}

const alertColumns = `id, prediction_id, active_model_id, model_id, coin_id, predicted_label, probability,
	direction, min_percent_change, alert_timestamp, evaluation_timestamp, price_at_alert, price_at_eval,
	chart_baseline_price, actual_price_change_pct, status, evaluated_at, created_at`

func (r *alertRow) toDomain() *models.AlertEvaluation {
	return &models.AlertEvaluation{
		ID:                  r.ID,
		PredictionID:        r.PredictionID,
		ActiveModelID:       r.ActiveModelID,
		ModelID:             r.ModelID,
		CoinID:              r.CoinID,
		PredictedLabel:      r.PredictedLabel,
		Probability:         r.Probability,
		Direction:           models.Direction(r.Direction),
		MinPercentChange:    r.MinPercentChange,
		AlertTimestamp:      r.AlertTimestamp.UTC(),
		EvaluationTimestamp: r.EvaluationTimestamp.UTC(),
		PriceAtAlert:        r.PriceAtAlert,
		PriceAtEval:         r.PriceAtEval,
		ChartBaselinePrice:  r.ChartBaselinePrice,
		ActualChangePct:     r.ActualChangePct,
		Status:              models.AlertStatus(r.Status),
		EvaluatedAt:         r.EvaluatedAt,
		CreatedAt:           r.CreatedAt,
	}
}

type AlertRepository struct {
	db *sqlx.DB
}

func NewAlertRepository(pg *postgres.Client) *AlertRepository {
	return &AlertRepository{db: pg.DB()}
}

var _ domrepo.AlertRepository = (*AlertRepository)(nil)

func (r *AlertRepository) CreatePending(ctx context.Context, a *models.AlertEvaluation) (bool, error) {
	const q = `
		INSERT INTO alert_evaluations (prediction_id, active_model_id, model_id, coin_id, predicted_label,
			probability, direction, min_percent_change, alert_timestamp, evaluation_timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending')
		ON CONFLICT (prediction_id) DO NOTHING
		RETURNING id, created_at
	`
	err := withRetry(ctx, "create alert", func(ctx context.Context) error {
		return r.db.QueryRowxContext(ctx, q,
			a.PredictionID, a.ActiveModelID, a.ModelID, a.CoinID, a.PredictedLabel,
			a.Probability, string(a.Direction), a.MinPercentChange, a.AlertTimestamp, a.EvaluationTimestamp,
		).Scan(&a.ID, &a.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	a.Status = models.AlertPending
	return true, nil
}

func (r *AlertRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.AlertEvaluation, error) {
	q := `SELECT ` + alertColumns + ` FROM alert_evaluations
		WHERE status = 'pending' AND evaluation_timestamp <= $1
		ORDER BY evaluation_timestamp, id
		LIMIT $2`
	return r.selectAlerts(ctx, "due alerts", q, now, limit)
}

// Resolve is a compare-and-set on status, so two sweepers never both write an outcome.
func (r *AlertRepository) Resolve(ctx context.Context, id int64, o models.AlertOutcome) (bool, error) {
	const q = `
		UPDATE alert_evaluations
		SET status = $2, price_at_alert = $3, price_at_eval = $4, chart_baseline_price = $5,
			actual_price_change_pct = $6, evaluated_at = $7
		WHERE id = $1 AND status = 'pending'
	`
	var n int64
	err := withRetry(ctx, "resolve alert", func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, q, id, string(o.Status),
			o.PriceAtAlert, o.PriceAtEval, o.ChartBaseline, o.ActualChangePct, o.EvaluatedAt)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *AlertRepository) List(ctx context.Context, f models.AlertFilter) ([]*models.AlertEvaluation, int64, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.CoinID != "" {
		add("coin_id = $%d", f.CoinID)
	}
	if f.ModelID != "" {
		add("model_id = $%d", f.ModelID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("alert_timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("alert_timestamp < $%d", *f.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	countQ := `SELECT COUNT(*) FROM alert_evaluations` + where
	pageQ := fmt.Sprintf(`SELECT %s FROM alert_evaluations%s ORDER BY alert_timestamp DESC, id DESC LIMIT $%d OFFSET $%d`,
		alertColumns, where, len(args)+1, len(args)+2)
	if f.UniqueCoins {
		// earliest alert per coin
		countQ = `SELECT COUNT(DISTINCT coin_id) FROM alert_evaluations` + where
		pageQ = fmt.Sprintf(`SELECT %s FROM (
				SELECT DISTINCT ON (coin_id) %s FROM alert_evaluations%s
				ORDER BY coin_id, alert_timestamp ASC, id ASC
			) first_alerts
			ORDER BY alert_timestamp DESC, id DESC LIMIT $%d OFFSET $%d`,
			alertColumns, alertColumns, where, len(args)+1, len(args)+2)
	}
	pageArgs := append(append([]any{}, args...), util.ClampLimit(f.Limit, defaultPageSize, maxPageSize), f.Offset)

	var total int64
	var rows []alertRow
	err := withRetry(ctx, "list alerts", func(ctx context.Context) error {
		if err := r.db.GetContext(ctx, &total, countQ, args...); err != nil {
			return err
		}
		rows = rows[:0]
		return r.db.SelectContext(ctx, &rows, pageQ, pageArgs...)
	})
	if err != nil {
		return nil, 0, err
	}
	out := make([]*models.AlertEvaluation, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, total, nil
}

type alertStatsRow struct {
	ActiveModelID int64  `db:"active_model_id"`
	ModelID       string `db:"model_id"`
	Pending       int64  `db:"pending"`
	Success       int64  `db:"success"`
	Failed        int64  `db:"failed"`
	Expired       int64  `db:"expired"`
}

// Stats counts alerts per status and per active model. SuccessRate ignores pending and
// expired rows.
func (r *AlertRepository) Stats(ctx context.Context) (*models.AlertStats, error) {
	const q = `
		SELECT active_model_id, model_id,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'success') AS success,
			COUNT(*) FILTER (WHERE status = 'failed')  AS failed,
			COUNT(*) FILTER (WHERE status = 'expired') AS expired
		FROM alert_evaluations
		GROUP BY active_model_id, model_id
		ORDER BY active_model_id
	`
	var rows []alertStatsRow
	err := withRetry(ctx, "alert stats", func(ctx context.Context) error {
		rows = rows[:0]
		return r.db.SelectContext(ctx, &rows, q)
	})
	if err != nil {
		return nil, err
	}
	return buildAlertStats(rows), nil
}

func buildAlertStats(rows []alertStatsRow) *models.AlertStats {
	st := &models.AlertStats{
		ByStatus: map[string]int64{
			string(models.AlertPending): 0,
			string(models.AlertSuccess): 0,
			string(models.AlertFailed):  0,
			string(models.AlertExpired): 0,
		},
		ByModel: make([]models.AlertModelStats, 0, len(rows)),
	}
	for _, row := range rows {
		ms := models.AlertModelStats{
			ActiveModelID: row.ActiveModelID,
			ModelID:       row.ModelID,
			Pending:       row.Pending,
			Success:       row.Success,
			Failed:        row.Failed,
			Expired:       row.Expired,
		}
		if decided := row.Success + row.Failed; decided > 0 {
			ms.SuccessRate = float64(row.Success) / float64(decided)
		}
		st.ByModel = append(st.ByModel, ms)
		st.ByStatus[string(models.AlertPending)] += row.Pending
		st.ByStatus[string(models.AlertSuccess)] += row.Success
		st.ByStatus[string(models.AlertFailed)] += row.Failed
		st.ByStatus[string(models.AlertExpired)] += row.Expired
		st.Total += row.Pending + row.Success + row.Failed + row.Expired
	}
	return st
}

func (r *AlertRepository) selectAlerts(ctx context.Context, op, q string, args ...any) ([]*models.AlertEvaluation, error) {
	var rows []alertRow
	err := withRetry(ctx, op, func(ctx context.Context) error {
		rows = rows[:0]
		return r.db.SelectContext(ctx, &rows, q, args...)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.AlertEvaluation, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
