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

type predictionRow struct {
	ID            int64     `db:"id"`
	ActiveModelID int64     `db:"active_model_id"`
	ModelID       string    `db:"model_id"`
	CoinID        string    `db:"coin_id"`
	Prediction    int       `db:"prediction"`
	Probability   float64   `db:"probability"`
	DataTimestamp time.Time `db:"data_timestamp"`
	CreatedAt     time.Time `db:"created_at"`
}

const predictionColumns = `id, active_model_id, model_id, coin_id, prediction, probability, data_timestamp, created_at`

func (r *predictionRow) toDomain() *models.Prediction {
	return &models.Prediction{
		ID:            r.ID,
		ActiveModelID: r.ActiveModelID,
		ModelID:       r.ModelID,
		CoinID:        r.CoinID,
		Label:         r.Prediction,
		Probability:   r.Probability,
		DataTimestamp: r.DataTimestamp.UTC(),
		CreatedAt:     r.CreatedAt,
	}
}

type PredictionRepository struct {
	db *sqlx.DB
}

func NewPredictionRepository(pg *postgres.Client) *PredictionRepository {
	return &PredictionRepository{db: pg.DB()}
}

var _ domrepo.PredictionRepository = (*PredictionRepository)(nil)

func (r *PredictionRepository) Insert(ctx context.Context, p *models.Prediction) (bool, error) {
	const ins = `
		INSERT INTO predictions (active_model_id, model_id, coin_id, prediction, probability, data_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (active_model_id, coin_id, data_timestamp) DO NOTHING
		RETURNING ` + predictionColumns
	const sel = `SELECT ` + predictionColumns + ` FROM predictions
		WHERE active_model_id = $1 AND coin_id = $2 AND data_timestamp = $3`

	var row predictionRow
	created := true
	err := withRetry(ctx, "insert prediction", func(ctx context.Context) error {
		err := r.db.GetContext(ctx, &row, ins,
			p.ActiveModelID, p.ModelID, p.CoinID, p.Label, p.Probability, p.DataTimestamp)
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		created = false
		return r.db.GetContext(ctx, &row, sel, p.ActiveModelID, p.CoinID, p.DataTimestamp)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, &models.DatabaseError{Op: "insert prediction", Err: err}
		}
		return false, err
	}
	*p = *row.toDomain()
	return created, nil
}

func (r *PredictionRepository) List(ctx context.Context, f models.PredictionFilter) ([]*models.Prediction, int64, error) {
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
	if f.ActiveModelID > 0 {
		add("active_model_id = $%d", f.ActiveModelID)
	}
	if f.From != nil {
		add("data_timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("data_timestamp < $%d", *f.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	var rows []predictionRow
	q := fmt.Sprintf(`SELECT %s FROM predictions%s ORDER BY data_timestamp DESC, id DESC LIMIT $%d OFFSET $%d`,
		predictionColumns, where, len(args)+1, len(args)+2)
	pageArgs := append(append([]any{}, args...), util.ClampLimit(f.Limit, defaultPageSize, maxPageSize), f.Offset)
	err := withRetry(ctx, "list predictions", func(ctx context.Context) error {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM predictions`+where, args...); err != nil {
			return err
		}
		rows = rows[:0]
		return r.db.SelectContext(ctx, &rows, q, pageArgs...)
	})
	if err != nil {
		return nil, 0, err
	}
	out := make([]*models.Prediction, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, total, nil
}
