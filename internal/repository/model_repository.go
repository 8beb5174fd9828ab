package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	applogger "CoinPulse/pkg/logger"
	"CoinPulse/pkg/postgres"
	"CoinPulse/pkg/util"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type modelRow struct {
	ID                 string         `db:"id"`
	Name               string         `db:"name"`
	ModelType          string         `db:"model_type"`
	Status             string         `db:"status"`
	Features           pq.StringArray `db:"features"`
	Params             string         `db:"params"`
	TargetVar          string         `db:"target_var"`
	TargetOperator     string         `db:"target_operator"`
	TargetValue        float64        `db:"target_value"`
	UseTimeBased       bool           `db:"use_time_based"`
	FutureMinutes      int            `db:"future_minutes"`
	MinPercentChange   float64        `db:"min_percent_change"`
	Direction          string         `db:"direction"`
	Phases             pq.Int64Array  `db:"phases"`
	UseEngineered      bool           `db:"use_engineered_features"`
	FeatureWindows     pq.Int64Array  `db:"feature_windows"`
	UseATH             bool           `db:"use_ath_features"`
	UseSMOTE           bool           `db:"use_smote"`
	UseTimeseriesSplit bool           `db:"use_timeseries_split"`
	CVSplits           int            `db:"cv_splits"`
	TrainStart         time.Time      `db:"train_start"`
	TrainEnd           time.Time      `db:"train_end"`
	Metrics            *string        `db:"metrics"`
	ArtifactPath       string         `db:"artifact_path"`
	ErrorMsg           string         `db:"error_msg"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

const modelColumns = `id, name, model_type, status, features, params, target_var, target_operator,
	target_value, use_time_based, future_minutes, min_percent_change, direction, phases,
	use_engineered_features, feature_windows, use_ath_features, use_smote, use_timeseries_split,
	cv_splits, train_start, train_end, metrics, artifact_path, error_msg, created_at, updated_at`

func newModelRow(m *models.TrainedModel) (*modelRow, error) {
	params := m.Params
	if params == nil {
		params = map[string]any{}
	}
	pb, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return &modelRow{
		ID:                 m.ID,
		Name:               m.Name,
		ModelType:          string(m.Kind),
		Status:             string(m.Status),
		Features:           pq.StringArray(m.Features),
		Params:             string(pb),
		TargetVar:          m.Label.TargetVar,
		TargetOperator:     m.Label.Operator,
		TargetValue:        m.Label.TargetValue,
		UseTimeBased:       m.Label.TimeBased,
		FutureMinutes:      m.Label.FutureMinutes,
		MinPercentChange:   m.Label.MinPercentChange,
		Direction:          string(m.Label.Direction),
		Phases:             toInt64s(m.Phases),
		UseEngineered:      m.UseEngineered,
		FeatureWindows:     toInt64s(m.Windows),
		UseATH:             m.UseATH,
		UseSMOTE:           m.UseSMOTE,
		UseTimeseriesSplit: m.UseTimeseriesSplit,
		CVSplits:           m.CVSplits,
		TrainStart:         m.TrainStart,
		TrainEnd:           m.TrainEnd,
	}, nil
}

func (r *modelRow) toDomain() (*models.TrainedModel, error) {
	m := &models.TrainedModel{
		FeatureConfig: models.FeatureConfig{
			Features:      []string(r.Features),
			UseEngineered: r.UseEngineered,
			Windows:       toInts(r.FeatureWindows),
			UseATH:        r.UseATH,
		},
		ID:     r.ID,
		Name:   r.Name,
		Kind:   models.ModelKind(r.ModelType),
		Status: models.ModelStatus(r.Status),
		Label: models.LabelRule{
			TimeBased:        r.UseTimeBased,
			TargetVar:        r.TargetVar,
			Operator:         r.TargetOperator,
			TargetValue:      r.TargetValue,
			FutureMinutes:    r.FutureMinutes,
			MinPercentChange: r.MinPercentChange,
			Direction:        models.Direction(r.Direction),
		},
		Phases:             toInts(r.Phases),
		UseSMOTE:           r.UseSMOTE,
		UseTimeseriesSplit: r.UseTimeseriesSplit,
		CVSplits:           r.CVSplits,
		TrainStart:         r.TrainStart,
		TrainEnd:           r.TrainEnd,
		ArtifactPath:       r.ArtifactPath,
		ErrorMsg:           r.ErrorMsg,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.Params != "" {
		if err := json.Unmarshal([]byte(r.Params), &m.Params); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", r.ID, err)
		}
	}
	if r.Metrics != nil {
		m.Metrics = &models.EvalMetrics{}
		if err := json.Unmarshal([]byte(*r.Metrics), m.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics of %s: %w", r.ID, err)
		}
	}
	return m, nil
}

// ModelRepository stores trained models in ml_models.
type ModelRepository struct {
	db *sqlx.DB
	l  *applogger.Logger
}

func NewModelRepository(pg *postgres.Client, l *applogger.Logger) *ModelRepository {
	if l == nil {
		l = applogger.Nop()
	}
	return &ModelRepository{db: pg.DB(), l: l}
}

var _ domrepo.ModelRepository = (*ModelRepository)(nil)

func (r *ModelRepository) Create(ctx context.Context, m *models.TrainedModel) error {
	row, err := newModelRow(m)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO ml_models (id, name, model_type, status, features, params, target_var,
			target_operator, target_value, use_time_based, future_minutes, min_percent_change,
			direction, phases, use_engineered_features, feature_windows, use_ath_features,
			use_smote, use_timeseries_split, cv_splits, train_start, train_end)
		VALUES (:id, :name, :model_type, :status, :features, :params, :target_var,
			:target_operator, :target_value, :use_time_based, :future_minutes, :min_percent_change,
			:direction, :phases, :use_engineered_features, :feature_windows, :use_ath_features,
			:use_smote, :use_timeseries_split, :cv_splits, :train_start, :train_end)
		RETURNING created_at, updated_at
	`
	attempt := 0
	return withRetry(ctx, "create model", func(ctx context.Context) error {
		attempt++
		stmt, err := r.db.PrepareNamedContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()
		err = stmt.QueryRowxContext(ctx, row).Scan(&m.CreatedAt, &m.UpdatedAt)
		if attempt > 1 && isUniqueViolation(err) {
			return r.db.QueryRowxContext(ctx, `SELECT created_at, updated_at FROM ml_models WHERE id = $1`, m.ID).
				Scan(&m.CreatedAt, &m.UpdatedAt)
		}
		return err
	})
}

func (r *ModelRepository) MarkReady(ctx context.Context, id, artifactPath string, features []string, metrics *models.EvalMetrics) error {
	mb, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	const q = `
		UPDATE ml_models
		SET status = 'ready', artifact_path = $2, features = $3, metrics = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.transition(ctx, "mark model ready", id, q, id, artifactPath, pq.StringArray(features), string(mb))
}

func (r *ModelRepository) MarkFailed(ctx context.Context, id, msg string) error {
	const q = `
		UPDATE ml_models
		SET status = 'failed', error_msg = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.transition(ctx, "mark model failed", id, q, id, msg)
}

// transition runs a pending -> terminal update; a ready or failed row never changes again.
func (r *ModelRepository) transition(ctx context.Context, op, id, q string, args ...any) error {
	var n int64
	err := withRetry(ctx, op, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return &models.ConflictError{Message: fmt.Sprintf("model %s is no longer pending", id)}
	}
	return nil
}

func (r *ModelRepository) Get(ctx context.Context, id string) (*models.TrainedModel, error) {
	var row modelRow
	err := withRetry(ctx, "get model", func(ctx context.Context) error {
		return r.db.GetContext(ctx, &row, `SELECT `+modelColumns+` FROM ml_models WHERE id = $1`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("model", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (r *ModelRepository) List(ctx context.Context, f models.ModelFilter) ([]*models.TrainedModel, int64, error) {
	where := ""
	args := []any{}
	if f.Status != "" {
		where = " WHERE status = $1"
		args = append(args, string(f.Status))
	}

	var total int64
	var rows []modelRow
	err := withRetry(ctx, "list models", func(ctx context.Context) error {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM ml_models`+where, args...); err != nil {
			return err
		}
		q := fmt.Sprintf(`SELECT %s FROM ml_models%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
			modelColumns, where, len(args)+1, len(args)+2)
		rows = rows[:0]
		return r.db.SelectContext(ctx, &rows, q, append(args, util.ClampLimit(f.Limit, defaultPageSize, maxPageSize), f.Offset)...)
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([]*models.TrainedModel, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toDomain()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, nil
}

func (r *ModelRepository) Delete(ctx context.Context, id string) error {
	var n int64
	err := withRetry(ctx, "delete model", func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, `DELETE FROM ml_models WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NewNotFoundError("model", id)
	}
	r.l.Info("model deleted", applogger.String("model_id", id))
	return nil
}
