package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/pkg/postgres"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type activeModelRow struct {
	ID                     int64          `db:"id"`
	ModelID                string         `db:"model_id"`
	Name                   string         `db:"name"`
	ModelType              string         `db:"model_type"`
	Features               pq.StringArray `db:"features"`
	TargetVar              string         `db:"target_var"`
	TargetOperator         string         `db:"target_operator"`
	TargetValue            float64        `db:"target_value"`
	UseTimeBased           bool           `db:"use_time_based"`
	FutureMinutes          int            `db:"future_minutes"`
	MinPercentChange       float64        `db:"min_percent_change"`
	Direction              string         `db:"direction"`
	FeatureWindows         pq.Int64Array  `db:"feature_windows"`
	UseEngineered          bool           `db:"use_engineered_features"`
	UseATH                 bool           `db:"use_ath_features"`
	Phases                 pq.Int64Array  `db:"phases"`
	IsActive               bool           `db:"is_active"`
	AlertThreshold         float64        `db:"alert_threshold"`
	SendMode               pq.StringArray `db:"send_mode"`
	CoinFilterMode         string         `db:"coin_filter_mode"`
	CoinWhitelist          pq.StringArray `db:"coin_whitelist"`
	MinScanIntervalSeconds int            `db:"min_scan_interval_seconds"`
	WebhookURL             string         `db:"webhook_url"`
	WebhookEnabled         bool           `db:"webhook_enabled"`
	LocalModelPath         string         `db:"local_model_path"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

const activeModelColumns = `id, model_id, name, model_type, features, target_var, target_operator,
	target_value, use_time_based, future_minutes, min_percent_change, direction, feature_windows,
	use_engineered_features, use_ath_features, phases, is_active, alert_threshold, send_mode,
	coin_filter_mode, coin_whitelist, min_scan_interval_seconds, webhook_url, webhook_enabled,
	local_model_path, created_at, updated_at`

func newActiveModelRow(a *models.ActiveModel) *activeModelRow {
	modes := make([]string, len(a.SendMode))
	for i, m := range a.SendMode {
		modes[i] = string(m)
	}
	whitelist := a.CoinWhitelist
	if whitelist == nil {
		whitelist = []string{}
	}
	features := a.Features
	if features == nil {
		features = []string{}
	}
	return &activeModelRow{
		ID:                     a.ID,
		ModelID:                a.ModelID,
		Name:                   a.Name,
		ModelType:              string(a.Kind),
		Features:               features,
		TargetVar:              a.Label.TargetVar,
		TargetOperator:         a.Label.Operator,
		TargetValue:            a.Label.TargetValue,
		UseTimeBased:           a.Label.TimeBased,
		FutureMinutes:          a.Label.FutureMinutes,
		MinPercentChange:       a.Label.MinPercentChange,
		Direction:              string(a.Label.Direction),
		FeatureWindows:         toInt64s(a.Windows),
		UseEngineered:          a.UseEngineered,
		UseATH:                 a.UseATH,
		Phases:                 toInt64s(a.Phases),
		IsActive:               a.IsActive,
		AlertThreshold:         a.AlertThreshold,
		SendMode:               modes,
		CoinFilterMode:         string(a.CoinFilterMode),
		CoinWhitelist:          whitelist,
		MinScanIntervalSeconds: a.MinScanIntervalSeconds,
		WebhookURL:             a.WebhookURL,
		WebhookEnabled:         a.WebhookEnabled,
		LocalModelPath:         a.LocalModelPath,
	}
}

func (r *activeModelRow) toDomain() *models.ActiveModel {
	modes := make([]models.SendMode, len(r.SendMode))
	for i, m := range r.SendMode {
		modes[i] = models.SendMode(m)
	}
	var whitelist []string
	if len(r.CoinWhitelist) > 0 {
		whitelist = []string(r.CoinWhitelist)
	}
	return &models.ActiveModel{
		ID:      r.ID,
		ModelID: r.ModelID,
		Name:    r.Name,
		Kind:    models.ModelKind(r.ModelType),
		FeatureConfig: models.FeatureConfig{
			Features:      []string(r.Features),
			UseEngineered: r.UseEngineered,
			Windows:       toInts(r.FeatureWindows),
			UseATH:        r.UseATH,
		},
		Label: models.LabelRule{
			TimeBased:        r.UseTimeBased,
			TargetVar:        r.TargetVar,
			Operator:         r.TargetOperator,
			TargetValue:      r.TargetValue,
			FutureMinutes:    r.FutureMinutes,
			MinPercentChange: r.MinPercentChange,
			Direction:        models.Direction(r.Direction),
		},
		Phases:                 toInts(r.Phases),
		IsActive:               r.IsActive,
		AlertThreshold:         r.AlertThreshold,
		SendMode:               modes,
		CoinFilterMode:         models.CoinFilterMode(r.CoinFilterMode),
		CoinWhitelist:          whitelist,
		MinScanIntervalSeconds: r.MinScanIntervalSeconds,
		WebhookURL:             r.WebhookURL,
		WebhookEnabled:         r.WebhookEnabled,
		LocalModelPath:         r.LocalModelPath,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

// ActiveModelRepository stores the prediction-side copies in prediction_active_models.
type ActiveModelRepository struct {
	db *sqlx.DB
}

func NewActiveModelRepository(pg *postgres.Client) *ActiveModelRepository {
	return &ActiveModelRepository{db: pg.DB()}
}

var _ domrepo.ActiveModelRepository = (*ActiveModelRepository)(nil)

func (r *ActiveModelRepository) Create(ctx context.Context, a *models.ActiveModel) error {
	row := newActiveModelRow(a)
	const q = `
		INSERT INTO prediction_active_models (model_id, name, model_type, features, target_var,
			target_operator, target_value, use_time_based, future_minutes, min_percent_change,
			direction, feature_windows, use_engineered_features, use_ath_features, phases,
			is_active, alert_threshold, send_mode, coin_filter_mode, coin_whitelist,
			min_scan_interval_seconds, webhook_url, webhook_enabled, local_model_path)
		VALUES (:model_id, :name, :model_type, :features, :target_var,
			:target_operator, :target_value, :use_time_based, :future_minutes, :min_percent_change,
			:direction, :feature_windows, :use_engineered_features, :use_ath_features, :phases,
			:is_active, :alert_threshold, :send_mode, :coin_filter_mode, :coin_whitelist,
			:min_scan_interval_seconds, :webhook_url, :webhook_enabled, :local_model_path)
		RETURNING id, created_at, updated_at
	`
	// serial id: a replay would insert a second row
	return runOnce(ctx, "create active model", func(ctx context.Context) error {
		stmt, err := r.db.PrepareNamedContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()
		return stmt.QueryRowxContext(ctx, row).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	})
}

func (r *ActiveModelRepository) Get(ctx context.Context, id int64) (*models.ActiveModel, error) {
	var row activeModelRow
	err := withRetry(ctx, "get active model", func(ctx context.Context) error {
		return r.db.GetContext(ctx, &row, `SELECT `+activeModelColumns+` FROM prediction_active_models WHERE id = $1`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("active model", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *ActiveModelRepository) List(ctx context.Context, activeOnly bool) ([]*models.ActiveModel, error) {
	q := `SELECT ` + activeModelColumns + ` FROM prediction_active_models`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY id`

	var rows []activeModelRow
	err := withRetry(ctx, "list active models", func(ctx context.Context) error {
		rows = rows[:0]
		return r.db.SelectContext(ctx, &rows, q)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.ActiveModel, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (r *ActiveModelRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.exec(ctx, "set active", id,
		`UPDATE prediction_active_models SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// UpdateConfig writes the mutable policy fields only.
func (r *ActiveModelRepository) UpdateConfig(ctx context.Context, a *models.ActiveModel) error {
	row := newActiveModelRow(a)
	const q = `
		UPDATE prediction_active_models
		SET alert_threshold = $2, send_mode = $3, coin_filter_mode = $4, coin_whitelist = $5,
			min_scan_interval_seconds = $6, webhook_url = $7, webhook_enabled = $8, phases = $9,
			updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "update active config", a.ID, q,
		row.ID, row.AlertThreshold, row.SendMode, row.CoinFilterMode, row.CoinWhitelist,
		row.MinScanIntervalSeconds, row.WebhookURL, row.WebhookEnabled, row.Phases)
}

func (r *ActiveModelRepository) UpdateLocalPath(ctx context.Context, id int64, path string) error {
	return r.exec(ctx, "update local path", id,
		`UPDATE prediction_active_models SET local_model_path = $2, updated_at = NOW() WHERE id = $1`, id, path)
}

func (r *ActiveModelRepository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, "delete active model", id, `DELETE FROM prediction_active_models WHERE id = $1`, id)
}

func (r *ActiveModelRepository) exec(ctx context.Context, op string, id int64, q string, args ...any) error {
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
		return models.NewNotFoundError("active model", id)
	}
	return nil
}
