package models

import (
	"slices"
	"strings"

	"CoinPulse/pkg/util"
)

var classicOperators = []string{">", "<", ">=", "<=", "==", "!="}

type CreateModelRequest struct {
	Name               string         `json:"name" validate:"required,max=200"`
	ModelType          ModelKind      `json:"model_type" default:"random_forest" validate:"oneof=random_forest gradient_boosting"`
	Features           []string       `json:"features" validate:"required,min=1,dive,required"`
	TargetVar          string         `json:"target_var" validate:"required"`
	Operator           string         `json:"operator,omitempty"`
	TargetValue        *float64       `json:"target_value,omitempty"`
	Phases             []int          `json:"phases,omitempty"`
	Params             map[string]any `json:"params,omitempty"`
	TrainStart         util.FlexTime  `json:"train_start"`
	TrainEnd           util.FlexTime  `json:"train_end"`
	UseTimeBased       bool           `json:"use_time_based_prediction"`
	FutureMinutes      int            `json:"future_minutes,omitempty" validate:"gte=0,lte=1440"`
	MinPercentChange   float64        `json:"min_percent_change,omitempty" validate:"gte=0"`
	Direction          Direction      `json:"direction,omitempty" validate:"omitempty,oneof=up down"`
	UseEngineered      bool           `json:"use_engineered_features"`
	Windows            []int          `json:"feature_engineering_windows,omitempty" validate:"omitempty,dive,gte=2,lte=1440"`
	UseATH             bool           `json:"use_ath_features"`
	UseSMOTE           bool           `json:"use_smote"`
	UseTimeseriesSplit bool           `json:"use_timeseries_split"`
	CVSplits           int            `json:"cv_splits,omitempty" validate:"gte=0,lte=20"`
	Priority           int            `json:"priority,omitempty"`
}

// Validate checks the rules the struct tags cannot express.
func (r *CreateModelRequest) Validate() error {
	if r.TrainStart.IsZero() || r.TrainEnd.IsZero() {
		return NewValidationError("train_start", "train_start and train_end are required")
	}
	if !r.TrainStart.Before(r.TrainEnd.Time) {
		return NewValidationError("train_end", "must be after train_start")
	}
	if r.UseTimeBased {
		if r.FutureMinutes <= 0 {
			return NewValidationError("future_minutes", "required for time-based prediction")
		}
		if r.Direction == "" {
			r.Direction = DirectionUp
		}
	} else {
		if !slices.Contains(classicOperators, r.Operator) {
			return NewValidationError("operator", "must be one of %s", strings.Join(classicOperators, " "))
		}
		if r.TargetValue == nil {
			return NewValidationError("target_value", "required for classic labelling")
		}
	}
	if r.UseEngineered && len(r.Windows) == 0 {
		r.Windows = []int{5, 10, 15}
	}
	if r.UseTimeseriesSplit && r.CVSplits == 0 {
		r.CVSplits = 5
	}
	if r.UseTimeseriesSplit && r.CVSplits < 2 {
		return NewValidationError("cv_splits", "must be >= 2")
	}
	return nil
}

// LabelRule returns the labelling rule carried by the request.
func (r *CreateModelRequest) LabelRule() LabelRule {
	rule := LabelRule{TimeBased: r.UseTimeBased, TargetVar: r.TargetVar}
	if r.UseTimeBased {
		rule.FutureMinutes = r.FutureMinutes
		rule.MinPercentChange = r.MinPercentChange
		rule.Direction = r.Direction
		return rule
	}
	rule.Operator = r.Operator
	if r.TargetValue != nil {
		rule.TargetValue = *r.TargetValue
	}
	return rule
}

func (r *CreateModelRequest) FeatureConfig() FeatureConfig {
	return FeatureConfig{
		Features:      r.Features,
		UseEngineered: r.UseEngineered,
		Windows:       r.Windows,
		UseATH:        r.UseATH,
	}
}

type TestModelRequest struct {
	ModelID   string        `json:"model_id" validate:"required"`
	TestStart util.FlexTime `json:"test_start"`
	TestEnd   util.FlexTime `json:"test_end"`
	Priority  int           `json:"priority,omitempty"`
}

func (r *TestModelRequest) Validate() error {
	return validateWindow("test", r.TestStart, r.TestEnd)
}

type CompareModelsRequest struct {
	ModelAID  string        `json:"model_a_id" validate:"required"`
	ModelBID  string        `json:"model_b_id" validate:"required,nefield=ModelAID"`
	TestStart util.FlexTime `json:"test_start"`
	TestEnd   util.FlexTime `json:"test_end"`
	Priority  int           `json:"priority,omitempty"`
}

func (r *CompareModelsRequest) Validate() error {
	return validateWindow("test", r.TestStart, r.TestEnd)
}

func validateWindow(prefix string, start, end util.FlexTime) error {
	if start.IsZero() || end.IsZero() {
		return NewValidationError(prefix+"_start", "%s_start and %s_end are required", prefix, prefix)
	}
	if !start.Before(end.Time) {
		return NewValidationError(prefix+"_end", "must be after %s_start", prefix)
	}
	return nil
}

type ImportModelRequest struct {
	ModelID                string         `json:"model_id" validate:"required"`
	AlertThreshold         *float64       `json:"alert_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	SendMode               []SendMode     `json:"send_mode" validate:"omitempty,dive,oneof=all alerts_only positive_only negative_only"`
	CoinFilterMode         CoinFilterMode `json:"coin_filter_mode" default:"all" validate:"oneof=all whitelist"`
	CoinWhitelist          []string       `json:"coin_whitelist,omitempty"`
	MinScanIntervalSeconds int            `json:"min_scan_interval_seconds" validate:"gte=0"`
	WebhookURL             string         `json:"webhook_url,omitempty" validate:"omitempty,url"`
	WebhookEnabled         bool           `json:"webhook_enabled"`
	Activate               bool           `json:"activate"`
}

// UpdateActiveConfigRequest uses pointers so absent fields stay untouched.
type UpdateActiveConfigRequest struct {
	AlertThreshold         *float64        `json:"alert_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	SendMode               []SendMode      `json:"send_mode,omitempty" validate:"omitempty,min=1,dive,oneof=all alerts_only positive_only negative_only"`
	CoinFilterMode         *CoinFilterMode `json:"coin_filter_mode,omitempty" validate:"omitempty,oneof=all whitelist"`
	CoinWhitelist          *[]string       `json:"coin_whitelist,omitempty"`
	MinScanIntervalSeconds *int            `json:"min_scan_interval_seconds,omitempty" validate:"omitempty,gte=0"`
	WebhookURL             *string         `json:"webhook_url,omitempty" validate:"omitempty,url"`
	WebhookEnabled         *bool           `json:"webhook_enabled,omitempty"`
	Phases                 *[]int          `json:"phases,omitempty"`
}

func (r *UpdateActiveConfigRequest) Patch() ActiveConfigPatch {
	p := ActiveConfigPatch{
		AlertThreshold:         r.AlertThreshold,
		SendMode:               r.SendMode,
		CoinFilterMode:         r.CoinFilterMode,
		MinScanIntervalSeconds: r.MinScanIntervalSeconds,
		WebhookURL:             r.WebhookURL,
		WebhookEnabled:         r.WebhookEnabled,
	}
	if r.CoinWhitelist != nil {
		p.CoinWhitelist = *r.CoinWhitelist
		p.WhitelistSet = true
	}
	if r.Phases != nil {
		p.Phases = *r.Phases
		p.PhasesSet = true
	}
	return p
}

type PredictRequest struct {
	CoinID    string        `json:"coin_id" validate:"required"`
	Timestamp util.FlexTime `json:"timestamp"`
}

type ListPredictionsQuery struct {
	CoinID        string        `query:"coin_id"`
	ModelID       string        `query:"model_id"`
	ActiveModelID int64         `query:"active_model_id"`
	From          util.FlexTime `query:"from"`
	To            util.FlexTime `query:"to"`
	Limit         int           `query:"limit" default:"100" validate:"gte=1,lte=1000"`
	Offset        int           `query:"offset" validate:"gte=0"`
}

func (q *ListPredictionsQuery) Filter() PredictionFilter {
	return PredictionFilter{
		CoinID:        q.CoinID,
		ModelID:       q.ModelID,
		ActiveModelID: q.ActiveModelID,
		From:          q.From.Ptr(),
		To:            q.To.Ptr(),
		Limit:         q.Limit,
		Offset:        q.Offset,
	}
}

type ListAlertsQuery struct {
	CoinID      string        `query:"coin_id"`
	ModelID     string        `query:"model_id"`
	Status      AlertStatus   `query:"status" validate:"omitempty,oneof=pending success failed expired"`
	From        util.FlexTime `query:"from"`
	To          util.FlexTime `query:"to"`
	UniqueCoins bool          `query:"unique_coins"`
	Limit       int           `query:"limit" default:"100" validate:"gte=1,lte=1000"`
	Offset      int           `query:"offset" validate:"gte=0"`
}

func (q *ListAlertsQuery) Filter() AlertFilter {
	return AlertFilter{
		CoinID:      q.CoinID,
		ModelID:     q.ModelID,
		Status:      q.Status,
		From:        q.From.Ptr(),
		To:          q.To.Ptr(),
		UniqueCoins: q.UniqueCoins,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
}

type ListModelsQuery struct {
	Status ModelStatus `query:"status" validate:"omitempty,oneof=pending ready failed"`
	Limit  int         `query:"limit" default:"100" validate:"gte=1,lte=1000"`
	Offset int         `query:"offset" validate:"gte=0"`
}

type ListJobsQuery struct {
	Status JobStatus `query:"status" validate:"omitempty,oneof=pending running completed failed cancelled"`
	Limit  int       `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type ListActiveModelsQuery struct {
	ActiveOnly bool `query:"active_only"`
}
