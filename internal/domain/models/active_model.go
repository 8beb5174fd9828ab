package models

import (
	"slices"
	"time"
)

type SendMode string

const (
	SendAll          SendMode = "all"
	SendAlertsOnly   SendMode = "alerts_only"
	SendPositiveOnly SendMode = "positive_only"
	SendNegativeOnly SendMode = "negative_only"
)

func (m SendMode) Valid() bool {
	switch m {
	case SendAll, SendAlertsOnly, SendPositiveOnly, SendNegativeOnly:
		return true
	}
	return false
}

type CoinFilterMode string

const (
	CoinFilterAll       CoinFilterMode = "all"
	CoinFilterWhitelist CoinFilterMode = "whitelist"
)

// ActiveModel binds a trained model to its runtime policy. The copied model fields are
// frozen at import; the policy fields are mutable through the API.
type ActiveModel struct {
	ID      int64     `json:"id"`
	ModelID string    `json:"model_id"`
	Name    string    `json:"name"`
	Kind    ModelKind `json:"model_type"`
	FeatureConfig
	Label  LabelRule `json:"label_rule"`
	Phases []int     `json:"phases,omitempty"`

	IsActive               bool           `json:"is_active"`
	AlertThreshold         float64        `json:"alert_threshold"`
	SendMode               []SendMode     `json:"send_mode"`
	CoinFilterMode         CoinFilterMode `json:"coin_filter_mode"`
	CoinWhitelist          []string       `json:"coin_whitelist,omitempty"`
	MinScanIntervalSeconds int            `json:"min_scan_interval_seconds"`
	WebhookURL             string         `json:"webhook_url,omitempty"`
	WebhookEnabled         bool           `json:"webhook_enabled"`
	LocalModelPath         string         `json:"local_model_path"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AcceptsPhase reports whether a coin in phase may be scored. Empty Phases accepts anything;
// otherwise a NULL phase never matches.
func (a *ActiveModel) AcceptsPhase(phase *int) bool {
	if len(a.Phases) == 0 {
		return true
	}
	if phase == nil {
		return false
	}
	return slices.Contains(a.Phases, *phase)
}

// Horizon is how long after the alert the outcome is measured.
func (a *ActiveModel) Horizon(def time.Duration) time.Duration {
	if a.Label.TimeBased && a.Label.FutureMinutes > 0 {
		return time.Duration(a.Label.FutureMinutes) * time.Minute
	}
	return def
}

// ActiveConfigPatch carries only the fields an operator changed.
type ActiveConfigPatch struct {
	AlertThreshold         *float64
	SendMode               []SendMode
	CoinFilterMode         *CoinFilterMode
	CoinWhitelist          []string
	WhitelistSet           bool
	MinScanIntervalSeconds *int
	WebhookURL             *string
	WebhookEnabled         *bool
	Phases                 []int
	PhasesSet              bool
}

// Apply returns a copy of a with the patch applied.
func (p ActiveConfigPatch) Apply(a ActiveModel) ActiveModel {
	if p.AlertThreshold != nil {
		a.AlertThreshold = *p.AlertThreshold
	}
	if p.SendMode != nil {
		a.SendMode = p.SendMode
	}
	if p.CoinFilterMode != nil {
		a.CoinFilterMode = *p.CoinFilterMode
	}
	if p.WhitelistSet {
		a.CoinWhitelist = p.CoinWhitelist
	}
	if p.MinScanIntervalSeconds != nil {
		a.MinScanIntervalSeconds = *p.MinScanIntervalSeconds
	}
	if p.WebhookURL != nil {
		a.WebhookURL = *p.WebhookURL
	}
	if p.WebhookEnabled != nil {
		a.WebhookEnabled = *p.WebhookEnabled
	}
	if p.PhasesSet {
		a.Phases = p.Phases
	}
	return a
}

// Validate checks policy invariants that span fields.
func (a *ActiveModel) Validate() error {
	if a.AlertThreshold < 0 || a.AlertThreshold > 1 {
		return NewValidationError("alert_threshold", "must be within [0,1]")
	}
	if len(a.SendMode) == 0 {
		return NewValidationError("send_mode", "must not be empty")
	}
	for _, m := range a.SendMode {
		if !m.Valid() {
			return NewValidationError("send_mode", "unknown mode %q", m)
		}
	}
	switch a.CoinFilterMode {
	case CoinFilterAll:
	case CoinFilterWhitelist:
		if len(a.CoinWhitelist) == 0 {
			return NewValidationError("coin_whitelist", "must not be empty in whitelist mode")
		}
	default:
		return NewValidationError("coin_filter_mode", "must be all or whitelist")
	}
	if a.MinScanIntervalSeconds < 0 {
		return NewValidationError("min_scan_interval_seconds", "must be >= 0")
	}
	return nil
}
