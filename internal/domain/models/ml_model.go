package models

import (
	"slices"
	"time"
)

// ModelKind tags the classifier family. New kinds are added here and in the ml factory.
type ModelKind string

const (
	KindRandomForest     ModelKind = "random_forest"
	KindGradientBoosting ModelKind = "gradient_boosting"
)

func (k ModelKind) Valid() bool {
	return k == KindRandomForest || k == KindGradientBoosting
}

type ModelStatus string

const (
	ModelPending ModelStatus = "pending"
	ModelReady   ModelStatus = "ready"
	ModelFailed  ModelStatus = "failed"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// LabelRule is either classic (TargetVar Operator TargetValue) or time-based.
type LabelRule struct {
	TimeBased        bool      `json:"use_time_based_prediction"`
	TargetVar        string    `json:"target_var"`
	Operator         string    `json:"operator,omitempty"`
	TargetValue      float64   `json:"target_value,omitempty"`
	FutureMinutes    int       `json:"future_minutes,omitempty"`
	MinPercentChange float64   `json:"min_percent_change,omitempty"`
	Direction        Direction `json:"direction,omitempty"`
}

// FeatureConfig describes how the frame is assembled from base columns.
type FeatureConfig struct {
	Features      []string `json:"features"`
	UseEngineered bool     `json:"use_engineered_features"`
	Windows       []int    `json:"feature_engineering_windows,omitempty"`
	UseATH        bool     `json:"use_ath_features"`
}

// MaxWindow is the largest engineered window, 0 when engineering is off.
func (f FeatureConfig) MaxWindow() int {
	if !f.UseEngineered || len(f.Windows) == 0 {
		return 0
	}
	return slices.Max(f.Windows)
}

type Confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}

type ClassBalance struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}

type FoldScore struct {
	Fold      int     `json:"fold"`
	Accuracy  float64 `json:"accuracy"`
	F1        float64 `json:"f1"`
	TrainSize int     `json:"train_size"`
	TestSize  int     `json:"test_size"`
}

// EvalMetrics are computed on held-out rows only.
type EvalMetrics struct {
	Accuracy     float64      `json:"accuracy"`
	Precision    float64      `json:"precision"`
	Recall       float64      `json:"recall"`
	F1           float64      `json:"f1"`
	ROCAUC       float64      `json:"roc_auc"`
	Confusion    Confusion    `json:"confusion_matrix"`
	PositiveRate float64      `json:"positive_rate"`
	ClassBalance ClassBalance `json:"class_balance"`
	TrainSize    int          `json:"train_size,omitempty"`
	TestSize     int          `json:"test_size"`
	CVScores     []FoldScore  `json:"cv_scores,omitempty"`
	SMOTEApplied bool         `json:"smote_applied,omitempty"`
}

// TrainedModel is immutable once it leaves pending.
type TrainedModel struct {
	// Features are recorded after the leakage guard.
	FeatureConfig

	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Kind               ModelKind      `json:"model_type"`
	Status             ModelStatus    `json:"status"`
	Params             map[string]any `json:"params"`
	Label              LabelRule      `json:"label_rule"`
	Phases             []int          `json:"phases,omitempty"`
	UseSMOTE           bool           `json:"use_smote"`
	UseTimeseriesSplit bool           `json:"use_timeseries_split"`
	CVSplits           int            `json:"cv_splits,omitempty"`
	TrainStart         time.Time      `json:"train_start"`
	TrainEnd           time.Time      `json:"train_end"`
	Metrics            *EvalMetrics   `json:"metrics,omitempty"`
	ArtifactPath       string         `json:"artifact_path,omitempty"`
	ErrorMsg           string         `json:"error_msg,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

type ModelFilter struct {
	Status ModelStatus
	Limit  int
	Offset int
}
