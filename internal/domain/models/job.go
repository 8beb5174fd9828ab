package models

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobTrain   JobType = "train"
	JobTest    JobType = "test"
	JobCompare JobType = "compare"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

type Job struct {
	ID            string          `json:"id"`
	Type          JobType         `json:"job_type"`
	Status        JobStatus       `json:"status"`
	Priority      int             `json:"priority"`
	Progress      float64         `json:"progress"`
	ProgressMsg   string          `json:"progress_msg,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	ResultModelID string          `json:"result_model_id,omitempty"`
	ErrorMsg      string          `json:"error_msg,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TestResult is the result document of a test job.
type TestResult struct {
	ModelID   string       `json:"model_id"`
	TestStart time.Time    `json:"test_start"`
	TestEnd   time.Time    `json:"test_end"`
	Samples   int          `json:"samples"`
	Metrics   *EvalMetrics `json:"metrics"`
}

// CompareResult is the result document of a compare job.
type CompareResult struct {
	ModelA TestResult         `json:"model_a"`
	ModelB TestResult         `json:"model_b"`
	Deltas map[string]float64 `json:"deltas"`
	Winner string             `json:"winner"`
}

// TrainResult is the result document of a train job.
type TrainResult struct {
	ModelID  string       `json:"model_id"`
	Features []string     `json:"features"`
	Metrics  *EvalMetrics `json:"metrics"`
}
