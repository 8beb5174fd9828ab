package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the durable side of the queue. Claim returns (nil, nil) when nothing is pending.
type Store interface {
	Claim(ctx context.Context) (*Message, error)
	Progress(ctx context.Context, id string, progress float64, msg string) error
	Complete(ctx context.Context, id string, res *Result) error
	Fail(ctx context.Context, id string, msg string) error
}

// Message is a claimed job.
type Message struct {
	ID        string
	Type      string
	Payload   json.RawMessage
	Priority  int
	Timestamp time.Time
}

// Result is what a handler hands back on success. Body is stored as JSON.
type Result struct {
	ModelID string
	Body    interface{}
}

// Metrics is the subset of the metrics recorder the worker feeds.
type Metrics interface {
	RecordJob(jobType, status string, seconds float64)
	SetRunningJobs(n int)
}

func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case map[string]interface{}:
		jsonData, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal map to json: %w", err)
		}
		if err := json.Unmarshal(jsonData, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal json to struct: %w", err)
		}
		return &result, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
