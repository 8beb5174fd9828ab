package queue

import "context"

// ProgressFunc reports coarse progress in [0,1] with a short stage message.
type ProgressFunc func(ctx context.Context, progress float64, msg string)

// Handler runs one kind of job.
type Handler interface {
	// Type returns the job type the handler claims.
	Type() string

	// Handle processes the job. A returned error marks the job failed.
	Handle(ctx context.Context, msg *Message, progress ProgressFunc) (*Result, error)
}
