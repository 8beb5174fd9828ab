package models

import (
	"errors"
	"fmt"
)

// Sentinel kinds; every typed error below matches exactly one of them via errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrFeature         = errors.New("feature error")
	ErrTraining        = errors.New("training error")
	ErrArtifactMissing = errors.New("artifact missing")
	ErrDatabase        = errors.New("database error")
)

// ValidationError reports bad operator input. It never starts a job.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NewNotFoundError(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// ConflictError is returned when a state transition is not allowed (e.g. cancelling a running job).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// FeatureError covers empty frames, missing columns, insufficient history and ATH coverage.
type FeatureError struct {
	Reason string
	Err    error
}

func (e *FeatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feature error: %s: %v", e.Reason, e.Err)
	}
	return "feature error: " + e.Reason
}

func (e *FeatureError) Unwrap() error { return e.Err }

func (e *FeatureError) Is(target error) bool { return target == ErrFeature }

func NewFeatureError(format string, args ...any) *FeatureError {
	return &FeatureError{Reason: fmt.Sprintf(format, args...)}
}

// TrainingError is terminal for the job that raised it.
type TrainingError struct {
	Stage string
	Err   error
}

func (e *TrainingError) Error() string { return fmt.Sprintf("training failed at %s: %v", e.Stage, e.Err) }

func (e *TrainingError) Unwrap() error { return e.Err }

func (e *TrainingError) Is(target error) bool { return target == ErrTraining }

type ArtifactMissingError struct {
	ModelID string
	Path    string
	Err     error
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("artifact for model %s missing at %q: %v", e.ModelID, e.Path, e.Err)
}

func (e *ArtifactMissingError) Unwrap() error { return e.Err }

func (e *ArtifactMissingError) Is(target error) bool { return target == ErrArtifactMissing }

type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string { return fmt.Sprintf("database %s: %v", e.Op, e.Err) }

func (e *DatabaseError) Unwrap() error { return e.Err }

func (e *DatabaseError) Is(target error) bool { return target == ErrDatabase }
