package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"CoinPulse/internal/domain/models"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/lib/pq"
)

var (
	retryAttempts = 1
	retryBackoff  = 100 * time.Millisecond
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// withRetry runs fn and retries transient failures once. sql.ErrNoRows passes through
// untouched; everything else that survives the retry becomes a DatabaseError.
func withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if attempt >= retryAttempts || !retryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return &models.DatabaseError{Op: op, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return &models.DatabaseError{Op: op, Err: err}
}

// runOnce is withRetry without the retry, for statements that must not be replayed when
// only the reply was lost.
func runOnce(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return &models.DatabaseError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// integrity and syntax problems will not fix themselves
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return false
		}
	}
	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		return !permanentClickHouseCodes[chErr.Code]
	}
	return true
}

// ClickHouse server codes that describe the query or schema, not the connection.
var permanentClickHouseCodes = map[int32]bool{
	16:  true, // NO_SUCH_COLUMN_IN_TABLE
	43:  true, // ILLEGAL_TYPE_OF_ARGUMENT
	47:  true, // UNKNOWN_IDENTIFIER
	53:  true, // TYPE_MISMATCH
	60:  true, // UNKNOWN_TABLE
	62:  true, // SYNTAX_ERROR
	81:  true, // UNKNOWN_DATABASE
	516: true, // AUTHENTICATION_FAILED
}

func toInt64s(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func toInts(in []int64) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
