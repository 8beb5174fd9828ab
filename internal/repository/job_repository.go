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
	"CoinPulse/pkg/postgres"
	"CoinPulse/pkg/queue"
	"CoinPulse/pkg/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type jobRow struct {
	ID            string     `db:"id"`
	JobType       string     `db:"job_type"`
	Status        string     `db:"status"`
	Priority      int        `db:"priority"`
	Progress      float64    `db:"progress"`
	ProgressMsg   string     `db:"progress_msg"`
	Payload       string     `db:"payload"`
	Result        *string    `db:"result"`
	ResultModelID string     `db:"result_model_id"`
	ErrorMsg      string     `db:"error_msg"`
	CreatedAt     time.Time  `db:"created_at"`
	StartedAt     *time.Time `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

const jobColumns = `id, job_type, status, priority, progress, progress_msg, payload, result,
	result_model_id, error_msg, created_at, started_at, finished_at, updated_at`

func (r *jobRow) toDomain() *models.Job {
	j := &models.Job{
		ID:            r.ID,
		Type:          models.JobType(r.JobType),
		Status:        models.JobStatus(r.Status),
		Priority:      r.Priority,
		Progress:      r.Progress,
		ProgressMsg:   r.ProgressMsg,
		Payload:       json.RawMessage(r.Payload),
		ResultModelID: r.ResultModelID,
		ErrorMsg:      r.ErrorMsg,
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Result != nil {
		j.Result = json.RawMessage(*r.Result)
	}
	return j
}

// JobRepository is the ml_jobs table. It is both the API-facing job store and the
// worker's queue.Store.
type JobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(pg *postgres.Client) *JobRepository {
	return &JobRepository{db: pg.DB()}
}

var (
	_ domrepo.JobRepository = (*JobRepository)(nil)
	_ queue.Store           = (*JobRepository)(nil)
)

func (r *JobRepository) Enqueue(ctx context.Context, jobType models.JobType, priority int, payload any) (*models.Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	id := uuid.NewString()
	const q = `
		INSERT INTO ml_jobs (id, job_type, status, priority, payload)
		VALUES ($1, $2, 'pending', $3, $4)
		RETURNING ` + jobColumns

	var row jobRow
	attempt := 0
	err = withRetry(ctx, "enqueue job", func(ctx context.Context) error {
		attempt++
		err := r.db.GetContext(ctx, &row, q, id, string(jobType), priority, string(b))
		if attempt > 1 && isUniqueViolation(err) {
			// the first attempt committed and only its reply was lost
			return r.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM ml_jobs WHERE id = $1`, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var row jobRow
	err := withRetry(ctx, "get job", func(ctx context.Context) error {
		return r.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM ml_jobs WHERE id = $1`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("job", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *JobRepository) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM ml_jobs`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(status))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, util.ClampLimit(limit, defaultPageSize, maxPageSize))
	return r.selectJobs(ctx, "list jobs", q, args...)
}

// Cancel is allowed from pending only.
func (r *JobRepository) Cancel(ctx context.Context, id string) error {
	const q = `
		UPDATE ml_jobs
		SET status = 'cancelled', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	var n int64
	attempt := 0
	err := withRetry(ctx, "cancel job", func(ctx context.Context) error {
		attempt++
		res, err := r.db.ExecContext(ctx, q, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	j, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if attempt > 1 && j.Status == models.JobCancelled {
		return nil
	}
	return &models.ConflictError{Message: fmt.Sprintf("job %s is %s and cannot be cancelled", id, j.Status)}
}

func (r *JobRepository) Stuck(ctx context.Context, threshold time.Duration) ([]*models.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM ml_jobs
		WHERE status = 'running' AND updated_at < NOW() - make_interval(secs => $1)
		ORDER BY updated_at`
	return r.selectJobs(ctx, "stuck jobs", q, threshold.Seconds())
}

func (r *JobRepository) CountByStatus(ctx context.Context, status models.JobStatus) (int64, error) {
	var n int64
	err := withRetry(ctx, "count jobs", func(ctx context.Context) error {
		return r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM ml_jobs WHERE status = $1`, string(status))
	})
	return n, err
}

// claimJobQuery takes the highest priority pending job, oldest first within a priority.
// SKIP LOCKED keeps concurrent workers from picking the same row.
const claimJobQuery = `
	UPDATE ml_jobs
	SET status = 'running', started_at = NOW(), updated_at = NOW()
	WHERE id = (
		SELECT id FROM ml_jobs
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + jobColumns

// Claim moves the best pending job to running. It is never retried: a claim whose reply
// was lost has already taken a job, so the worker waits for the next poll instead.
func (r *JobRepository) Claim(ctx context.Context) (*queue.Message, error) {
	var row jobRow
	err := runOnce(ctx, "claim job", func(ctx context.Context) error {
		return r.db.GetContext(ctx, &row, claimJobQuery)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &queue.Message{
		ID:        row.ID,
		Type:      row.JobType,
		Payload:   json.RawMessage(row.Payload),
		Priority:  row.Priority,
		Timestamp: row.CreatedAt,
	}, nil
}

// Progress only touches running jobs; updated_at doubles as the heartbeat for Stuck.
func (r *JobRepository) Progress(ctx context.Context, id string, progress float64, msg string) error {
	const q = `
		UPDATE ml_jobs
		SET progress = $2, progress_msg = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	return withRetry(ctx, "job progress", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, q, id, progress, msg)
		return err
	})
}

func (r *JobRepository) Complete(ctx context.Context, id string, res *queue.Result) error {
	body := "null"
	modelID := ""
	if res != nil {
		b, err := json.Marshal(res.Body)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		body = string(b)
		modelID = res.ModelID
	}
	const q = `
		UPDATE ml_jobs
		SET status = 'completed', progress = 1, progress_msg = 'done', result = $2,
			result_model_id = $3, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	return withRetry(ctx, "complete job", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, q, id, body, modelID)
		return err
	})
}

func (r *JobRepository) Fail(ctx context.Context, id string, msg string) error {
	const q = `
		UPDATE ml_jobs
		SET status = 'failed', error_msg = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	return withRetry(ctx, "fail job", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, q, id, msg)
		return err
	})
}

func (r *JobRepository) selectJobs(ctx context.Context, op, q string, args ...any) ([]*models.Job, error) {
	var rows []jobRow
	err := withRetry(ctx, op, func(ctx context.Context) error {
		rows = rows[:0]
		return r.db.SelectContext(ctx, &rows, q, args...)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Job, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
