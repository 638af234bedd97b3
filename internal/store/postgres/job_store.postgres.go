// internal/store/postgres/job_store.postgres.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/jobs"
)

// JobStore implements jobs.JobStore over the predictions table.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const terminalStatuses = `('completed', 'failed', 'canceled')`

func (s *JobStore) CreateJob(ctx context.Context, job *jobs.TrainingJob) error {
	query := `
		INSERT INTO predictions (
			id, training_id, user_id, status, input_ref, trigger_word, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := conn(ctx, s.db).ExecContext(ctx, query,
		job.ID,
		job.TrainingID,
		job.UserID,
		string(job.Status),
		job.InputRef,
		job.TriggerWord,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErr.ErrDuplicateEvent
		}
		return fmt.Errorf("db: failed to insert job: %w", err)
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, trainingID string) (*jobs.TrainingJob, error) {
	query := `
		SELECT id, training_id, user_id, status, input_ref, trigger_word,
		       lora_url, error, created_at, updated_at, finished_at
		FROM predictions
		WHERE training_id = $1
	`
	var (
		job        jobs.TrainingJob
		status     string
		resultURL  sql.NullString
		jobErr     sql.NullString
		finishedAt sql.NullTime
	)
	err := conn(ctx, s.db).QueryRowContext(ctx, query, trainingID).Scan(
		&job.ID,
		&job.TrainingID,
		&job.UserID,
		&status,
		&job.InputRef,
		&job.TriggerWord,
		&resultURL,
		&jobErr,
		&job.CreatedAt,
		&job.UpdatedAt,
		&finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainErr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: failed to read job: %w", err)
	}
	job.Status = jobs.Status(status)
	job.ResultURL = resultURL.String
	job.Error = jobErr.String
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

func (s *JobStore) UpdateProgress(ctx context.Context, trainingID string, status jobs.Status) (bool, error) {
	query := `
		UPDATE predictions
		SET status = $2, updated_at = NOW()
		WHERE training_id = $1 AND status NOT IN ` + terminalStatuses
	res, err := conn(ctx, s.db).ExecContext(ctx, query, trainingID, string(status))
	if err != nil {
		return false, fmt.Errorf("db: failed to update job progress: %w", err)
	}
	return s.applied(ctx, res, trainingID)
}

func (s *JobStore) FinishJob(ctx context.Context, trainingID string, out jobs.Outcome) (bool, error) {
	query := `
		UPDATE predictions
		SET status = $2, lora_url = $3, error = $4, finished_at = $5, updated_at = $5
		WHERE training_id = $1 AND status NOT IN ` + terminalStatuses
	res, err := conn(ctx, s.db).ExecContext(ctx, query,
		trainingID,
		string(out.Status),
		nullString(out.ResultURL),
		nullString(out.Error),
		out.FinishedAt,
	)
	if err != nil {
		return false, fmt.Errorf("db: failed to finish job: %w", err)
	}
	return s.applied(ctx, res, trainingID)
}

// applied distinguishes "already terminal" (false, nil) from "unknown id"
// (ErrNotFound) when a conditional update touched nothing.
func (s *JobStore) applied(ctx context.Context, res sql.Result, trainingID string) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db: failed to read rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}
	var exists bool
	err = conn(ctx, s.db).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM predictions WHERE training_id = $1)`, trainingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db: failed to check job: %w", err)
	}
	if !exists {
		return false, domainErr.ErrNotFound
	}
	return false, nil
}
