package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/lens-cleaner/internal/database"
)

const jobColumns = `id, state, provider, remote_job_name, input_file_name, output_file_name,
	submitted_requests, processed_suggestions, error_message, created_at, updated_at, completed_at`

// CreateJob inserts a new batch job record.
func (p *Pool) CreateJob(ctx context.Context, job *database.BatchJob) error {
	_, err := p.Exec(ctx, `
		INSERT INTO batch_jobs (id, state, provider, submitted_requests)
		VALUES ($1, $2, $3, $4)`,
		job.ID, job.State, job.Provider, job.SubmittedRequests,
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads a single batch job by id.
func (p *Pool) GetJob(ctx context.Context, id string) (*database.BatchJob, error) {
	row := p.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM batch_jobs WHERE id = $1", jobColumns), id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns all batch jobs, newest first.
func (p *Pool) ListJobs(ctx context.Context) ([]*database.BatchJob, error) {
	rows, err := p.Query(ctx, fmt.Sprintf("SELECT %s FROM batch_jobs ORDER BY created_at DESC", jobColumns))
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*database.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}
	return jobs, nil
}

// UpdateJob persists the mutable fields of a job. The state column is guarded
// inside the statement so a stale writer can never move a job backwards or out
// of a terminal state.
func (p *Pool) UpdateJob(ctx context.Context, job *database.BatchJob) error {
	tx, err := p.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current database.JobState
	err = tx.QueryRowContext(ctx,
		"SELECT state FROM batch_jobs WHERE id = $1 FOR UPDATE", job.ID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrNotFound
		}
		return fmt.Errorf("locking job %s: %w", job.ID, err)
	}

	if current != job.State && !current.CanTransitionTo(job.State) {
		return fmt.Errorf("job %s: %s -> %s: %w",
			job.ID, current, job.State, database.ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE batch_jobs
		SET state = $1,
		    remote_job_name = $2,
		    input_file_name = $3,
		    output_file_name = $4,
		    submitted_requests = $5,
		    processed_suggestions = $6,
		    error_message = $7,
		    updated_at = NOW(),
		    completed_at = $8
		WHERE id = $9`,
		job.State, job.RemoteJobName, job.InputFileName, job.OutputFileName,
		job.SubmittedRequests, job.ProcessedSuggestions, job.ErrorMessage,
		job.CompletedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing job update %s: %w", job.ID, err)
	}
	return nil
}

func scanJob(row rowScanner) (*database.BatchJob, error) {
	var job database.BatchJob
	err := row.Scan(
		&job.ID,
		&job.State,
		&job.Provider,
		&job.RemoteJobName,
		&job.InputFileName,
		&job.OutputFileName,
		&job.SubmittedRequests,
		&job.ProcessedSuggestions,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
