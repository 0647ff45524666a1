package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/feelware/dvp/internal/api/domain"
	"github.com/feelware/dvp/internal/api/model"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint violation
const uniqueViolation = "23505"

const jobColumns = `job_id, video_path, task, params, status, error_message, created_at, updated_at`

// Storage is the job record store backed by PostgreSQL
type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

// Create inserts a new job record
func (s *Storage) Create(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, video_path, task, params,
			status, error_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.VideoPath,
		job.Task,
		[]byte(job.Params),
		string(job.Status),
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("failed to create job %s: %w", job.JobID, domain.ErrDuplicateJobID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID returns the job with the given id, or domain.ErrJobNotFound
func (s *Storage) GetByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// JobFilter selects a page of jobs
type JobFilter struct {
	Status domain.JobStatus
	Limit  int
	Offset int
}

// Query returns one page of jobs, most recent first, and the total number of
// jobs matching the filter.
func (s *Storage) Query(ctx context.Context, filter JobFilter) ([]model.Job, int, error) {
	where, args := buildWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM jobs` + where
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	if total == 0 || filter.Offset >= total || filter.Limit == 0 {
		return []model.Job{}, total, nil
	}

	query, args := buildListQuery(filter)

	jobs := []model.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, total, nil
}

func buildWhere(filter JobFilter) (string, []interface{}) {
	if filter.Status == "" {
		return "", nil
	}
	return " WHERE status = $1", []interface{}{string(filter.Status)}
}

func buildListQuery(filter JobFilter) (string, []interface{}) {
	where, args := buildWhere(filter)
	argIdx := len(args) + 1

	query := `SELECT ` + jobColumns + ` FROM jobs` + where

	// job_id breaks ties between jobs created in the same microsecond
	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	return query, args
}
