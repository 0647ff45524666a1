package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/feelware/dvp/internal/api/model"
	"github.com/feelware/dvp/internal/api/storage"
	"github.com/feelware/dvp/shared/redis"
)

const keyPrefix = "job:"

// Store is a byte-oriented key/value cache
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Backend is the authoritative job record store
type Backend interface {
	Create(ctx context.Context, job *model.Job) error
	GetByID(ctx context.Context, jobID string) (*model.Job, error)
	Query(ctx context.Context, filter storage.JobFilter) ([]model.Job, int, error)
}

// JobStore serves completed and failed jobs from the cache. Those records no
// longer change, so a cached copy never goes stale. Pending and processing jobs
// are always read from the underlying store. Cache errors degrade to a miss.
type JobStore struct {
	Backend
	cache  Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewJobStore(next Backend, cache Store, ttl time.Duration, logger *slog.Logger) *JobStore {
	return &JobStore{
		Backend: next,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
	}
}

// GetByID returns the cached record when present, otherwise reads through
func (s *JobStore) GetByID(ctx context.Context, jobID string) (*model.Job, error) {
	key := keyPrefix + jobID

	data, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var job model.Job
		if err := json.Unmarshal(data, &job); err == nil {
			return &job, nil
		}
		s.logger.Warn("Discarding undecodable cache entry", slog.String("job_id", jobID))
	case errors.Is(err, redis.ErrCacheMiss):
	default:
		s.logger.Warn("Job cache read failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	job, err := s.Backend.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		s.store(ctx, key, job)
	}

	return job, nil
}

func (s *JobStore) store(ctx context.Context, key string, job *model.Job) {
	data, err := json.Marshal(job)
	if err != nil {
		s.logger.Warn("Failed to encode job for cache",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return
	}

	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Warn("Job cache write failed",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}
}
