package service

import (
	"context"
	"time"

	"github.com/feelware/dvp/internal/api/model"
	"github.com/feelware/dvp/internal/api/storage"
)

// ObjectStore writes uploaded videos to durable object storage
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// JobStore persists job records. GetByID returns domain.ErrJobNotFound when absent.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	GetByID(ctx context.Context, jobID string) (*model.Job, error)
	Query(ctx context.Context, filter storage.JobFilter) ([]model.Job, int, error)
}

// Publisher delivers job messages to the work queue
type Publisher interface {
	Publish(ctx context.Context, messageID string, body []byte, contentType string) error
}

// Config holds the upload policy and per-step timeouts of JobService
type Config struct {
	Bucket            string
	AllowedExtensions []string
	MaxFileSize       int64

	StorageTimeout time.Duration
	RecordTimeout  time.Duration
	PublishTimeout time.Duration
	QueryTimeout   time.Duration
}

// Option customises a JobService
type Option func(*JobService)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *JobService) {
		s.now = now
	}
}

// WithIDGenerator replaces uuid.NewString
func WithIDGenerator(newID func() string) Option {
	return func(s *JobService) {
		s.newID = newID
	}
}

// withTimeout bounds a single external call. A zero timeout leaves ctx untouched.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
