package handler

import (
	"context"
	"log/slog"

	"github.com/feelware/dvp/internal/api/model"
	"github.com/feelware/dvp/internal/api/service"
)

// JobService is the submission pipeline the handlers drive
type JobService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	GetStatus(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, req service.ListRequest) (*service.ListResult, error)
}

// HealthCheck probes one backing service
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service JobService

	// MaxFileSize bounds the multipart body together with a fixed allowance for form fields
	MaxFileSize     int64
	DefaultPageSize int
	MaxPageSize     int

	HealthChecks []HealthCheck
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger          *slog.Logger
	service         JobService
	maxBodySize     int64
	defaultPageSize int
	maxPageSize     int
}

// multipartOverhead covers boundaries, headers and the task/params fields
const multipartOverhead = 1 << 20

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:          deps.Logger,
		service:         deps.Service,
		maxBodySize:     deps.MaxFileSize + multipartOverhead,
		defaultPageSize: deps.DefaultPageSize,
		maxPageSize:     deps.MaxPageSize,
	}
}
