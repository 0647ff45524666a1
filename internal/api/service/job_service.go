package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/feelware/dvp/internal/api/domain"
	"github.com/feelware/dvp/internal/api/model"
	"github.com/feelware/dvp/internal/api/storage"
	"github.com/feelware/dvp/shared/minio"
	"github.com/google/uuid"
)

const messageContentType = "application/json"

// SubmitRequest is one uploaded video plus its processing instructions
type SubmitRequest struct {
	File     []byte
	Filename string
	Task     string
	// Params is a JSON object; empty means {}
	Params string
}

// SubmitResult describes an accepted job
type SubmitResult struct {
	JobID     string
	VideoPath string
	Task      string
	Params    json.RawMessage
	Status    domain.JobStatus
	CreatedAt time.Time
}

// ListRequest selects a page of jobs. An empty Status matches every job.
type ListRequest struct {
	Status domain.JobStatus
	Limit  int
	Offset int
}

// ListResult is one page of jobs, newest first
type ListResult struct {
	Total  int
	Limit  int
	Offset int
	Jobs   []model.Job
}

// JobService runs the submission pipeline: validate, store the video, record the
// job, publish it. It holds no per-request state and is safe for concurrent use.
type JobService struct {
	objects   ObjectStore
	jobs      JobStore
	publisher Publisher
	config    Config
	logger    *slog.Logger

	allowed map[string]struct{}
	now     func() time.Time
	newID   func() string
}

func NewJobService(objects ObjectStore, jobs JobStore, publisher Publisher, config Config, logger *slog.Logger, opts ...Option) *JobService {
	allowed := make(map[string]struct{}, len(config.AllowedExtensions))
	for _, ext := range config.AllowedExtensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}

	s := &JobService{
		objects:   objects,
		jobs:      jobs,
		publisher: publisher,
		config:    config,
		logger:    logger,
		allowed:   allowed,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit accepts a video for processing. It returns only after the video is
// stored, the job is recorded as pending and the job message is published.
// Failures are reported as *domain.SubmitError; completed steps are not undone.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ext, params, err := s.validate(req)
	if err != nil {
		s.logger.Warn("Submission rejected",
			slog.String("filename", req.Filename),
			slog.Int("size", len(req.File)),
			slog.Any("error", err),
		)
		return nil, err
	}

	jobID := s.newID()
	now := s.now().UTC().Truncate(time.Microsecond)
	key := ObjectKey(now, jobID, ext)
	videoPath := s.config.Bucket + "/" + key

	// store
	if err := ctx.Err(); err != nil {
		return nil, s.fail(domain.ErrStorageWrite, domain.StepStore, jobID, "", err)
	}
	storeCtx, cancel := withTimeout(ctx, s.config.StorageTimeout)
	err = s.objects.Put(storeCtx, s.config.Bucket, key, req.File, minio.ContentTypeForExtension(ext))
	cancel()
	if err != nil {
		return nil, s.fail(domain.ErrStorageWrite, domain.StepStore, jobID, "", err)
	}

	// record
	job := &model.Job{
		JobID:     jobID,
		VideoPath: videoPath,
		Task:      req.Task,
		Params:    params,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(domain.ErrRecordCreation, domain.StepRecord, jobID, videoPath, err)
	}
	recordCtx, cancel := withTimeout(ctx, s.config.RecordTimeout)
	err = s.jobs.Create(recordCtx, job)
	cancel()
	if err != nil {
		return nil, s.fail(domain.ErrRecordCreation, domain.StepRecord, jobID, videoPath, err)
	}

	// publish
	body, err := json.Marshal(domain.NewJobMessage(jobID, videoPath, req.Task, params, now))
	if err != nil {
		return nil, s.fail(domain.ErrPublish, domain.StepPublish, jobID, videoPath, fmt.Errorf("failed to encode job message: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(domain.ErrPublish, domain.StepPublish, jobID, videoPath, err)
	}
	publishCtx, cancel := withTimeout(ctx, s.config.PublishTimeout)
	err = s.publisher.Publish(publishCtx, jobID, body, messageContentType)
	cancel()
	if err != nil {
		return nil, s.fail(domain.ErrPublish, domain.StepPublish, jobID, videoPath, err)
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("video_path", videoPath),
		slog.String("task", req.Task),
		slog.Int("size", len(req.File)),
	)

	return &SubmitResult{
		JobID:     jobID,
		VideoPath: videoPath,
		Task:      req.Task,
		Params:    params,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the job record for jobID
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	jobID = strings.TrimSpace(jobID)
	// ids are always UUIDs, anything else (including an empty id) cannot exist
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}

	queryCtx, cancel := withTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	job, err := s.jobs.GetByID(queryCtx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		s.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	return job, nil
}

// ListJobs returns a page of jobs ordered by created_at descending
func (s *JobService) ListJobs(ctx context.Context, req ListRequest) (*ListResult, error) {
	if req.Status != "" && !req.Status.IsValid() {
		return nil, domain.NewValidationError("unknown status %q", req.Status)
	}
	if req.Limit < 0 {
		return nil, domain.NewValidationError("limit must not be negative")
	}
	if req.Offset < 0 {
		return nil, domain.NewValidationError("offset must not be negative")
	}

	queryCtx, cancel := withTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	jobs, total, err := s.jobs.Query(queryCtx, storage.JobFilter{
		Status: req.Status,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		s.logger.Error("Failed to list jobs",
			slog.String("status", string(req.Status)),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return &ListResult{
		Total:  total,
		Limit:  req.Limit,
		Offset: req.Offset,
		Jobs:   jobs,
	}, nil
}

// validate checks the request against the upload policy without any I/O.
// It returns the lower-cased extension and the compacted params object.
func (s *JobService) validate(req SubmitRequest) (string, json.RawMessage, error) {
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if _, ok := s.allowed[ext]; !ok {
		return "", nil, domain.NewValidationError("file extension %q is not allowed (allowed: %s)",
			filepath.Ext(req.Filename), strings.Join(s.config.AllowedExtensions, ", "))
	}

	size := int64(len(req.File))
	if size == 0 {
		return "", nil, &domain.SubmitError{Kind: domain.ErrValidation, Step: domain.StepValidate, Err: domain.ErrEmptyFile}
	}
	if size > s.config.MaxFileSize {
		return "", nil, &domain.SubmitError{
			Kind: domain.ErrValidation,
			Step: domain.StepValidate,
			Err:  fmt.Errorf("%w: %d bytes, limit %d", domain.ErrFileTooLarge, size, s.config.MaxFileSize),
		}
	}

	if strings.TrimSpace(req.Task) == "" {
		return "", nil, domain.NewValidationError("task is required")
	}

	params, err := parseParams(req.Params)
	if err != nil {
		return "", nil, domain.NewMalformedInputError(err)
	}

	return ext, params, nil
}

// parseParams accepts a JSON object and returns it compacted
func parseParams(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("{}"), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	// "null" decodes into a nil map without error
	if obj == nil {
		return nil, errors.New("params must be a JSON object, got null")
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// fail logs a failed step and builds the error returned to the caller
func (s *JobService) fail(kind error, step domain.Step, jobID, videoPath string, err error) error {
	attrs := []any{
		slog.String("step", string(step)),
		slog.String("job_id", jobID),
		slog.Any("error", err),
	}
	if videoPath != "" {
		attrs = append(attrs, slog.String("video_path", videoPath))
	}

	switch step {
	case domain.StepRecord:
		s.logger.Error("Stored video has no job record", attrs...)
	case domain.StepPublish:
		s.logger.Error("Pending job was not published", attrs...)
	default:
		s.logger.Error("Submission failed", attrs...)
	}

	return &domain.SubmitError{
		Kind:      kind,
		Step:      step,
		JobID:     jobID,
		VideoPath: videoPath,
		Err:       err,
	}
}

// ObjectKey is the storage key of an uploaded video:
// uploads/<UTC YYYYMMDD>/video_<job_id><ext>
func ObjectKey(t time.Time, jobID, ext string) string {
	return fmt.Sprintf("uploads/%s/video_%s%s", t.UTC().Format("20060102"), jobID, ext)
}
