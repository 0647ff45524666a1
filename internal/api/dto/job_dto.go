package dto

import (
	"encoding/json"
	"time"

	"github.com/feelware/dvp/internal/api/model"
	"github.com/feelware/dvp/internal/api/service"
)

// ListJobsRequest is bound from the query string of GET /api/v1/jobs.
// A missing limit is filled with the configured default page size.
type ListJobsRequest struct {
	Status string `form:"status"`
	Limit  *int   `form:"limit"`
	Offset int    `form:"offset"`
}

type SubmitJobResponse struct {
	JobID     string          `json:"job_id"`
	VideoPath string          `json:"video_path"`
	Task      string          `json:"task"`
	Params    json.RawMessage `json:"params"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
}

type JobDTO struct {
	JobID        string          `json:"job_id"`
	VideoPath    string          `json:"video_path"`
	Task         string          `json:"task"`
	Params       json.RawMessage `json:"params"`
	Status       string          `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

type JobSummaryDTO struct {
	JobID     string `json:"job_id"`
	Task      string `json:"task"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ListJobsResponse struct {
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Jobs   []JobSummaryDTO `json:"jobs"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Kind      string `json:"kind"`
	Step      string `json:"step,omitempty"`
	Message   string `json:"message"`
	JobID     string `json:"job_id,omitempty"`
	VideoPath string `json:"video_path,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func NewSubmitJobResponse(r *service.SubmitResult) SubmitJobResponse {
	return SubmitJobResponse{
		JobID:     r.JobID,
		VideoPath: r.VideoPath,
		Task:      r.Task,
		Params:    r.Params,
		Status:    string(r.Status),
		CreatedAt: formatTime(r.CreatedAt),
	}
}

func NewJobDTO(job *model.Job) JobDTO {
	out := JobDTO{
		JobID:     job.JobID,
		VideoPath: job.VideoPath,
		Task:      job.Task,
		Params:    job.Params,
		Status:    string(job.Status),
		CreatedAt: formatTime(job.CreatedAt),
		UpdatedAt: formatTime(job.UpdatedAt),
	}
	if job.ErrorMessage.Valid {
		msg := job.ErrorMessage.String
		out.ErrorMessage = &msg
	}
	return out
}

func NewListJobsResponse(r *service.ListResult) ListJobsResponse {
	jobs := make([]JobSummaryDTO, len(r.Jobs))
	for i, job := range r.Jobs {
		jobs[i] = JobSummaryDTO{
			JobID:     job.JobID,
			Task:      job.Task,
			Status:    string(job.Status),
			CreatedAt: formatTime(job.CreatedAt),
			UpdatedAt: formatTime(job.UpdatedAt),
		}
	}

	return ListJobsResponse{
		Total:  r.Total,
		Limit:  r.Limit,
		Offset: r.Offset,
		Jobs:   jobs,
	}
}
