package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a job. Values match jobs.status in the database.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsValid reports whether s is one of the known statuses
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can happen from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobMessage is the body published to the work queue for the processing cluster
type JobMessage struct {
	JobID     string          `json:"job_id"`
	VideoPath string          `json:"video_path"`
	Task      string          `json:"task"`
	Params    json.RawMessage `json:"params"`
	CreatedAt string          `json:"created_at"`
}

// NewJobMessage builds the queue message. created_at is rendered as RFC3339.
func NewJobMessage(jobID, videoPath, task string, params json.RawMessage, createdAt time.Time) JobMessage {
	return JobMessage{
		JobID:     jobID,
		VideoPath: videoPath,
		Task:      task,
		Params:    params,
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}
