package model

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/feelware/dvp/internal/api/domain"
)

// Job is a row of the jobs table
type Job struct {
	JobID        string           `db:"job_id"`
	VideoPath    string           `db:"video_path"`
	Task         string           `db:"task"`
	Params       json.RawMessage  `db:"params"`
	Status       domain.JobStatus `db:"status"`
	ErrorMessage sql.NullString   `db:"error_message"`
	CreatedAt    time.Time        `db:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at"`
}
