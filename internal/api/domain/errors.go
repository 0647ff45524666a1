package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when the upload breaks the configured policy (extension, size, task)
	ErrValidation = errors.New("validation error")

	// ErrMalformedInput is returned when params do not parse as a JSON object
	ErrMalformedInput = errors.New("malformed input")

	// ErrStorageWrite is returned when the video could not be written to the object store
	ErrStorageWrite = errors.New("storage write failed")

	// ErrRecordCreation is returned when the job record could not be created
	ErrRecordCreation = errors.New("record creation failed")

	// ErrPublish is returned when the job message could not be published to the work queue
	ErrPublish = errors.New("publish failed")

	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJobID is returned by the record store when job_id already exists
	ErrDuplicateJobID = errors.New("duplicate job_id")

	ErrFileTooLarge = errors.New("file exceeds maximum size")
	ErrEmptyFile    = errors.New("file is empty")
)

// Step names the stage of a submission
type Step string

const (
	StepValidate Step = "validate"
	StepStore    Step = "store"
	StepRecord   Step = "record"
	StepPublish  Step = "publish"
)

// SubmitError reports which step of a submission failed and why.
// JobID and VideoPath are set once the corresponding step has produced them, so
// a reconciliation process can locate what was left behind.
type SubmitError struct {
	Kind      error
	Step      Step
	JobID     string
	VideoPath string
	Err       error
}

func (e *SubmitError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s at step %s (job %s): %v", e.Kind, e.Step, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s at step %s: %v", e.Kind, e.Step, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *SubmitError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewValidationError creates a SubmitError of kind ErrValidation
func NewValidationError(format string, args ...any) error {
	return &SubmitError{Kind: ErrValidation, Step: StepValidate, Err: fmt.Errorf(format, args...)}
}

// NewMalformedInputError creates a SubmitError of kind ErrMalformedInput
func NewMalformedInputError(err error) error {
	return &SubmitError{Kind: ErrMalformedInput, Step: StepValidate, Err: err}
}

// Message returns the human-readable cause without the kind prefix
func (e *SubmitError) Message() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Err.Error()
}
