package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewCorrelationID generates a correlation ID tying a job to its logical unit
// of work. The ID stays stable across retries of the same attempt.
func NewCorrelationID() string {
	return "corr_" + uuid.New().String()
}

// NewRunID generates a unique monitor run ID with the "run_" prefix
func NewRunID() string {
	return "run_" + uuid.New().String()
}
