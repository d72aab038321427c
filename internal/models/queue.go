package models

import (
	"time"
)

// RetentionPolicy bounds how many finished job records a queue keeps, and
// for how long, before eviction.
type RetentionPolicy struct {
	Count int
	Age   time.Duration
}

// QueueDefinition is the immutable configuration of one named queue,
// created once at process start. Only the pause flag changes afterwards,
// and that lives on the registry entry, not here.
type QueueDefinition struct {
	Name            QueueName
	MaxConcurrency  int
	RetryAttempts   int
	BackoffBase     time.Duration
	RetainCompleted RetentionPolicy
	RetainFailed    RetentionPolicy
}

// JobStatus tracks a job record through its lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobRecord is the persisted execution state of a scheduled job, kept for
// retention-bounded inspection and health reporting. The queue store itself
// holds the deliverable message; this record only observes it.
type JobRecord struct {
	ID            string    `badgerhold:"key"`
	Queue         QueueName `badgerholdIndex:"Queue"`
	Type          JobType
	ProjectID     string
	CorrelationID string
	Status        JobStatus `badgerholdIndex:"Status"`
	Priority      int
	RetryCount    int
	Error         string
	EnqueuedAt    time.Time
	EligibleAt    time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	HeartbeatAt   time.Time
}

// QueueStats is the per-queue health snapshot.
type QueueStats struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Delayed   int  `json:"delayed"`
	IsPaused  bool `json:"is_paused"`
}

// WorkerStats is the per-worker-pool health snapshot.
type WorkerStats struct {
	IsRunning     bool       `json:"is_running"`
	ActiveJobs    int        `json:"active_jobs"`
	ProcessedJobs int        `json:"processed_jobs"`
	FailedJobs    int        `json:"failed_jobs"`
	LastJobAt     *time.Time `json:"last_job_timestamp,omitempty"`
}
