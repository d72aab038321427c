package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
)

// ScheduleOptions controls a single scheduling call.
type ScheduleOptions struct {
	// Delay defers the job's visibility; zero means immediately eligible.
	Delay time.Duration
	// Priority is recorded on the job record for operators. Delivery order
	// within a queue comes from eligibility time alone.
	Priority int
}

// Dispatcher is the single write path onto the queues. It assigns job and
// correlation IDs, persists the job record, and enqueues the serialized
// envelope on the broker. Scheduling is intentionally fire-and-forget:
// there is no deduplication, a job scheduled twice runs twice.
type Dispatcher struct {
	broker   Broker
	registry *Registry
	records  interfaces.JobRecordStorage
	logger   arbor.ILogger
}

// NewDispatcher creates the dispatcher over the shared broker and registry.
func NewDispatcher(broker Broker, registry *Registry, records interfaces.JobRecordStorage, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		broker:   broker,
		registry: registry,
		records:  records,
		logger:   logger,
	}
}

// Schedule enqueues one job on the named queue and returns the job ID.
// A job without an ID gets a fresh one; a job without a correlation ID
// starts a new correlation chain. Retried and chained jobs keep both.
func (d *Dispatcher) Schedule(ctx context.Context, queueName models.QueueName, job *models.Job, opts ScheduleOptions) (string, error) {
	q, err := d.registry.Get(queueName)
	if err != nil {
		return "", err
	}

	if job.ID == "" {
		job.ID = common.NewJobID()
	}
	if job.CorrelationID == "" {
		job.CorrelationID = common.NewCorrelationID()
	}
	if job.Type == "" && job.Payload != nil {
		job.Type = job.Payload.Kind()
	}
	now := time.Now()
	job.EnqueuedAt = now

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	record := &models.JobRecord{
		ID:            job.ID,
		Queue:         q.Definition.Name,
		Type:          job.Type,
		ProjectID:     job.ProjectID,
		CorrelationID: job.CorrelationID,
		Status:        models.JobStatusPending,
		Priority:      opts.Priority,
		RetryCount:    job.RetryCount,
		EnqueuedAt:    now,
		EligibleAt:    now.Add(opts.Delay),
	}
	if err := d.records.SaveJobRecord(ctx, record); err != nil {
		return "", fmt.Errorf("save job record %s: %w", job.ID, err)
	}

	if err := d.broker.Enqueue(ctx, string(queueName), body, opts.Delay); err != nil {
		return "", fmt.Errorf("enqueue job %s on %s: %w", job.ID, queueName, err)
	}

	d.logger.Debug().
		Str("job_id", job.ID).
		Str("queue", string(queueName)).
		Str("type", string(job.Type)).
		Str("correlation_id", job.CorrelationID).
		Dur("delay", opts.Delay).
		Msg("Job scheduled")

	return job.ID, nil
}

// ScheduleBulk enqueues a batch with staggered delays: the first job gets
// the base delay, each subsequent one an extra stagger increment. Jobs are
// independent; one failure does not roll back those already scheduled.
func (d *Dispatcher) ScheduleBulk(ctx context.Context, queueName models.QueueName, jobs []*models.Job, opts ScheduleOptions, stagger time.Duration) ([]string, error) {
	ids := make([]string, 0, len(jobs))
	for i, job := range jobs {
		delay := opts.Delay + time.Duration(i)*stagger
		id, err := d.Schedule(ctx, queueName, job, ScheduleOptions{Delay: delay, Priority: opts.Priority})
		if err != nil {
			return ids, fmt.Errorf("bulk schedule job %d of %d: %w", i+1, len(jobs), err)
		}
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		d.logger.Info().
			Str("queue", string(queueName)).
			Int("count", len(ids)).
			Dur("stagger", stagger).
			Msg("Bulk jobs scheduled")
	}
	return ids, nil
}
