package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
)

// Handler processes one dequeued job. The worker pool classifies the
// returned error: nil completes the job, an entity-gone error is treated
// as success with a skip log, a validation error fails terminally, and
// anything else retries with exponential backoff until the queue's retry
// budget is spent.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// workerStagger offsets poll goroutine start so concurrent workers on one
// queue do not hammer the broker in lockstep.
const workerStagger = 250 * time.Millisecond

// WorkerPool runs a fixed number of poll goroutines against one queue.
type WorkerPool struct {
	queue             *Queue
	broker            Broker
	dispatcher        *Dispatcher
	records           interfaces.JobRecordStorage
	events            interfaces.EventService
	handler           Handler
	pollInterval      time.Duration
	visibilityTimeout time.Duration
	logger            arbor.ILogger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	activeJobs    atomic.Int32
	processedJobs atomic.Int64
	failedJobs    atomic.Int64
	lastJobAt     atomic.Pointer[time.Time]
}

// NewWorkerPool creates a pool for the given queue. The pool does not poll
// until Start is called.
func NewWorkerPool(
	queue *Queue,
	broker Broker,
	dispatcher *Dispatcher,
	records interfaces.JobRecordStorage,
	events interfaces.EventService,
	handler Handler,
	pollInterval time.Duration,
	visibilityTimeout time.Duration,
	logger arbor.ILogger,
) *WorkerPool {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	return &WorkerPool{
		queue:             queue,
		broker:            broker,
		dispatcher:        dispatcher,
		records:           records,
		events:            events,
		handler:           handler,
		pollInterval:      pollInterval,
		visibilityTimeout: visibilityTimeout,
		logger:            logger,
	}
}

// Start launches MaxConcurrency poll goroutines. Idempotent.
func (p *WorkerPool) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	concurrency := p.queue.Definition.MaxConcurrency

	p.logger.Info().
		Str("queue", string(p.queue.Definition.Name)).
		Int("workers", concurrency).
		Msg("Worker pool starting")

	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.pollLoop(ctx, i)
	}
}

// Stop cancels the poll loops and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().
		Str("queue", string(p.queue.Definition.Name)).
		Msg("Worker pool stopped")
}

// Stats returns a point-in-time snapshot of the pool counters.
func (p *WorkerPool) Stats() models.WorkerStats {
	return models.WorkerStats{
		IsRunning:     p.running.Load(),
		ActiveJobs:    int(p.activeJobs.Load()),
		ProcessedJobs: int(p.processedJobs.Load()),
		FailedJobs:    int(p.failedJobs.Load()),
		LastJobAt:     p.lastJobAt.Load(),
	}
}

func (p *WorkerPool) pollLoop(ctx context.Context, workerID int) {
	defer p.wg.Done()

	// Stagger startup so workers don't poll in lockstep
	select {
	case <-time.After(time.Duration(workerID) * workerStagger):
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.queue.IsPaused() {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		lease, err := p.broker.Receive(ctx, string(p.queue.Definition.Name))
		if err != nil {
			if err != ErrNoMessage && ctx.Err() == nil {
				p.logger.Warn().
					Err(err).
					Str("queue", string(p.queue.Definition.Name)).
					Msg("Receive failed")
			}
			p.sleep(ctx, p.pollInterval)
			continue
		}

		p.processLease(ctx, lease)
	}
}

func (p *WorkerPool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (p *WorkerPool) processLease(ctx context.Context, lease *Lease) {
	queueName := string(p.queue.Definition.Name)

	var job models.Job
	if err := job.UnmarshalJSON(lease.Body); err != nil {
		// Undecodable message, ack it away so it can't loop
		p.logger.Error().
			Err(err).
			Str("queue", queueName).
			Str("message_id", lease.MessageID).
			Msg("Dropping undecodable message")
		if derr := p.broker.Delete(ctx, queueName, lease.MessageID); derr != nil {
			p.logger.Warn().Err(derr).Str("message_id", lease.MessageID).Msg("Failed to delete undecodable message")
		}
		return
	}

	p.activeJobs.Add(1)
	now := time.Now()
	p.lastJobAt.Store(&now)
	defer p.activeJobs.Add(-1)

	if err := p.records.UpdateJobRecordStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark job running")
	}

	// Keep the lease alive for long handlers
	stopHeartbeat := p.startHeartbeat(ctx, job.ID, lease.MessageID)
	handlerErr := p.runHandler(ctx, &job)
	stopHeartbeat()

	p.settle(ctx, &job, lease, handlerErr)
}

// runHandler invokes the handler with panic recovery so a misbehaving
// handler fails one job instead of killing the poll goroutine.
func (p *WorkerPool) runHandler(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			p.logger.Error().
				Str("job_id", job.ID).
				Str("type", string(job.Type)).
				Msg(fmt.Sprintf("Handler panicked: %v", r))
		}
	}()
	return p.handler.Handle(ctx, job)
}

func (p *WorkerPool) startHeartbeat(ctx context.Context, jobID, messageID string) func() {
	interval := p.visibilityTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}

	done := make(chan struct{})
	var once sync.Once
	queueName := string(p.queue.Definition.Name)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.broker.Extend(ctx, queueName, messageID, p.visibilityTimeout); err != nil {
					p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Lease extension failed")
				}
				if err := p.records.Heartbeat(ctx, jobID, time.Now()); err != nil {
					p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Heartbeat update failed")
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// settle acks, retries, or fails the job based on the handler result.
func (p *WorkerPool) settle(ctx context.Context, job *models.Job, lease *Lease, handlerErr error) {
	switch {
	case handlerErr == nil:
		p.complete(ctx, job, lease, "")

	case models.IsEntityGone(handlerErr):
		// The entity this job targets was deleted. That is a normal
		// pipeline outcome, not a failure: ack and move on.
		p.logger.Info().
			Str("job_id", job.ID).
			Str("type", string(job.Type)).
			Str("reason", handlerErr.Error()).
			Msg("Job skipped, target entity gone")
		p.complete(ctx, job, lease, handlerErr.Error())

	case models.IsValidation(handlerErr):
		// Malformed input never heals with retries
		p.fail(ctx, job, lease, handlerErr)

	case job.RetryCount < p.queue.Definition.RetryAttempts:
		p.retry(ctx, job, lease, handlerErr)

	default:
		p.fail(ctx, job, lease, handlerErr)
	}
}

func (p *WorkerPool) complete(ctx context.Context, job *models.Job, lease *Lease, note string) {
	queueName := string(p.queue.Definition.Name)

	if err := p.broker.Delete(ctx, queueName, lease.MessageID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to ack completed job")
	}
	if err := p.records.UpdateJobRecordStatus(ctx, job.ID, models.JobStatusCompleted, note); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark job completed")
	}

	p.processedJobs.Add(1)
	if err := p.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventJobCompleted,
		Payload: map[string]interface{}{
			"job_id":         job.ID,
			"queue":          queueName,
			"type":           string(job.Type),
			"project_id":     job.ProjectID,
			"correlation_id": job.CorrelationID,
		},
	}); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish completion event")
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("queue", queueName).
		Str("type", string(job.Type)).
		Msg("Job completed")
}

func (p *WorkerPool) retry(ctx context.Context, job *models.Job, lease *Lease, handlerErr error) {
	queueName := string(p.queue.Definition.Name)
	delay := Backoff(p.queue.Definition.BackoffBase, job.RetryCount)

	// Ack the current delivery, then re-enqueue a copy. The job keeps its
	// ID and correlation ID; only the retry count advances.
	if err := p.broker.Delete(ctx, queueName, lease.MessageID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to ack job before retry")
	}

	retryJob := *job
	retryJob.RetryCount = job.RetryCount + 1

	if _, err := p.dispatcher.Schedule(ctx, p.queue.Definition.Name, &retryJob, ScheduleOptions{Delay: delay}); err != nil {
		p.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to schedule retry, failing job")
		p.fail(ctx, job, lease, fmt.Errorf("%v (retry scheduling failed: %w)", handlerErr, err))
		return
	}

	p.logger.Warn().
		Err(handlerErr).
		Str("job_id", job.ID).
		Str("queue", queueName).
		Int("retry", retryJob.RetryCount).
		Int("max_retries", p.queue.Definition.RetryAttempts).
		Dur("backoff", delay).
		Msg("Job failed, retrying")
}

func (p *WorkerPool) fail(ctx context.Context, job *models.Job, lease *Lease, handlerErr error) {
	queueName := string(p.queue.Definition.Name)

	if err := p.broker.Delete(ctx, queueName, lease.MessageID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to ack failed job")
	}
	if err := p.records.UpdateJobRecordStatus(ctx, job.ID, models.JobStatusFailed, handlerErr.Error()); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
	}

	p.failedJobs.Add(1)
	if err := p.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventJobFailed,
		Payload: map[string]interface{}{
			"job_id":         job.ID,
			"queue":          queueName,
			"type":           string(job.Type),
			"project_id":     job.ProjectID,
			"correlation_id": job.CorrelationID,
			"error":          handlerErr.Error(),
		},
	}); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish failure event")
	}

	p.logger.Error().
		Err(handlerErr).
		Str("job_id", job.ID).
		Str("queue", queueName).
		Str("type", string(job.Type)).
		Int("retry_count", job.RetryCount).
		Msg("Job failed terminally")
}
