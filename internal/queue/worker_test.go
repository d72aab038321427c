package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
)

// fakeEvents records published events for assertions.
type fakeEvents struct {
	mu        sync.Mutex
	published []interfaces.Event
}

func (f *fakeEvents) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (f *fakeEvents) Publish(ctx context.Context, event interfaces.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	return nil
}

func (f *fakeEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return f.Publish(ctx, event)
}

func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) types() []interfaces.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]interfaces.EventType, 0, len(f.published))
	for _, e := range f.published {
		result = append(result, e.Type)
	}
	return result
}

// handlerFunc adapts a function to the Handler interface.
type handlerFunc func(ctx context.Context, job *models.Job) error

func (f handlerFunc) Handle(ctx context.Context, job *models.Job) error { return f(ctx, job) }

type workerFixture struct {
	broker     *MemoryBroker
	records    *fakeRecordStore
	events     *fakeEvents
	registry   *Registry
	dispatcher *Dispatcher
	queue      *Queue
	pool       *WorkerPool
}

func newWorkerFixture(t *testing.T, def models.QueueDefinition, handler Handler) *workerFixture {
	t.Helper()

	broker := NewMemoryBroker(time.Minute, 5)
	records := newFakeRecordStore()
	events := &fakeEvents{}
	registry := testRegistry(t, def)
	dispatcher := NewDispatcher(broker, registry, records, arbor.NewLogger())

	q, err := registry.Get(def.Name)
	require.NoError(t, err)

	pool := NewWorkerPool(
		q, broker, dispatcher, records, events, handler,
		10*time.Millisecond, time.Minute, arbor.NewLogger(),
	)

	return &workerFixture{
		broker:     broker,
		records:    records,
		events:     events,
		registry:   registry,
		dispatcher: dispatcher,
		queue:      q,
		pool:       pool,
	}
}

// scheduleAndLease puts one job on the queue and leases it back.
func (fx *workerFixture) scheduleAndLease(t *testing.T, job *models.Job) (string, *Lease) {
	t.Helper()
	id, err := fx.dispatcher.Schedule(context.Background(), fx.queue.Definition.Name, job, ScheduleOptions{})
	require.NoError(t, err)
	lease, err := fx.broker.Receive(context.Background(), string(fx.queue.Definition.Name))
	require.NoError(t, err)
	return id, lease
}

func TestWorkerSuccess(t *testing.T) {
	fx := newWorkerFixture(t, buildQueueDef(), handlerFunc(func(ctx context.Context, job *models.Job) error {
		return nil
	}))

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseResearch})
	id, lease := fx.scheduleAndLease(t, job)

	fx.pool.processLease(context.Background(), lease)

	assert.Equal(t, models.JobStatusCompleted, fx.records.status(id))
	assert.Empty(t, fx.broker.Pending("build"))
	assert.Equal(t, 1, fx.pool.Stats().ProcessedJobs)
	assert.Equal(t, []interfaces.EventType{interfaces.EventJobCompleted}, fx.events.types())
}

func TestWorkerSkipAsSuccessOnEntityGone(t *testing.T) {
	fx := newWorkerFixture(t, buildQueueDef(), handlerFunc(func(ctx context.Context, job *models.Job) error {
		return models.EntityGone("project", job.ProjectID)
	}))

	job := models.NewJob("proj-deleted", &models.BuildPayload{Phase: models.PhaseContent})
	id, lease := fx.scheduleAndLease(t, job)

	fx.pool.processLease(context.Background(), lease)

	// Gone entity completes the job; no retry is ever scheduled
	assert.Equal(t, models.JobStatusCompleted, fx.records.status(id))
	assert.Empty(t, fx.broker.Pending("build"))
	assert.Equal(t, 1, fx.pool.Stats().ProcessedJobs)
	assert.Equal(t, 0, fx.pool.Stats().FailedJobs)
}

func TestWorkerValidationErrorIsTerminal(t *testing.T) {
	fx := newWorkerFixture(t, buildQueueDef(), handlerFunc(func(ctx context.Context, job *models.Job) error {
		return &models.ValidationError{Field: "payload", Reason: "malformed"}
	}))

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseResearch})
	id, lease := fx.scheduleAndLease(t, job)

	fx.pool.processLease(context.Background(), lease)

	assert.Equal(t, models.JobStatusFailed, fx.records.status(id))
	assert.Empty(t, fx.broker.Pending("build"), "validation failures must not re-enqueue")
	assert.Equal(t, 1, fx.pool.Stats().FailedJobs)
	assert.Equal(t, []interfaces.EventType{interfaces.EventJobFailed}, fx.events.types())
}

func TestWorkerRetryWithBackoff(t *testing.T) {
	def := buildQueueDef() // RetryAttempts 2, BackoffBase 5s
	fx := newWorkerFixture(t, def, handlerFunc(func(ctx context.Context, job *models.Job) error {
		return errors.New("transient io failure")
	}))

	now := time.Unix(9000, 0)
	fx.broker.SetClock(func() time.Time { return now })

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseResearch})
	id, lease := fx.scheduleAndLease(t, job)

	fx.pool.processLease(context.Background(), lease)

	// The retry copy keeps the job ID, bumps the retry count, and is
	// delayed by base * 2^0
	record, err := fx.records.GetJobRecord(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, record.Status)
	assert.Equal(t, 1, record.RetryCount)

	pending := fx.broker.Pending("build")
	require.Len(t, pending, 1)
	assert.Equal(t, now.Add(5*time.Second), pending[0].VisibleAt)
	assert.Equal(t, 0, fx.pool.Stats().FailedJobs, "a scheduled retry is not a terminal failure")
}

func TestWorkerTerminalAfterRetriesExhausted(t *testing.T) {
	fx := newWorkerFixture(t, buildQueueDef(), handlerFunc(func(ctx context.Context, job *models.Job) error {
		return errors.New("still broken")
	}))

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseResearch})
	job.RetryCount = 2 // equals RetryAttempts
	id, lease := fx.scheduleAndLease(t, job)

	fx.pool.processLease(context.Background(), lease)

	assert.Equal(t, models.JobStatusFailed, fx.records.status(id))
	assert.Empty(t, fx.broker.Pending("build"))
	assert.Equal(t, 1, fx.pool.Stats().FailedJobs)
}

func TestWorkerPanicBecomesFailedJob(t *testing.T) {
	def := buildQueueDef()
	def.RetryAttempts = 0
	fx := newWorkerFixture(t, def, handlerFunc(func(ctx context.Context, job *models.Job) error {
		panic("handler bug")
	}))

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseResearch})
	id, lease := fx.scheduleAndLease(t, job)

	// Must not panic the caller
	fx.pool.processLease(context.Background(), lease)

	assert.Equal(t, models.JobStatusFailed, fx.records.status(id))
}

func TestWorkerDropsUndecodableMessage(t *testing.T) {
	fx := newWorkerFixture(t, buildQueueDef(), handlerFunc(func(ctx context.Context, job *models.Job) error {
		t.Fatal("handler must not run for undecodable messages")
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, fx.broker.Enqueue(ctx, "build", []byte("not json"), 0))
	lease, err := fx.broker.Receive(ctx, "build")
	require.NoError(t, err)

	fx.pool.processLease(ctx, lease)

	assert.Empty(t, fx.broker.Pending("build"))
}

func TestPauseBlocksLeasing(t *testing.T) {
	processed := make(chan string, 10)
	fx := newWorkerFixture(t, buildQueueDef(), handlerFunc(func(ctx context.Context, job *models.Job) error {
		processed <- job.ID
		return nil
	}))

	fx.queue.Pause()
	assert.True(t, fx.queue.IsPaused())
	fx.queue.Pause() // idempotent

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.pool.Start(ctx)
	defer fx.pool.Stop()

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseResearch})
	_, err := fx.dispatcher.Schedule(ctx, models.QueueBuild, job, ScheduleOptions{})
	require.NoError(t, err)

	// Paused queue never leases
	time.Sleep(100 * time.Millisecond)
	select {
	case id := <-processed:
		t.Fatalf("job %s processed while queue paused", id)
	default:
	}
	require.Len(t, fx.broker.Pending("build"), 1)
	assert.Equal(t, 0, fx.broker.Pending("build")[0].ReceiveCount)

	// Resume unblocks the poll loop
	fx.queue.Resume()
	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("job not processed after resume")
	}
}
