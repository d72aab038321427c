package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
)

// HealthSnapshot is the full engine health report.
type HealthSnapshot struct {
	Healthy bool                                    `json:"healthy"`
	Queues  map[models.QueueName]models.QueueStats  `json:"queues"`
	Workers map[models.QueueName]models.WorkerStats `json:"workers"`
}

// HealthReporter aggregates queue and worker state for the health surface
// and owns the pause/resume control path.
type HealthReporter struct {
	registry        *Registry
	records         interfaces.JobRecordStorage
	failedThreshold int
	logger          arbor.ILogger

	mu    sync.RWMutex
	pools map[models.QueueName]*WorkerPool
}

// NewHealthReporter creates a reporter. Worker pools register themselves
// via RegisterPool during app wiring.
func NewHealthReporter(registry *Registry, records interfaces.JobRecordStorage, failedThreshold int, logger arbor.ILogger) *HealthReporter {
	if failedThreshold <= 0 {
		failedThreshold = 25
	}
	return &HealthReporter{
		registry:        registry,
		records:         records,
		failedThreshold: failedThreshold,
		logger:          logger,
		pools:           make(map[models.QueueName]*WorkerPool),
	}
}

// RegisterPool attaches a worker pool so its stats appear in snapshots.
func (h *HealthReporter) RegisterPool(name models.QueueName, pool *WorkerPool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pools[name] = pool
}

// QueueStats returns the counts for one queue.
func (h *HealthReporter) QueueStats(ctx context.Context, name models.QueueName) (models.QueueStats, error) {
	q, err := h.registry.Get(name)
	if err != nil {
		return models.QueueStats{}, err
	}

	counts, delayed, err := h.records.CountByStatus(ctx, name)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("count jobs for %s: %w", name, err)
	}

	return models.QueueStats{
		Waiting:   counts[models.JobStatusPending] - delayed,
		Active:    counts[models.JobStatusRunning],
		Completed: counts[models.JobStatusCompleted],
		Failed:    counts[models.JobStatusFailed],
		Delayed:   delayed,
		IsPaused:  q.IsPaused(),
	}, nil
}

// WorkerStats returns the counters for one queue's worker pool.
func (h *HealthReporter) WorkerStats(name models.QueueName) (models.WorkerStats, error) {
	h.mu.RLock()
	pool, ok := h.pools[name]
	h.mu.RUnlock()
	if !ok {
		return models.WorkerStats{}, fmt.Errorf("no worker pool for queue: %s", name)
	}
	return pool.Stats(), nil
}

// Snapshot collects stats across every queue and worker pool.
func (h *HealthReporter) Snapshot(ctx context.Context) (*HealthSnapshot, error) {
	snapshot := &HealthSnapshot{
		Healthy: true,
		Queues:  make(map[models.QueueName]models.QueueStats),
		Workers: make(map[models.QueueName]models.WorkerStats),
	}

	totalFailed := 0
	for _, q := range h.registry.All() {
		name := q.Definition.Name

		stats, err := h.QueueStats(ctx, name)
		if err != nil {
			return nil, err
		}
		snapshot.Queues[name] = stats
		totalFailed += stats.Failed

		if stats.IsPaused {
			snapshot.Healthy = false
		}

		h.mu.RLock()
		pool, ok := h.pools[name]
		h.mu.RUnlock()
		if ok {
			snapshot.Workers[name] = pool.Stats()
		}
	}

	if totalFailed >= h.failedThreshold {
		snapshot.Healthy = false
	}
	return snapshot, nil
}

// CheckHealth reports the aggregate healthy flag: no queue paused and
// total failed jobs under the configured threshold.
func (h *HealthReporter) CheckHealth(ctx context.Context) (bool, error) {
	snapshot, err := h.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snapshot.Healthy, nil
}

// Pause pauses the named queue.
func (h *HealthReporter) Pause(name models.QueueName) error {
	q, err := h.registry.Get(name)
	if err != nil {
		return err
	}
	q.Pause()
	h.logger.Warn().Str("queue", string(name)).Msg("Queue paused")
	return nil
}

// Resume resumes the named queue.
func (h *HealthReporter) Resume(name models.QueueName) error {
	q, err := h.registry.Get(name)
	if err != nil {
		return err
	}
	q.Resume()
	h.logger.Info().Str("queue", string(name)).Msg("Queue resumed")
	return nil
}
