package queue

import (
	"fmt"
	"sync/atomic"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/models"
)

// Queue is one registry entry: an immutable definition plus the only
// mutable bit, the pause flag.
type Queue struct {
	Definition models.QueueDefinition
	paused     atomic.Bool
}

// Pause stops the queue's worker pool from leasing new jobs. Idempotent;
// in-flight jobs run to completion.
func (q *Queue) Pause() {
	q.paused.Store(true)
}

// Resume re-enables leasing. Idempotent.
func (q *Queue) Resume() {
	q.paused.Store(false)
}

// IsPaused reports the pause flag. Observed by the worker pool before
// each dequeue.
func (q *Queue) IsPaused() bool {
	return q.paused.Load()
}

// Registry holds the named queues, constructed once at startup and passed
// by reference to the dispatcher and worker pools. There are no module
// level queue singletons.
type Registry struct {
	queues map[models.QueueName]*Queue
	order  []models.QueueName
	logger arbor.ILogger
}

// NewRegistry builds the registry from the queue definitions.
func NewRegistry(definitions []models.QueueDefinition, logger arbor.ILogger) (*Registry, error) {
	r := &Registry{
		queues: make(map[models.QueueName]*Queue, len(definitions)),
		logger: logger,
	}

	for _, def := range definitions {
		if def.Name == "" {
			return nil, fmt.Errorf("queue definition missing name")
		}
		if _, exists := r.queues[def.Name]; exists {
			return nil, fmt.Errorf("duplicate queue definition: %s", def.Name)
		}
		if def.MaxConcurrency <= 0 {
			def.MaxConcurrency = 1
		}
		r.queues[def.Name] = &Queue{Definition: def}
		r.order = append(r.order, def.Name)

		logger.Debug().
			Str("queue", string(def.Name)).
			Int("max_concurrency", def.MaxConcurrency).
			Int("retry_attempts", def.RetryAttempts).
			Dur("backoff_base", def.BackoffBase).
			Msg("Queue registered")
	}

	return r, nil
}

// Get returns the named queue or an error for unknown names.
func (r *Registry) Get(name models.QueueName) (*Queue, error) {
	q, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue: %s", name)
	}
	return q, nil
}

// All returns the queues in registration order.
func (r *Registry) All() []*Queue {
	result := make([]*Queue, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.queues[name])
	}
	return result
}

// Names returns the queue names in registration order.
func (r *Registry) Names() []models.QueueName {
	return append([]models.QueueName(nil), r.order...)
}
