package interfaces

import (
	"context"
)

// EventType identifies a published event
type EventType string

const (
	EventJobCompleted      EventType = "job_completed"
	EventJobFailed         EventType = "job_failed"
	EventPhaseAdvanced     EventType = "phase_advanced"
	EventPagePublished     EventType = "page_published"
	EventURLIndexed        EventType = "url_indexed"
	EventMonitorAlert      EventType = "monitor_alert"
	EventPipelineCompleted EventType = "pipeline_completed"
)

// Event carries a type and an arbitrary payload
type Event struct {
	Type    EventType
	Payload map[string]interface{}
}

// EventHandler processes a published event
type EventHandler func(ctx context.Context, event Event) error

// EventService provides in-process pub/sub for job lifecycle events
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
