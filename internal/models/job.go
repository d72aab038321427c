package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueName identifies one of the fixed pipeline queues.
type QueueName string

const (
	QueueAgent    QueueName = "agent"
	QueueBuild    QueueName = "build"
	QueuePublish  QueueName = "publish"
	QueueIndex    QueueName = "index"
	QueueMonitor  QueueName = "monitor"
	QueueOptimize QueueName = "optimize"
	QueueWebhook  QueueName = "webhook"
)

// AllQueues lists every queue in registration order.
func AllQueues() []QueueName {
	return []QueueName{
		QueueAgent, QueueBuild, QueuePublish, QueueIndex,
		QueueMonitor, QueueOptimize, QueueWebhook,
	}
}

// JobType tags a job payload variant.
type JobType string

const (
	JobTypeAgentTask JobType = "agent_task"
	JobTypeBuild     JobType = "build"
	JobTypePublish   JobType = "publish"
	JobTypeIndex     JobType = "index"
	JobTypeMonitor   JobType = "monitor"
	JobTypeOptimize  JobType = "optimize"
	JobTypeWebhook   JobType = "webhook"
)

// Phase is one step of the fixed build pipeline.
type Phase string

const (
	PhaseResearch     Phase = "research"
	PhaseArchitecture Phase = "architecture"
	PhaseContent      Phase = "content"
	PhaseElementor    Phase = "elementor"
	PhaseLinking      Phase = "linking"
)

// Payload is the tagged union of job payload variants. The worker pool
// switches exhaustively over concrete payload types when routing to handlers.
type Payload interface {
	Kind() JobType
}

// AgentTaskPayload runs a single typed agent task outside the build chain.
type AgentTaskPayload struct {
	AgentType string          `json:"agent_type"`
	Input     json.RawMessage `json:"input,omitempty"`
}

func (AgentTaskPayload) Kind() JobType { return JobTypeAgentTask }

// BuildPayload advances one pipeline phase for a project.
type BuildPayload struct {
	Phase Phase `json:"phase"`
}

func (BuildPayload) Kind() JobType { return JobTypeBuild }

// PublishPayload publishes a single page through the publishing collaborator.
type PublishPayload struct {
	PageID string `json:"page_id"`
}

func (PublishPayload) Kind() JobType { return JobTypePublish }

// IndexPayload submits a published URL for search indexing.
type IndexPayload struct {
	URL string `json:"url"`
}

func (IndexPayload) Kind() JobType { return JobTypeIndex }

// MonitorPayload is project-scoped; the monitor loop carries no page state.
type MonitorPayload struct{}

func (MonitorPayload) Kind() JobType { return JobTypeMonitor }

// OptimizePayload re-optimizes a published page.
type OptimizePayload struct {
	PageID string `json:"page_id"`
	Reason string `json:"reason"`
}

func (OptimizePayload) Kind() JobType { return JobTypeOptimize }

// WebhookPayload is one pre-signed outbound delivery for one subscriber.
type WebhookPayload struct {
	SubscriptionID string            `json:"subscription_id"`
	WebhookType    string            `json:"webhook_type"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	Body           json.RawMessage   `json:"body"`
}

func (WebhookPayload) Kind() JobType { return JobTypeWebhook }

// Job is the envelope carried through the durable queue store.
type Job struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Type          JobType   `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	RetryCount    int       `json:"retry_count"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Payload       Payload   `json:"-"`
}

type jobEnvelope struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	Type          JobType         `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	RetryCount    int             `json:"retry_count"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the job with its payload tagged by Type.
func (j *Job) MarshalJSON() ([]byte, error) {
	env := jobEnvelope{
		ID:            j.ID,
		ProjectID:     j.ProjectID,
		Type:          j.Type,
		CorrelationID: j.CorrelationID,
		RetryCount:    j.RetryCount,
		EnqueuedAt:    j.EnqueuedAt,
	}
	if j.Payload != nil {
		data, err := json.Marshal(j.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal job payload: %w", err)
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope and the payload variant matching Type.
func (j *Job) UnmarshalJSON(data []byte) error {
	var env jobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	j.ID = env.ID
	j.ProjectID = env.ProjectID
	j.Type = env.Type
	j.CorrelationID = env.CorrelationID
	j.RetryCount = env.RetryCount
	j.EnqueuedAt = env.EnqueuedAt

	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return err
	}
	j.Payload = payload
	return nil
}

func decodePayload(jobType JobType, raw json.RawMessage) (Payload, error) {
	if raw == nil {
		raw = json.RawMessage("{}")
	}

	switch jobType {
	case JobTypeAgentTask:
		var p AgentTaskPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case JobTypeBuild:
		var p BuildPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case JobTypePublish:
		var p PublishPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case JobTypeIndex:
		var p IndexPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case JobTypeMonitor:
		var p MonitorPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case JobTypeOptimize:
		var p OptimizePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case JobTypeWebhook:
		var p WebhookPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown job type: %q", jobType)
	}
}

// NewJob builds a job envelope for the given project and payload.
// ID and CorrelationID are assigned by the dispatcher when left empty.
func NewJob(projectID string, payload Payload) *Job {
	return &Job{
		ProjectID: projectID,
		Type:      payload.Kind(),
		Payload:   payload,
	}
}
