package interfaces

import (
	"context"
	"encoding/json"
)

// AgentInput is the typed input for one agent invocation.
type AgentInput struct {
	AgentType string          `json:"agent_type"`
	ProjectID string          `json:"project_id"`
	Prompt    string          `json:"prompt,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// AgentResult is the schema-validated output of one agent invocation.
type AgentResult struct {
	Output json.RawMessage `json:"output"`
}

// Agent is the content-generation collaborator. Implementations return a
// *models.AgentError for schema-validation or upstream-model failures.
type Agent interface {
	Run(ctx context.Context, input AgentInput) (*AgentResult, error)
}
