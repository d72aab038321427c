package models

import (
	"errors"
	"fmt"
)

// ErrEntityGone marks a "referenced entity no longer exists" condition.
// Handlers treat jobs failing with this sentinel as skip-as-success: the
// job completes without side effects instead of retrying forever against
// a permanently-gone entity.
var ErrEntityGone = errors.New("entity no longer exists")

// EntityGone wraps ErrEntityGone with the entity kind and id for logs.
func EntityGone(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrEntityGone)
}

// IsEntityGone reports whether err represents a deleted/missing entity.
func IsEntityGone(err error) bool {
	return errors.Is(err, ErrEntityGone)
}

// ValidationError marks a job whose input was malformed at enqueue time.
// It is terminal: retrying cannot fix a bad payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a terminal validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AgentError signals a content-generation failure: schema-invalid output or
// an upstream model failure. Retried with backoff until attempts exhaust,
// then surfaced to the health reporter.
type AgentError struct {
	AgentType string
	Err       error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.AgentType, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}
