package models

import (
	"encoding/json"
	"time"
)

// Project is the root entity a pipeline runs for.
type Project struct {
	ID             string `badgerhold:"key"`
	Name           string
	Domain         string
	MonitorStarted bool
	Artifacts      map[string]json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PageStatus tracks a page through publishing and optimization.
type PageStatus string

const (
	PageStatusDraft      PageStatus = "draft"
	PageStatusPublished  PageStatus = "published"
	PageStatusOptimizing PageStatus = "optimizing"
)

// Page is a single generated page belonging to a project.
type Page struct {
	ID          string `badgerhold:"key"`
	ProjectID   string `badgerholdIndex:"ProjectID"`
	Title       string
	Slug        string
	Status      PageStatus
	PublishedID string
	URL         string
	Content     json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MonitorRun is an immutable append-only record produced once per monitor
// cycle. It is never mutated after insert.
type MonitorRun struct {
	ID          string `badgerhold:"key"`
	ProjectID   string `badgerholdIndex:"ProjectID"`
	HealthScore *int
	Result      string
	CreatedAt   time.Time
}

// WebhookSubscription is a registered outbound notification endpoint.
// Created and edited by the owning project; read-only at trigger time.
type WebhookSubscription struct {
	ID              string `badgerhold:"key"`
	ProjectID       string `badgerholdIndex:"ProjectID"`
	URL             string
	Secret          string
	Events          []string
	Active          bool
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

// SubscribedTo reports whether the subscription wants the given event.
func (s *WebhookSubscription) SubscribedTo(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}
