package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/pagemill/internal/models"
)

// ProjectStorage persists projects. Get returns a models.ErrEntityGone
// wrapped error when the project does not exist.
type ProjectStorage interface {
	SaveProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	DeleteProject(ctx context.Context, id string) error
	SaveArtifact(ctx context.Context, projectID, key string, artifact json.RawMessage) error
	MarkMonitorStarted(ctx context.Context, projectID string) (bool, error)
}

// PageStorage persists pages.
type PageStorage interface {
	SavePage(ctx context.Context, page *models.Page) error
	GetPage(ctx context.Context, id string) (*models.Page, error)
	UpdatePageStatus(ctx context.Context, id string, status models.PageStatus) error
	SetPublished(ctx context.Context, id, publishedID, url string) error
	ListPagesByProject(ctx context.Context, projectID string) ([]*models.Page, error)
	ListPagesByStatus(ctx context.Context, projectID string, status models.PageStatus) ([]*models.Page, error)
}

// MonitorRunStorage appends immutable monitor cycle records.
type MonitorRunStorage interface {
	InsertMonitorRun(ctx context.Context, run *models.MonitorRun) (string, error)
	ListMonitorRuns(ctx context.Context, projectID string, limit int) ([]*models.MonitorRun, error)
}

// WebhookStorage persists webhook subscriptions.
type WebhookStorage interface {
	SaveWebhook(ctx context.Context, sub *models.WebhookSubscription) error
	GetWebhook(ctx context.Context, id string) (*models.WebhookSubscription, error)
	DeleteWebhook(ctx context.Context, id string) error
	ListWebhooks(ctx context.Context, projectID string) ([]*models.WebhookSubscription, error)
	ListActiveWebhooks(ctx context.Context, projectID, event string) ([]*models.WebhookSubscription, error)
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// JobRecordStorage persists job execution records for retention-bounded
// inspection and health reporting.
type JobRecordStorage interface {
	SaveJobRecord(ctx context.Context, record *models.JobRecord) error
	GetJobRecord(ctx context.Context, id string) (*models.JobRecord, error)
	UpdateJobRecordStatus(ctx context.Context, id string, status models.JobStatus, errMsg string) error
	Heartbeat(ctx context.Context, id string, at time.Time) error
	CountByStatus(ctx context.Context, queue models.QueueName) (map[models.JobStatus]int, int, error)
	ListStaleRunning(ctx context.Context, olderThan time.Time) ([]*models.JobRecord, error)
	Evict(ctx context.Context, queue models.QueueName, status models.JobStatus, policy models.RetentionPolicy) (int, error)
}

// StorageManager bundles the stores behind one lifecycle.
type StorageManager interface {
	Projects() ProjectStorage
	Pages() PageStorage
	MonitorRuns() MonitorRunStorage
	Webhooks() WebhookStorage
	JobRecords() JobRecordStorage
	Close() error
}
