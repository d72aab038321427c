package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/interfaces"
)

// Manager bundles the Badger-backed stores behind one lifecycle.
type Manager struct {
	db          *BadgerDB
	projects    interfaces.ProjectStorage
	pages       interfaces.PageStorage
	monitorRuns interfaces.MonitorRunStorage
	webhooks    interfaces.WebhookStorage
	jobRecords  interfaces.JobRecordStorage
}

// NewManager creates the storage manager over an opened BadgerDB.
func NewManager(db *BadgerDB, logger arbor.ILogger) interfaces.StorageManager {
	return &Manager{
		db:          db,
		projects:    NewProjectStorage(db, logger),
		pages:       NewPageStorage(db, logger),
		monitorRuns: NewMonitorRunStorage(db, logger),
		webhooks:    NewWebhookStorage(db, logger),
		jobRecords:  NewJobRecordStorage(db, logger),
	}
}

func (m *Manager) Projects() interfaces.ProjectStorage       { return m.projects }
func (m *Manager) Pages() interfaces.PageStorage             { return m.pages }
func (m *Manager) MonitorRuns() interfaces.MonitorRunStorage { return m.monitorRuns }
func (m *Manager) Webhooks() interfaces.WebhookStorage       { return m.webhooks }
func (m *Manager) JobRecords() interfaces.JobRecordStorage   { return m.jobRecords }
func (m *Manager) Close() error                              { return m.db.Close() }
