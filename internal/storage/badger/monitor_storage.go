package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
)

// MonitorRunStorage implements interfaces.MonitorRunStorage for Badger.
// Runs are append-only: there is no update or delete path.
type MonitorRunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMonitorRunStorage creates a new MonitorRunStorage instance
func NewMonitorRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MonitorRunStorage {
	return &MonitorRunStorage{db: db, logger: logger}
}

func (s *MonitorRunStorage) InsertMonitorRun(ctx context.Context, run *models.MonitorRun) (string, error) {
	if run.ID == "" {
		run.ID = common.NewRunID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if err := s.db.Store().Insert(run.ID, run); err != nil {
		return "", fmt.Errorf("insert monitor run: %w", err)
	}
	return run.ID, nil
}

func (s *MonitorRunStorage) ListMonitorRuns(ctx context.Context, projectID string, limit int) ([]*models.MonitorRun, error) {
	query := badgerhold.Where("ProjectID").Eq(projectID).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	var runs []models.MonitorRun
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("list monitor runs: %w", err)
	}
	result := make([]*models.MonitorRun, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}
