package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
)

// ProjectStorage implements interfaces.ProjectStorage for Badger
type ProjectStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProjectStorage creates a new ProjectStorage instance
func NewProjectStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProjectStorage {
	return &ProjectStorage{db: db, logger: logger}
}

func (s *ProjectStorage) SaveProject(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		return &models.ValidationError{Field: "id", Reason: "project ID is required"}
	}
	project.UpdatedAt = time.Now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = project.UpdatedAt
	}
	if err := s.db.Store().Upsert(project.ID, project); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (s *ProjectStorage) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	if err := s.db.Store().Get(id, &project); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.EntityGone("project", id)
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &project, nil
}

func (s *ProjectStorage) DeleteProject(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Project{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.EntityGone("project", id)
		}
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// SaveArtifact stores a phase output on the project record.
func (s *ProjectStorage) SaveArtifact(ctx context.Context, projectID, key string, artifact json.RawMessage) error {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.Artifacts == nil {
		project.Artifacts = make(map[string]json.RawMessage)
	}
	project.Artifacts[key] = artifact
	return s.SaveProject(ctx, project)
}

// MarkMonitorStarted flips the monitor flag and reports whether this call
// was the one that started it. Keeps a project from spawning one monitor
// loop per indexed page.
func (s *ProjectStorage) MarkMonitorStarted(ctx context.Context, projectID string) (bool, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	if project.MonitorStarted {
		return false, nil
	}
	project.MonitorStarted = true
	if err := s.SaveProject(ctx, project); err != nil {
		return false, err
	}
	return true, nil
}
