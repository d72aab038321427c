package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
)

// PageStorage implements interfaces.PageStorage for Badger
type PageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPageStorage creates a new PageStorage instance
func NewPageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PageStorage {
	return &PageStorage{db: db, logger: logger}
}

func (s *PageStorage) SavePage(ctx context.Context, page *models.Page) error {
	if page.ID == "" {
		return &models.ValidationError{Field: "id", Reason: "page ID is required"}
	}
	page.UpdatedAt = time.Now()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = page.UpdatedAt
	}
	if page.Status == "" {
		page.Status = models.PageStatusDraft
	}
	if err := s.db.Store().Upsert(page.ID, page); err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}

func (s *PageStorage) GetPage(ctx context.Context, id string) (*models.Page, error) {
	var page models.Page
	if err := s.db.Store().Get(id, &page); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.EntityGone("page", id)
		}
		return nil, fmt.Errorf("get page: %w", err)
	}
	return &page, nil
}

func (s *PageStorage) UpdatePageStatus(ctx context.Context, id string, status models.PageStatus) error {
	page, err := s.GetPage(ctx, id)
	if err != nil {
		return err
	}
	page.Status = status
	return s.SavePage(ctx, page)
}

// SetPublished records the remote identity returned by the publisher and
// moves the page to published.
func (s *PageStorage) SetPublished(ctx context.Context, id, publishedID, url string) error {
	page, err := s.GetPage(ctx, id)
	if err != nil {
		return err
	}
	page.Status = models.PageStatusPublished
	page.PublishedID = publishedID
	page.URL = url
	return s.SavePage(ctx, page)
}

func (s *PageStorage) ListPagesByProject(ctx context.Context, projectID string) ([]*models.Page, error) {
	var pages []models.Page
	query := badgerhold.Where("ProjectID").Eq(projectID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	result := make([]*models.Page, len(pages))
	for i := range pages {
		result[i] = &pages[i]
	}
	return result, nil
}

func (s *PageStorage) ListPagesByStatus(ctx context.Context, projectID string, status models.PageStatus) ([]*models.Page, error) {
	var pages []models.Page
	query := badgerhold.Where("ProjectID").Eq(projectID).And("Status").Eq(status).SortBy("CreatedAt")
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("list pages by status: %w", err)
	}
	result := make([]*models.Page, len(pages))
	for i := range pages {
		result[i] = &pages[i]
	}
	return result, nil
}
