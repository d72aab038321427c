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

// WebhookStorage implements interfaces.WebhookStorage for Badger
type WebhookStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWebhookStorage creates a new WebhookStorage instance
func NewWebhookStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WebhookStorage {
	return &WebhookStorage{db: db, logger: logger}
}

func (s *WebhookStorage) SaveWebhook(ctx context.Context, sub *models.WebhookSubscription) error {
	if sub.ID == "" {
		return &models.ValidationError{Field: "id", Reason: "subscription ID is required"}
	}
	if sub.URL == "" {
		return &models.ValidationError{Field: "url", Reason: "subscription URL is required"}
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(sub.ID, sub); err != nil {
		return fmt.Errorf("save webhook subscription: %w", err)
	}
	return nil
}

func (s *WebhookStorage) GetWebhook(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	if err := s.db.Store().Get(id, &sub); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.EntityGone("webhook subscription", id)
		}
		return nil, fmt.Errorf("get webhook subscription: %w", err)
	}
	return &sub, nil
}

func (s *WebhookStorage) DeleteWebhook(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.WebhookSubscription{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.EntityGone("webhook subscription", id)
		}
		return fmt.Errorf("delete webhook subscription: %w", err)
	}
	return nil
}

func (s *WebhookStorage) ListWebhooks(ctx context.Context, projectID string) ([]*models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	query := badgerhold.Where("ProjectID").Eq(projectID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&subs, query); err != nil {
		return nil, fmt.Errorf("list webhook subscriptions: %w", err)
	}
	result := make([]*models.WebhookSubscription, len(subs))
	for i := range subs {
		result[i] = &subs[i]
	}
	return result, nil
}

// ListActiveWebhooks returns active subscriptions for the project whose
// event set contains the given event name.
func (s *WebhookStorage) ListActiveWebhooks(ctx context.Context, projectID, event string) ([]*models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	query := badgerhold.Where("ProjectID").Eq(projectID).And("Active").Eq(true)
	if err := s.db.Store().Find(&subs, query); err != nil {
		return nil, fmt.Errorf("list active webhook subscriptions: %w", err)
	}

	result := make([]*models.WebhookSubscription, 0, len(subs))
	for i := range subs {
		if subs[i].SubscribedTo(event) {
			result = append(result, &subs[i])
		}
	}
	return result, nil
}

func (s *WebhookStorage) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	sub, err := s.GetWebhook(ctx, id)
	if err != nil {
		return err
	}
	sub.LastTriggeredAt = &at
	return s.SaveWebhook(ctx, sub)
}
