package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
	"github.com/ternarybob/pagemill/internal/queue"
)

// Scheduler is the slice of the dispatcher the fan-out service needs.
type Scheduler interface {
	ScheduleBulk(ctx context.Context, queueName models.QueueName, jobs []*models.Job, opts queue.ScheduleOptions, stagger time.Duration) ([]string, error)
}

// Sign computes the hex HMAC-SHA256 signature of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Service fans events out to registered subscriber endpoints. Triggering
// builds one pre-signed delivery job per subscriber and schedules the batch
// on the webhook queue with a stagger, so delivery is bounded by that
// queue's worker pool and one slow endpoint cannot stall the trigger path.
type Service struct {
	store     interfaces.WebhookStorage
	scheduler Scheduler
	client    *http.Client
	stagger   time.Duration
	hostRate  rate.Limit
	logger    arbor.ILogger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService creates the fan-out service from the webhooks config.
func NewService(store interfaces.WebhookStorage, scheduler Scheduler, cfg common.WebhooksConfig, logger arbor.ILogger) *Service {
	hostRate := rate.Limit(cfg.PerHostRate)
	if hostRate <= 0 {
		hostRate = 2
	}
	return &Service{
		store:     store,
		scheduler: scheduler,
		client: &http.Client{
			Timeout: common.Duration(cfg.DeliveryTimeout, 15*time.Second),
		},
		stagger:  common.Duration(cfg.DeliveryStagger, 500*time.Millisecond),
		hostRate: hostRate,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// TriggerEvent loads the project's active subscriptions for the event and
// schedules one signed delivery per subscriber. A subscriber with a bad URL
// is skipped and logged; it never blocks the others.
func (s *Service) TriggerEvent(ctx context.Context, event, projectID string, payload map[string]interface{}) error {
	subs, err := s.store.ListActiveWebhooks(ctx, projectID, event)
	if err != nil {
		return fmt.Errorf("list subscriptions for %s: %w", event, err)
	}
	if len(subs) == 0 {
		return nil
	}

	body := make(map[string]interface{}, len(payload)+3)
	for k, v := range payload {
		body[k] = v
	}
	body["event"] = event
	body["projectId"] = projectID
	body["completedAt"] = time.Now().UTC().Format(time.RFC3339)

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	jobs := make([]*models.Job, 0, len(subs))
	for _, sub := range subs {
		job := models.NewJob(projectID, &models.WebhookPayload{
			SubscriptionID: sub.ID,
			WebhookType:    event,
			URL:            sub.URL,
			Headers: map[string]string{
				"Content-Type":        "application/json",
				"X-Webhook-Event":     event,
				"X-Webhook-Signature": Sign(sub.Secret, raw),
			},
			Body: raw,
		})
		jobs = append(jobs, job)
	}

	if _, err := s.scheduler.ScheduleBulk(ctx, models.QueueWebhook, jobs, queue.ScheduleOptions{}, s.stagger); err != nil {
		return fmt.Errorf("schedule webhook deliveries: %w", err)
	}

	s.logger.Info().
		Str("event", event).
		Str("project_id", projectID).
		Int("subscribers", len(jobs)).
		Msg("Webhook deliveries scheduled")
	return nil
}

// Handle delivers one pre-signed webhook job. It is the webhook queue's
// worker handler; that queue runs with zero retries, so a failed delivery
// is logged and recorded, not redelivered. Re-triggering is a caller
// decision.
func (s *Service) Handle(ctx context.Context, job *models.Job) error {
	p, ok := job.Payload.(*models.WebhookPayload)
	if !ok {
		return &models.ValidationError{Field: "type", Reason: fmt.Sprintf("webhook queue received job type %q", job.Type)}
	}

	if err := s.waitForHost(ctx, p.URL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(p.Body))
	if err != nil {
		return &models.ValidationError{Field: "url", Reason: err.Error()}
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook to %s: %w", p.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint %s returned %d", p.URL, resp.StatusCode)
	}

	if err := s.store.MarkTriggered(ctx, p.SubscriptionID, time.Now()); err != nil {
		s.logger.Warn().
			Err(err).
			Str("subscription_id", p.SubscriptionID).
			Msg("Failed to update last_triggered_at")
	}

	s.logger.Info().
		Str("subscription_id", p.SubscriptionID).
		Str("event", p.WebhookType).
		Int("status", resp.StatusCode).
		Msg("Webhook delivered")
	return nil
}

// waitForHost paces deliveries per destination host so a burst of events
// does not hammer a single subscriber endpoint.
func (s *Service) waitForHost(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &models.ValidationError{Field: "url", Reason: err.Error()}
	}

	s.mu.Lock()
	limiter, ok := s.limiters[u.Host]
	if !ok {
		limiter = rate.NewLimiter(s.hostRate, 1)
		s.limiters[u.Host] = limiter
	}
	s.mu.Unlock()

	return limiter.Wait(ctx)
}
