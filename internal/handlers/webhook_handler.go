package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
	"github.com/ternarybob/pagemill/internal/services/webhooks"
)

const maxInboundBody = 1 << 20 // 1 MiB

// WebhookHandler manages subscription CRUD and the validated inbound intake.
type WebhookHandler struct {
	store      interfaces.WebhookStorage
	validator  *webhooks.Validator
	trustProxy bool
	logger     arbor.ILogger
}

func NewWebhookHandler(store interfaces.WebhookStorage, validator *webhooks.Validator, trustProxy bool) *WebhookHandler {
	return &WebhookHandler{
		store:      store,
		validator:  validator,
		trustProxy: trustProxy,
		logger:     common.GetLogger(),
	}
}

// SubscriptionsHandler lists or creates subscriptions.
// GET /api/webhooks?project_id=...  POST /api/webhooks
func (h *WebhookHandler) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projectID := r.URL.Query().Get("project_id")
		if projectID == "" {
			WriteError(w, http.StatusBadRequest, "project_id query parameter is required")
			return
		}
		subs, err := h.store.ListWebhooks(r.Context(), projectID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"webhooks": subs,
			"count":    len(subs),
		})
	case http.MethodPost:
		h.createHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *WebhookHandler) createHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string   `json:"project_id"`
		URL       string   `json:"url"`
		Secret    string   `json:"secret"`
		Events    []string `json:"events"`
	}
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.ProjectID == "" || req.URL == "" || len(req.Events) == 0 {
		WriteError(w, http.StatusBadRequest, "project_id, url and events are required")
		return
	}

	sub := &models.WebhookSubscription{
		ID:        "wh_" + uuid.New().String(),
		ProjectID: req.ProjectID,
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := h.store.SaveWebhook(r.Context(), sub); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save webhook subscription")
		WriteError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	h.logger.Info().
		Str("webhook_id", sub.ID).
		Str("project_id", sub.ProjectID).
		Str("url", sub.URL).
		Msg("Webhook subscription created")
	WriteJSON(w, http.StatusCreated, sub)
}

// SubscriptionRoutes handles /api/webhooks/{id}.
// GET|DELETE /api/webhooks/{id}
func (h *WebhookHandler) SubscriptionRoutes(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r.URL.Path, "/api/webhooks/", 0)
	if id == "" || id == "inbound" {
		WriteError(w, http.StatusNotFound, "unknown webhook route")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sub, err := h.store.GetWebhook(r.Context(), id)
		if err != nil {
			if models.IsEntityGone(err) {
				WriteError(w, http.StatusNotFound, "subscription not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, sub)
	case http.MethodDelete:
		if err := h.store.DeleteWebhook(r.Context(), id); err != nil && !models.IsEntityGone(err) {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteSuccess(w, "subscription deleted: "+id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// InboundHandler validates and accepts an inbound webhook: source IP
// against the allowlist, a fixed-window rate limit per IP, then the HMAC
// signature over the raw body.
// POST /api/webhooks/inbound
func (h *WebhookHandler) InboundHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	ip := ClientIP(r, h.trustProxy)
	if !h.validator.IsAllowedIP(ip) {
		h.logger.Warn().Str("ip", ip).Msg("Inbound webhook from disallowed IP")
		WriteError(w, http.StatusForbidden, "source IP not allowed")
		return
	}
	if !h.validator.CheckRateLimit(ip) {
		WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if !h.validator.ValidateSignature(body, signature) {
		h.logger.Warn().Str("ip", ip).Msg("Inbound webhook signature mismatch")
		WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	h.logger.Info().
		Str("ip", ip).
		Str("event", r.Header.Get("X-Webhook-Event")).
		Int("bytes", len(body)).
		Msg("Inbound webhook accepted")
	WriteSuccess(w, "webhook accepted")
}
