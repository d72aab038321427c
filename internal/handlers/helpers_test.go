package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/services/webhooks"
)

func TestClientIPIgnoresForwardedForByDefault(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/inbound", nil)
	r.RemoteAddr = "192.0.2.9:4242"
	r.Header.Set("X-Forwarded-For", "10.0.0.5")

	assert.Equal(t, "192.0.2.9", ClientIP(r, false), "client-set header must not override the peer address")
	assert.Equal(t, "10.0.0.5", ClientIP(r, true))
}

func TestClientIPForwardedForFirstHop(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "192.0.2.9:4242"
	r.Header.Set("X-Forwarded-For", "10.0.0.5, 172.16.0.1")

	assert.Equal(t, "10.0.0.5", ClientIP(r, true))
}

func newInboundHandler(trustProxy bool) *WebhookHandler {
	validator := webhooks.NewValidator(common.WebhooksConfig{
		IPAllowlist: []string{"10.0.0.5"},
		RateLimit:   100,
		RateWindow:  "1m",
	}, arbor.NewLogger())
	return NewWebhookHandler(nil, validator, trustProxy)
}

func TestInboundRejectsSpoofedForwardedFor(t *testing.T) {
	handler := newInboundHandler(false)

	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/inbound", strings.NewReader(`{}`))
	r.RemoteAddr = "192.0.2.9:4242"
	r.Header.Set("X-Forwarded-For", "10.0.0.5")

	w := httptest.NewRecorder()
	handler.InboundHandler(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code, "a direct client must not talk its way past the allowlist")
}

func TestInboundHonorsForwardedForBehindTrustedProxy(t *testing.T) {
	handler := newInboundHandler(true)

	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/inbound", strings.NewReader(`{}`))
	r.RemoteAddr = "192.0.2.9:4242"
	r.Header.Set("X-Forwarded-For", "10.0.0.5")

	w := httptest.NewRecorder()
	handler.InboundHandler(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}
