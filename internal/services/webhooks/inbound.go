package webhooks

import (
	"crypto/hmac"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
)

// Validator checks inbound webhook requests: signature, source IP, and a
// fixed-window rate limit. Counters are process-local and non-durable;
// resetting them on restart is acceptable.
type Validator struct {
	secret    string
	allowlist map[string]struct{}
	limit     int
	window    time.Duration
	logger    arbor.ILogger

	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// NewValidator builds the validator from the webhooks config.
func NewValidator(cfg common.WebhooksConfig, logger arbor.ILogger) *Validator {
	allowlist := make(map[string]struct{}, len(cfg.IPAllowlist))
	for _, ip := range cfg.IPAllowlist {
		allowlist[ip] = struct{}{}
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 60
	}

	v := &Validator{
		secret:    cfg.Secret,
		allowlist: allowlist,
		limit:     limit,
		window:    common.Duration(cfg.RateWindow, time.Minute),
		logger:    logger,
		windows:   make(map[string]*rateWindow),
		now:       time.Now,
	}

	if v.secret == "" {
		// Documented permissive default: without a configured secret,
		// inbound requests are accepted unsigned.
		logger.Warn().Msg("No webhook secret configured, inbound signatures are not verified")
	}
	return v
}

// ValidateSignature recomputes the HMAC over the raw payload and compares
// in constant time. With no secret configured it accepts unconditionally.
func (v *Validator) ValidateSignature(payload []byte, signature string) bool {
	if v.secret == "" {
		return true
	}
	expected := Sign(v.secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// IsAllowedIP checks the source IP against the allowlist. An empty
// allowlist permits all sources.
func (v *Validator) IsAllowedIP(ip string) bool {
	if len(v.allowlist) == 0 {
		return true
	}
	_, ok := v.allowlist[ip]
	return ok
}

// CheckRateLimit applies a fixed-window counter per key. The count resets
// when the window boundary passes; within a window the call denies once
// the limit is reached, otherwise it increments and allows.
func (v *Validator) CheckRateLimit(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	w, ok := v.windows[key]
	if !ok || !now.Before(w.resetAt) {
		v.windows[key] = &rateWindow{count: 1, resetAt: now.Add(v.window)}
		return true
	}

	if w.count >= v.limit {
		v.logger.Warn().
			Str("key", key).
			Int("limit", v.limit).
			Msg("Inbound webhook rate limit exceeded")
		return false
	}
	w.count++
	return true
}
