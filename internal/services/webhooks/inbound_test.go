package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
)

func newTestValidator(cfg common.WebhooksConfig) *Validator {
	return NewValidator(cfg, arbor.NewLogger())
}

func TestValidateSignature(t *testing.T) {
	v := newTestValidator(common.WebhooksConfig{Secret: "top-secret"})
	payload := []byte(`{"event":"deploy"}`)
	good := Sign("top-secret", payload)

	assert.True(t, v.ValidateSignature(payload, good))
	assert.False(t, v.ValidateSignature(payload, ""))
	assert.False(t, v.ValidateSignature(payload, "deadbeef"))
	assert.False(t, v.ValidateSignature(payload, Sign("wrong-secret", payload)))

	// One flipped character must fail
	flipped := []byte(good)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	assert.False(t, v.ValidateSignature(payload, string(flipped)))

	// The signature is bound to the payload
	assert.False(t, v.ValidateSignature([]byte(`{"event":"tampered"}`), good))
}

func TestValidateSignaturePermissiveWithoutSecret(t *testing.T) {
	v := newTestValidator(common.WebhooksConfig{})
	assert.True(t, v.ValidateSignature([]byte(`{}`), ""))
	assert.True(t, v.ValidateSignature([]byte(`{}`), "anything"))
}

func TestIsAllowedIP(t *testing.T) {
	v := newTestValidator(common.WebhooksConfig{IPAllowlist: []string{"10.0.0.1", "192.168.1.5"}})
	assert.True(t, v.IsAllowedIP("10.0.0.1"))
	assert.True(t, v.IsAllowedIP("192.168.1.5"))
	assert.False(t, v.IsAllowedIP("10.0.0.2"))

	open := newTestValidator(common.WebhooksConfig{})
	assert.True(t, open.IsAllowedIP("203.0.113.7"), "empty allowlist permits all sources")
}

func TestCheckRateLimitFixedWindow(t *testing.T) {
	v := newTestValidator(common.WebhooksConfig{RateLimit: 3, RateWindow: "1m"})
	now := time.Unix(1000, 0)
	v.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, v.CheckRateLimit("10.0.0.1"), "request %d within limit", i+1)
	}
	assert.False(t, v.CheckRateLimit("10.0.0.1"), "fourth request in the window is denied")
	assert.False(t, v.CheckRateLimit("10.0.0.1"))

	// Other keys have their own window
	assert.True(t, v.CheckRateLimit("10.0.0.2"))

	// The counter resets once the window passes
	now = now.Add(61 * time.Second)
	assert.True(t, v.CheckRateLimit("10.0.0.1"))
}
