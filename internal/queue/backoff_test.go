package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoubling(t *testing.T) {
	base := 5 * time.Second
	for n := 0; n < 16; n++ {
		expected := base * time.Duration(int64(1)<<uint(n))
		assert.Equal(t, expected, Backoff(base, n), "retry %d", n)
	}
}

func TestBackoffFirstRetryEqualsBase(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, Backoff(250*time.Millisecond, 0))
}

func TestBackoffZeroBase(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(0, 5))
	assert.Equal(t, time.Duration(0), Backoff(-time.Second, 5))
}

func TestBackoffNegativeRetryCount(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(time.Second, -3))
}

func TestBackoffCapsShift(t *testing.T) {
	// Huge retry counts must not overflow into a negative duration
	d := Backoff(time.Second, 500)
	assert.True(t, d > 0)
	assert.Equal(t, Backoff(time.Second, maxBackoffShift), d)
}
