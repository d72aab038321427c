package queue

import (
	"time"
)

// maxBackoffShift caps the exponent so the shift cannot overflow a
// time.Duration even with large retry counts.
const maxBackoffShift = 32

// Backoff returns the exponential retry delay: base * 2^retryCount.
func Backoff(base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffShift {
		retryCount = maxBackoffShift
	}
	return base * time.Duration(int64(1)<<uint(retryCount))
}
