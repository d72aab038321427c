package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	id           string
	body         []byte
	visibleAt    time.Time
	receiveCount int
	leased       bool
}

// MemoryBroker is an in-process Broker used in tests and as a fake for
// components that accept the Broker contract. Visibility is evaluated at
// Receive time, so no background timers are needed.
type MemoryBroker struct {
	mu                sync.Mutex
	queues            map[string][]*memoryMessage
	visibilityTimeout time.Duration
	maxReceive        int
	now               func() time.Time
}

// NewMemoryBroker creates an in-memory broker with the given lease timeout.
func NewMemoryBroker(visibilityTimeout time.Duration, maxReceive int) *MemoryBroker {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 5
	}
	return &MemoryBroker{
		queues:            make(map[string][]*memoryMessage),
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		now:               time.Now,
	}
}

// SetClock overrides the broker's clock. Test hook.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBroker) Enqueue(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := &memoryMessage{
		id:        uuid.New().String(),
		body:      append([]byte(nil), body...),
		visibleAt: b.now().Add(delay),
	}
	b.queues[queue] = append(b.queues[queue], msg)
	return nil
}

func (b *MemoryBroker) Receive(ctx context.Context, queue string) (*Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	kept := b.queues[queue][:0]
	var claimed *memoryMessage

	for _, msg := range b.queues[queue] {
		if claimed == nil && !msg.visibleAt.After(now) {
			// A visible message that was already leased means the lease
			// expired; it is eligible for redelivery.
			if msg.receiveCount >= b.maxReceive {
				continue // poison, drop
			}
			claimed = msg
		}
		kept = append(kept, msg)
	}
	b.queues[queue] = kept

	if claimed == nil {
		return nil, ErrNoMessage
	}

	claimed.receiveCount++
	claimed.visibleAt = now.Add(b.visibilityTimeout)
	claimed.leased = true

	return &Lease{
		MessageID:    claimed.id,
		Body:         append([]byte(nil), claimed.body...),
		ReceiveCount: claimed.receiveCount,
	}, nil
}

func (b *MemoryBroker) Delete(ctx context.Context, queue, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.queues[queue]
	for i, msg := range msgs {
		if msg.id == messageID {
			b.queues[queue] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return nil // already deleted
}

func (b *MemoryBroker) Extend(ctx context.Context, queue, messageID string, duration time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, msg := range b.queues[queue] {
		if msg.id == messageID {
			msg.visibleAt = b.now().Add(duration)
			return nil
		}
	}
	return nil
}

// PendingMessage exposes a queued message for test assertions.
type PendingMessage struct {
	MessageID    string
	Body         []byte
	VisibleAt    time.Time
	ReceiveCount int
}

// Pending returns a snapshot of all messages in a queue, in enqueue order.
// Test hook.
func (b *MemoryBroker) Pending(queue string) []PendingMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]PendingMessage, 0, len(b.queues[queue]))
	for _, msg := range b.queues[queue] {
		result = append(result, PendingMessage{
			MessageID:    msg.id,
			Body:         append([]byte(nil), msg.body...),
			VisibleAt:    msg.visibleAt,
			ReceiveCount: msg.receiveCount,
		})
	}
	return result
}
