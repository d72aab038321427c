package queue

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// Lease is a time-boxed exclusive claim on a dequeued message. The holder
// must Delete it on completion or Extend it to keep the claim; an expired
// lease makes the message eligible for redelivery.
type Lease struct {
	MessageID    string
	Body         []byte
	ReceiveCount int
}

// Broker is the durable queue store contract the engine needs: atomic
// enqueue with delayed visibility, lease-based dequeue with a visibility
// timeout, and receive-count bookkeeping. The engine never reimplements
// the broker; it only consumes this surface.
type Broker interface {
	// Enqueue adds a message to the named queue. The message becomes
	// eligible for delivery no earlier than now + delay.
	Enqueue(ctx context.Context, queue string, body []byte, delay time.Duration) error

	// Receive leases the next eligible message, or ErrNoMessage.
	Receive(ctx context.Context, queue string) (*Lease, error)

	// Delete acknowledges a leased message, removing it permanently.
	Delete(ctx context.Context, queue, messageID string) error

	// Extend pushes a lease's expiry out by the given duration (heartbeat).
	Extend(ctx context.Context, queue, messageID string, duration time.Duration) error
}
