package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// brokerMessage is the internal structure stored in Badger
type brokerMessage struct {
	ID           string          `json:"id"`
	Body         json.RawMessage `json:"body"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
}

// BadgerBroker implements Broker on BadgerDB. Messages are stored under
// queue:{name}:msg:{id}, with a visibility index at
// queue:{name}:index:{visibleAt}:{id} so Receive can scan for the next
// eligible message in timestamp order.
type BadgerBroker struct {
	db                *badger.DB
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewBadgerBroker creates a Badger-backed broker. maxReceive bounds crash
// redelivery loops: a message received that many times without an ack is
// dropped as poison.
func NewBadgerBroker(db *badger.DB, visibilityTimeout time.Duration, maxReceive int) (*BadgerBroker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 5
	}

	return &BadgerBroker{
		db:                db,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}, nil
}

// Enqueue adds a message to the named queue, visible after the delay.
func (b *BadgerBroker) Enqueue(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	id := uuid.New().String()
	now := time.Now()

	msg := brokerMessage{
		ID:         id,
		Body:       body,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broker message: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(b.msgKey(queue, id), data); err != nil {
			return err
		}
		return txn.Set(b.indexKey(queue, msg.VisibleAt, id), []byte{})
	})
}

// Receive leases the next visible message from the queue.
func (b *BadgerBroker) Receive(ctx context.Context, queue string) (*Lease, error) {
	var claimed brokerMessage

	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", queue))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false
		var oldIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			ts, id, err := b.parseIndexKey(queue, key)
			if err != nil {
				continue
			}

			// Keys sort by timestamp; the first future entry means
			// nothing later is eligible either.
			if ts.After(now) {
				break
			}

			msgItem, err := txn.Get(b.msgKey(queue, id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up
					if derr := txn.Delete(key); derr != nil {
						return derr
					}
					continue
				}
				return err
			}

			var msg brokerMessage
			if err := msgItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			// Drop poison messages that keep coming back
			if msg.ReceiveCount >= b.maxReceive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(b.msgKey(queue, id)); err != nil {
					return err
				}
				continue
			}

			claimed = msg
			oldIndexKey = key
			found = true
			break
		}

		if !found {
			return ErrNoMessage
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(b.visibilityTimeout)

		data, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(b.msgKey(queue, claimed.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(b.indexKey(queue, claimed.VisibleAt, claimed.ID), []byte{})
	})

	if err != nil {
		return nil, err
	}

	return &Lease{
		MessageID:    claimed.ID,
		Body:         claimed.Body,
		ReceiveCount: claimed.ReceiveCount,
	}, nil
}

// Delete acknowledges a leased message.
func (b *BadgerBroker) Delete(ctx context.Context, queue, messageID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		msgKey := b.msgKey(queue, messageID)
		item, err := txn.Get(msgKey)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already deleted
			}
			return err
		}

		var msg brokerMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		if err := txn.Delete(b.indexKey(queue, msg.VisibleAt, messageID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Delete(msgKey)
	})
}

// Extend pushes the lease expiry out for a long-running job.
func (b *BadgerBroker) Extend(ctx context.Context, queue, messageID string, duration time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		msgKey := b.msgKey(queue, messageID)
		item, err := txn.Get(msgKey)
		if err != nil {
			return err
		}

		var msg brokerMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		oldVisibleAt := msg.VisibleAt
		msg.VisibleAt = time.Now().Add(duration)

		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey, data); err != nil {
			return err
		}

		if err := txn.Delete(b.indexKey(queue, oldVisibleAt, messageID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Set(b.indexKey(queue, msg.VisibleAt, messageID), []byte{})
	})
}

func (b *BadgerBroker) msgKey(queue, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", queue, id))
}

func (b *BadgerBroker) indexKey(queue string, visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string ordering matches numeric ordering
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", queue, visibleAt.UnixNano(), id))
}

func (b *BadgerBroker) parseIndexKey(queue string, key []byte) (time.Time, string, error) {
	prefix := fmt.Sprintf("queue:%s:index:", queue)
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefix):])
	if len(suffix) < 21 { // 20 digits + 1 colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
