package connection

import (
	"sync"
	"time"
)

// DefaultMaxQueueLength bounds the outbound queue while disconnected.
const DefaultMaxQueueLength = 256

// PendingMessage is an outbound message buffered while disconnected.
// Owned exclusively by the queue until handed to an open transport.
type PendingMessage struct {
	Data          []byte
	CorrelationID string
	EnqueuedAt    time.Time
}

// Queue is a bounded FIFO buffer for outbound messages. When full, the
// oldest message is dropped and counted.
type Queue struct {
	mu      sync.Mutex
	items   []PendingMessage
	max     int
	dropped uint64
}

// NewQueue creates a queue bounded to max messages. A non-positive max
// uses DefaultMaxQueueLength.
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = DefaultMaxQueueLength
	}
	return &Queue{max: max}
}

// Push appends a message, evicting the oldest when full.
func (q *Queue) Push(data []byte, correlationID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.max {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, PendingMessage{
		Data:          data,
		CorrelationID: correlationID,
		EnqueuedAt:    time.Now(),
	})
}

// Requeue prepends messages, preserving their order ahead of anything
// already queued. Used when a flush is interrupted mid-way.
func (q *Queue) Requeue(msgs []PendingMessage) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(append([]PendingMessage{}, msgs...), q.items...)
	for len(q.items) > q.max {
		q.items = q.items[:len(q.items)-1]
		q.dropped++
	}
}

// Drain removes and returns all queued messages in FIFO order.
func (q *Queue) Drain() []PendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of messages evicted since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
