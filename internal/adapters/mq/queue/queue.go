// Package queue buffers match batches between their sources (NATS, HTTP)
// and the worker pool that reports sightings.
package queue

import (
	"context"
	"sync"

	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/metrics"
)

const defaultQueueCapacity = 10_000

// Event is the payload type flowing through the queue.
type Event = model.MatchEvent

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// TryEnqueue adds an event without blocking.
	// Returns ErrFull or ErrClosed when the event was not enqueued.
	TryEnqueue(ctx context.Context, e Event) error

	// Enqueue is TryEnqueue reporting only success.
	Enqueue(ctx context.Context, e Event) bool

	// Dequeue returns the channel consumers range over. It is closed by Close.
	Dequeue() <-chan Event

	// Len returns the current number of queued events.
	Len() int

	// Cap returns the configured capacity.
	Cap() int

	// Close stops accepting events; buffered events can still be drained.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// TryEnqueue adds an event to the queue without blocking.
func (q *InMemoryQueue) TryEnqueue(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam: passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return err
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		q.observe()
		return nil
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Enqueue adds an event to the queue and reports whether it was accepted.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: passed by value for channel semantics
	return q.TryEnqueue(ctx, e) == nil
}

// Dequeue returns the receive side of the queue.
func (q *InMemoryQueue) Dequeue() <-chan Event {
	return q.events
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len() int {
	return len(q.events)
}

// Cap returns the queue capacity.
func (q *InMemoryQueue) Cap() int {
	return q.capacity
}

// observe publishes the size and utilization gauges.
func (q *InMemoryQueue) observe() {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// MarkDequeued records that a consumer took one event.
func (q *InMemoryQueue) MarkDequeued() {
	metrics.RecordQueueDequeue()
	q.observe()
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
