// Package queue buffers asynchronous browser input events (keystrokes,
// pastes, visibility changes) between detection ticks.
//
// A queue is the subscription a session driver owns for its lifetime: the
// transport enqueues into it, the driver drains it once per tick, and Close
// is the teardown that detaches the producer side.
package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/metrics"
)

const defaultCapacity = 1024

// pending is the number of buffered events across every queue in the process.
var pending atomic.Int64

// Queue is the producer and consumer contract of an input event buffer.
type Queue interface {
	// Enqueue adds an event without blocking.
	Enqueue(ctx context.Context, e model.InputEvent) error
	// Drain removes and returns every buffered event ordered by time.
	Drain() []model.InputEvent
	Len() int
	// Close detaches the producer side. It is safe to call more than once.
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan model.InputEvent
	capacity int
	dedupe   dedupe.Deduper

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan model.InputEvent, q.capacity)
	return q
}

// Enqueue adds an event to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e model.InputEvent) error { //nolint:gocritic // hugeParam: passed by value for channel semantics
	kind := string(e.Kind)

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordInputEvent(kind, "closed")
		return ErrClosed
	}
	if q.dedupe != nil && e.EventID != "" && q.dedupe.SeenAndRecord(ctx, e.EventID) {
		metrics.RecordInputEvent(kind, "duplicate")
		return ErrDuplicate
	}

	select {
	case q.events <- e:
		metrics.RecordInputEvent(kind, "accepted")
		metrics.UpdateInputQueueLength(int(pending.Add(1)))
		return nil
	case <-ctx.Done():
		q.unrecord(ctx, e.EventID)
		metrics.RecordInputEvent(kind, "cancelled")
		return ctx.Err()
	default:
		q.unrecord(ctx, e.EventID)
		metrics.RecordInputEvent(kind, "dropped")
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

func (q *InMemoryQueue) unrecord(ctx context.Context, id string) {
	if q.dedupe != nil && id != "" {
		q.dedupe.Unrecord(ctx, id)
	}
}

// Drain removes and returns every buffered event. Events are sorted by
// timestamp because clients may deliver batches out of order.
func (q *InMemoryQueue) Drain() []model.InputEvent {
	var out []model.InputEvent
	for {
		select {
		case e, ok := <-q.events:
			if !ok {
				return q.finish(out)
			}
			out = append(out, e)
		default:
			return q.finish(out)
		}
	}
}

func (q *InMemoryQueue) finish(out []model.InputEvent) []model.InputEvent {
	if len(out) == 0 {
		return nil
	}
	metrics.UpdateInputQueueLength(int(pending.Add(-int64(len(out)))))
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len() int {
	return len(q.events)
}

// Close gracefully shuts down the queue. Buffered events stay drainable.
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
