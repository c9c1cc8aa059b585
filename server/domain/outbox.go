package domain

import (
	"context"
	"sync"
)

// DefaultOutboxSize bounds the per-connection queue of undelivered events.
const DefaultOutboxSize = 100

// Outbox is a bounded FIFO of events waiting to be written to a client.
// When full it drops the oldest entry rather than blocking the producer.
type Outbox struct {
	mu       sync.Mutex
	items    []Event
	capacity int
	ready    chan struct{}
	closed   bool
}

func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxSize
	}
	return &Outbox{
		items:    make([]Event, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues ev and reports whether an older event had to be dropped.
// Pushing to a closed outbox is a no-op.
func (o *Outbox) Push(ev Event) (droppedOldest bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if len(o.items) >= o.capacity {
		copy(o.items, o.items[1:])
		o.items = o.items[:len(o.items)-1]
		droppedOldest = true
	}
	o.items = append(o.items, ev)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return droppedOldest
}

// Pop blocks until an event is available, the outbox is closed and
// drained, or ctx is done.
func (o *Outbox) Pop(ctx context.Context) (Event, error) {
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			ev := o.items[0]
			o.items[0] = Event{}
			o.items = o.items[1:]
			o.mu.Unlock()
			return ev, nil
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return Event{}, ErrConnectionClosed
		}

		select {
		case <-o.ready:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
