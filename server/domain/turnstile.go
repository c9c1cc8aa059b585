package domain

import (
	"context"
	"sync"
)

// turnstile is a mutex that grants waiters in arrival order and gives up
// on context cancellation. One exists per connection so that room
// transitions of the same connection never interleave.
type turnstile struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (t *turnstile) acquire(ctx context.Context) error {
	t.mu.Lock()
	if !t.held {
		t.held = true
		t.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		for i, w := range t.waiters {
			if w == ch {
				t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
				t.mu.Unlock()
				return ctx.Err()
			}
		}
		t.mu.Unlock()
		// ownership was handed over while we were giving up
		t.release()
		return ctx.Err()
	}
}

func (t *turnstile) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.waiters) == 0 {
		t.held = false
		return
	}
	next := t.waiters[0]
	t.waiters = t.waiters[1:]
	close(next)
}

func (t *turnstile) waiting() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
