package domain

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Connection is one live client transport session. Its bound room is
// written only through SessionRegistry.Bind and Unbind.
type Connection struct {
	id        string
	remote    string
	createdAt time.Time
	outbox    *Outbox
	limiter   *rate.Limiter
	turn      turnstile

	mu         sync.RWMutex
	user       *User
	room       string
	lastActive time.Time
	closed     bool
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Remote() string {
	return c.remote
}

func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

func (c *Connection) User() (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return User{}, false
	}
	return *c.user, true
}

// Room returns the bound room, "" when unbound.
func (c *Connection) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Connection) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

func (c *Connection) Touch(t time.Time) {
	c.mu.Lock()
	c.lastActive = t
	c.mu.Unlock()
}

func (c *Connection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Allow consumes one token of the connection's flood limiter.
func (c *Connection) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

func (c *Connection) Outbox() *Outbox {
	return c.outbox
}

// Next returns the next event to write to the client. Room-scoped events
// composed for a room the connection has since left are discarded here.
func (c *Connection) Next(ctx context.Context) (Event, error) {
	for {
		ev, err := c.outbox.Pop(ctx)
		if err != nil {
			return Event{}, err
		}
		if ev.Scope == ScopeRoom && ev.Room != c.Room() {
			continue
		}
		return ev, nil
	}
}

func (c *Connection) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name := c.remote
	if c.user != nil {
		name = c.user.Username
	}
	room := c.room
	if room == "" {
		room = "-"
	}
	return name + "@" + room + "(" + c.id + ")"
}
