// Package state is a small key/value store with per-key expiry. Writes go
// to a primary backend and are mirrored best effort to an optional
// secondary; reads fall back to the secondary when the primary misses.
package state

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("state: key not found")

type Entry struct {
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Expired reports whether the entry must be treated as absent at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Backend is one physical home for entries. Keys and DeleteExpired take
// now so that expiry is decided by the caller's clock.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string, now time.Time) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
