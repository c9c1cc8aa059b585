// Package presence keeps each user's online status and current room in
// the state store and announces changes to the room they affect.
package presence

import (
	"context"
	"time"

	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/logging"
	"github.com/ponyo877/lobby/server/state"
	"github.com/rs/zerolog"
)

const DefaultGrace = 15 * time.Second

// Store is the part of the state store presence needs.
type Store interface {
	Now() time.Time
	SetState(ctx context.Context, key string, value any) error
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetUserOnline(ctx context.Context, user string) error
	ExpireUserOnline(ctx context.Context, user string, grace time.Duration) error
	IsUserOnline(ctx context.Context, user string) bool
}

type Broadcaster interface {
	BroadcastToRoom(room string, ev domain.Event) int
}

type Tracker struct {
	store  Store
	bc     Broadcaster
	grace  time.Duration
	logger zerolog.Logger
}

// NewTracker builds a tracker. A grace of zero takes users offline as soon
// as their last connection closes.
func NewTracker(store Store, bc Broadcaster, grace time.Duration) *Tracker {
	if grace < 0 {
		grace = 0
	}
	return &Tracker{
		store:  store,
		bc:     bc,
		grace:  grace,
		logger: logging.WithComponent("presence"),
	}
}

func (t *Tracker) load(ctx context.Context, user string) domain.PresenceRecord {
	var rec domain.PresenceRecord
	ok, err := t.store.GetJSON(ctx, state.PresenceKey(user), &rec)
	if err != nil {
		t.logger.Warn().Err(err).Str("user", user).Msg("corrupt presence record")
	}
	if !ok || err != nil {
		return domain.PresenceRecord{User: user, Status: domain.StatusOffline}
	}
	return rec
}

func (t *Tracker) save(ctx context.Context, rec domain.PresenceRecord) error {
	return t.store.SetState(ctx, state.PresenceKey(rec.User), rec)
}

func (t *Tracker) announce(room string, rec domain.PresenceRecord) {
	if room == "" || t.bc == nil {
		return
	}
	t.bc.BroadcastToRoom(room, domain.NewPresenceEvent(room, rec, t.store.Now()))
}

func (t *Tracker) OnConnect(ctx context.Context, user string) error {
	rec := t.load(ctx, user)
	if rec.Status != domain.StatusAway || !t.store.IsUserOnline(ctx, user) {
		rec.Status = domain.StatusOnline
	}
	rec.CurrentRoom = ""
	rec.LastSeen = t.store.Now()
	if err := t.save(ctx, rec); err != nil {
		return err
	}
	return t.store.SetUserOnline(ctx, user)
}

func (t *Tracker) OnJoin(ctx context.Context, user, room string) error {
	rec := t.load(ctx, user)
	if rec.Status == domain.StatusOffline {
		rec.Status = domain.StatusOnline
	}
	rec.CurrentRoom = room
	rec.LastSeen = t.store.Now()
	if err := t.save(ctx, rec); err != nil {
		return err
	}
	if err := t.store.SetUserOnline(ctx, user); err != nil {
		return err
	}
	t.announce(room, rec)
	return nil
}

// OnLeave records that one connection of user left room. remainingRoom is
// the room another live connection of user is still bound to, if any.
func (t *Tracker) OnLeave(ctx context.Context, user, room, remainingRoom string) error {
	rec := t.load(ctx, user)
	if rec.CurrentRoom == room || rec.CurrentRoom == "" {
		rec.CurrentRoom = remainingRoom
	}
	rec.LastSeen = t.store.Now()
	if err := t.save(ctx, rec); err != nil {
		return err
	}
	t.announce(room, rec)
	return nil
}

// OnDisconnect records that one of user's connections closed. When another
// connection survives, its room becomes the user's current room.
// Otherwise the online marker is left to lapse after the grace period.
func (t *Tracker) OnDisconnect(ctx context.Context, user, remainingRoom string, stillConnected bool) error {
	rec := t.load(ctx, user)
	rec.LastSeen = t.store.Now()
	if stillConnected {
		rec.CurrentRoom = remainingRoom
		return t.save(ctx, rec)
	}
	rec.CurrentRoom = ""
	if err := t.save(ctx, rec); err != nil {
		return err
	}
	return t.store.ExpireUserOnline(ctx, user, t.grace)
}

// Heartbeat refreshes last seen without announcing anything.
func (t *Tracker) Heartbeat(ctx context.Context, user, room string) error {
	rec := t.load(ctx, user)
	if rec.Status == domain.StatusOffline {
		rec.Status = domain.StatusOnline
	}
	rec.CurrentRoom = room
	rec.LastSeen = t.store.Now()
	if err := t.save(ctx, rec); err != nil {
		return err
	}
	return t.store.SetUserOnline(ctx, user)
}

func (t *Tracker) SetStatus(ctx context.Context, user string, status domain.PresenceStatus) (domain.PresenceRecord, error) {
	if status != domain.StatusOnline && status != domain.StatusAway {
		return domain.PresenceRecord{}, domain.ValidationFailed("status must be online or away", "status")
	}
	rec := t.load(ctx, user)
	rec.Status = status
	rec.LastSeen = t.store.Now()
	if err := t.save(ctx, rec); err != nil {
		return domain.PresenceRecord{}, err
	}
	t.announce(rec.CurrentRoom, rec)
	return rec, nil
}

// Get reports the user's presence. Users whose online marker has lapsed
// are offline regardless of the stored status.
func (t *Tracker) Get(ctx context.Context, user string) domain.PresenceRecord {
	rec := t.load(ctx, user)
	rec.User = user
	if !t.store.IsUserOnline(ctx, user) {
		rec.Status = domain.StatusOffline
		rec.CurrentRoom = ""
	}
	return rec
}
