package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

type RegistryConfig struct {
	OutboxSize int
	FloodRate  rate.Limit
	FloodBurst int
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		OutboxSize: DefaultOutboxSize,
		FloodRate:  rate.Limit(5),
		FloodBurst: 10,
	}
}

type RegistryStats struct {
	ActiveSessions int
	ActiveRooms    int
	EventsEnqueued uint64
	EventsDropped  uint64
	Uptime         string
}

// SessionRegistry owns every live connection and the room each one is
// bound to. Room membership is derived from those bindings only.
type SessionRegistry interface {
	Init() error
	Shutdown()
	Register(remote string) (*Connection, error)
	Unregister(id string) (*Connection, bool)
	Get(id string) (*Connection, bool)
	Acquire(ctx context.Context, id string) (*Connection, func(), error)
	MarkClosed(id string) bool
	Authenticate(id string, user User) error
	Bind(c *Connection, room string) string
	Unbind(c *Connection) string
	CurrentRoom(id string) (string, bool)
	Members(room string) []*Connection
	RoomUsers(room string) []string
	UserConnections(userID int64) []*Connection
	ActiveRooms() []string
	BroadcastToRoom(room string, ev Event) int
	BroadcastGlobal(ev Event) int
	SendTo(id string, ev Event) error
	Stats() RegistryStats
}

type sessionRegistryImpl struct {
	mu        sync.RWMutex
	cfg       RegistryConfig
	conns     map[string]*Connection
	started   bool
	startTime time.Time
	now       func() time.Time

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

func NewSessionRegistry(cfg RegistryConfig) SessionRegistry {
	return NewSessionRegistryWithClock(cfg, time.Now)
}

func NewSessionRegistryWithClock(cfg RegistryConfig, now func() time.Time) SessionRegistry {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultOutboxSize
	}
	return &sessionRegistryImpl{
		cfg:   cfg,
		conns: make(map[string]*Connection),
		now:   now,
	}
}

func (r *sessionRegistryImpl) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("session registry already initialized")
	}
	r.started = true
	r.startTime = r.now()
	return nil
}

func (r *sessionRegistryImpl) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.mu.Lock()
		c.closed = true
		c.room = ""
		c.mu.Unlock()
		c.outbox.Close()
	}
	r.conns = make(map[string]*Connection)
	r.started = false
}

func (r *sessionRegistryImpl) Register(remote string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil, fmt.Errorf("session registry not initialized")
	}

	now := r.now()
	c := &Connection{
		id:         ulid.Make().String(),
		remote:     remote,
		createdAt:  now,
		lastActive: now,
		outbox:     NewOutbox(r.cfg.OutboxSize),
	}
	if r.cfg.FloodRate > 0 {
		c.limiter = rate.NewLimiter(r.cfg.FloodRate, r.cfg.FloodBurst)
	}
	r.conns[c.id] = c
	return c, nil
}

func (r *sessionRegistryImpl) Unregister(id string) (*Connection, bool) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		c.mu.Lock()
		c.closed = true
		c.room = ""
		c.mu.Unlock()
	}
	r.mu.Unlock()

	if ok {
		c.outbox.Close()
	}
	return c, ok
}

func (r *sessionRegistryImpl) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Acquire waits in arrival order for the connection's transition token.
// The returned release func must be called exactly once.
func (r *sessionRegistryImpl) Acquire(ctx context.Context, id string) (*Connection, func(), error) {
	c, ok := r.Get(id)
	if !ok {
		return nil, nil, ErrConnectionNotFound
	}
	if err := c.turn.acquire(ctx); err != nil {
		return nil, nil, err
	}
	var once sync.Once
	return c, func() { once.Do(c.turn.release) }, nil
}

// MarkClosed flags the connection so that queued operations stop early.
func (r *sessionRegistryImpl) MarkClosed(id string) bool {
	c, ok := r.Get(id)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return true
}

func (r *sessionRegistryImpl) Authenticate(id string, user User) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	u := user
	c.user = &u
	return nil
}

// Bind moves c into room and returns the room it was bound to before.
// It takes the registry write lock so that no broadcast observes a half
// applied transition.
func (r *sessionRegistryImpl) Bind(c *Connection, room string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.room
	if !c.closed {
		c.room = room
	}
	return prev
}

func (r *sessionRegistryImpl) Unbind(c *Connection) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.room
	c.room = ""
	return prev
}

func (r *sessionRegistryImpl) CurrentRoom(id string) (string, bool) {
	c, ok := r.Get(id)
	if !ok {
		return "", false
	}
	room := c.Room()
	return room, room != ""
}

func (r *sessionRegistryImpl) Members(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(room)
}

func (r *sessionRegistryImpl) membersLocked(room string) []*Connection {
	members := make([]*Connection, 0)
	if room == "" {
		return members
	}
	for _, c := range r.conns {
		if c.Room() == room && !c.Closed() {
			members = append(members, c)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].id < members[j].id })
	return members
}

// RoomUsers lists the distinct usernames bound to room, sorted.
func (r *sessionRegistryImpl) RoomUsers(room string) []string {
	seen := make(map[string]struct{})
	users := make([]string, 0)
	for _, c := range r.Members(room) {
		u, ok := c.User()
		if !ok {
			continue
		}
		if _, dup := seen[u.Username]; dup {
			continue
		}
		seen[u.Username] = struct{}{}
		users = append(users, u.Username)
	}
	sort.Strings(users)
	return users
}

func (r *sessionRegistryImpl) UserConnections(userID int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0)
	for _, c := range r.conns {
		if u, ok := c.User(); ok && u.ID == userID && !c.Closed() {
			conns = append(conns, c)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	return conns
}

func (r *sessionRegistryImpl) ActiveRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{})
	for _, c := range r.conns {
		if room := c.Room(); room != "" {
			set[room] = struct{}{}
		}
	}
	rooms := make([]string, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// BroadcastToRoom enqueues ev for every connection bound to room at the
// moment of the call and returns the recipient count.
func (r *sessionRegistryImpl) BroadcastToRoom(room string, ev Event) int {
	ev.Scope = ScopeRoom
	ev.Room = room

	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.membersLocked(room)
	for _, c := range members {
		r.push(c, ev)
	}
	return len(members)
}

// BroadcastGlobal enqueues ev for every live identified connection.
func (r *sessionRegistryImpl) BroadcastGlobal(ev Event) int {
	ev.Scope = ScopeGlobal

	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if _, ok := c.User(); !ok || c.Closed() {
			continue
		}
		r.push(c, ev)
		n++
	}
	return n
}

func (r *sessionRegistryImpl) SendTo(id string, ev Event) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}
	if c.Closed() {
		return ErrConnectionClosed
	}
	if ev.Scope != ScopeRoom {
		ev.Scope = ScopeDirect
	}
	r.push(c, ev)
	return nil
}

func (r *sessionRegistryImpl) push(c *Connection, ev Event) {
	if c.outbox.Push(ev) {
		r.dropped.Add(1)
	}
	r.enqueued.Add(1)
}

func (r *sessionRegistryImpl) Stats() RegistryStats {
	r.mu.RLock()
	sessions := len(r.conns)
	start := r.startTime
	r.mu.RUnlock()

	return RegistryStats{
		ActiveSessions: sessions,
		ActiveRooms:    len(r.ActiveRooms()),
		EventsEnqueued: r.enqueued.Load(),
		EventsDropped:  r.dropped.Load(),
		Uptime:         r.now().Sub(start).String(),
	}
}
