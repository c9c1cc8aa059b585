package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/logging"
	"github.com/ponyo877/lobby/server/metrics"
	"github.com/ponyo877/lobby/server/state"
	"github.com/ponyo877/lobby/server/validation"
	"github.com/rs/zerolog"
)

type Config struct {
	// StoreTimeout bounds each durable store call and the wait for a
	// connection's transition token.
	StoreTimeout time.Duration
	HistoryLimit int
	TypingTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{
		StoreTimeout: 3 * time.Second,
		HistoryLimit: 50,
		TypingTTL:    6 * time.Second,
	}
}

// RoomUsecase moves connections between rooms and fans out what happens
// in them. Every change to a connection's room happens while holding that
// connection's transition token.
type RoomUsecase struct {
	repo     Repository
	kv       StateStore
	presence Presence
	registry domain.SessionRegistry
	gate     *Gate
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

func NewRoomUsecase(repo Repository, kv StateStore, presence Presence, registry domain.SessionRegistry, cfg Config) *RoomUsecase {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultConfig().TypingTTL
	}
	return &RoomUsecase{
		repo:     repo,
		kv:       kv,
		presence: presence,
		registry: registry,
		gate:     NewGate(repo, kv.Now),
		cfg:      cfg,
		now:      kv.Now,
		logger:   logging.WithComponent("room"),
	}
}

func (u *RoomUsecase) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, u.cfg.StoreTimeout)
}

func (u *RoomUsecase) acquire(ctx context.Context, connID string) (*domain.Connection, func(), error) {
	tctx, cancel := u.storeCtx(ctx)
	defer cancel()
	c, release, err := u.registry.Acquire(tctx, connID)
	switch {
	case err == nil:
		return c, release, nil
	case errors.Is(err, domain.ErrConnectionNotFound):
		return nil, nil, err
	default:
		return nil, nil, domain.BackendDegraded(fmt.Errorf("waiting for transition token: %w", err))
	}
}

func authenticated(c *domain.Connection) (domain.User, error) {
	if c.Closed() {
		return domain.User{}, domain.ErrConnectionClosed
	}
	user, ok := c.User()
	if !ok {
		return domain.User{}, domain.Forbidden("say hello first")
	}
	return user, nil
}

// Connect registers a new transport session.
func (u *RoomUsecase) Connect(ctx context.Context, remote string) (*domain.Connection, error) {
	c, err := u.registry.Register(remote)
	if err != nil {
		return nil, err
	}
	metrics.ConnectionsActive.Inc()
	logging.Ctx(logging.ContextWithConnID(ctx, c.ID())).Debug().Str("remote", remote).Msg("connection registered")
	return c, nil
}

// Authenticate binds a username to the connection, creating the user on
// first sight. Banned users are refused.
func (u *RoomUsecase) Authenticate(ctx context.Context, connID, rawName string) (domain.User, error) {
	name, err := validation.ValidateUsername(rawName)
	if err != nil {
		return domain.User{}, err
	}

	c, release, err := u.acquire(ctx, connID)
	if err != nil {
		return domain.User{}, err
	}
	defer release()
	if c.Closed() {
		return domain.User{}, domain.ErrConnectionClosed
	}
	if cur, ok := c.User(); ok && cur.Username != name {
		return domain.User{}, domain.ValidationFailed("connection is already identified as "+cur.Username, "username")
	}

	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	user, err := u.repo.EnsureUser(sctx, name)
	if err != nil {
		return domain.User{}, err
	}
	if err := u.gate.CheckConnect(sctx, user); err != nil {
		return domain.User{}, err
	}
	if err := u.registry.Authenticate(connID, user); err != nil {
		return domain.User{}, err
	}
	if err := u.presence.OnConnect(sctx, user.Username); err != nil {
		u.logger.Warn().Err(err).Str("user", user.Username).Msg("presence update failed")
	}
	return user, nil
}

// Join moves the connection into roomName. Nothing about the connection
// changes unless every check passes.
func (u *RoomUsecase) Join(ctx context.Context, connID, roomName string) error {
	res := validation.Validate(validation.Join, map[string]any{"room": roomName})
	if !res.OK() {
		return res.Err.DomainError()
	}
	roomName = res.Value.Room

	c, release, err := u.acquire(ctx, connID)
	if err != nil {
		return err
	}
	defer release()
	user, err := authenticated(c)
	if err != nil {
		return err
	}

	sctx, cancel := u.storeCtx(ctx)
	defer cancel()

	room, err := u.repo.GetRoom(sctx, roomName)
	if errors.Is(err, ErrNotFound) || (err == nil && room.Archived) {
		return domain.RoomNotFound(roomName)
	}
	if err != nil {
		return err
	}
	fresh, err := u.repo.GetUser(sctx, user.Username)
	if err != nil {
		return err
	}
	if err := room.Admits(fresh); err != nil {
		return err
	}
	if err := u.gate.CheckJoin(sctx, fresh); err != nil {
		return err
	}
	if err := u.registry.Authenticate(connID, fresh); err != nil {
		return err
	}

	now := u.now()
	c.Touch(now)
	current := c.Room()
	if current == room.Name {
		if err := u.presence.Heartbeat(sctx, fresh.Username, room.Name); err != nil {
			u.logger.Warn().Err(err).Str("user", fresh.Username).Msg("presence heartbeat failed")
		}
		return nil
	}
	if current != "" {
		u.leaveLocked(sctx, c, fresh, current)
	}

	u.registry.Bind(c, room.Name)
	if c.Room() != room.Name {
		// Disconnect closed the connection while it waited on the store.
		return domain.ErrConnectionClosed
	}
	metrics.RoomTransitions.WithLabelValues("join").Inc()
	if err := u.presence.OnJoin(sctx, fresh.Username, room.Name); err != nil {
		u.logger.Warn().Err(err).Str("user", fresh.Username).Msg("presence update failed")
	}
	u.broadcast(room.Name, domain.NewJoinedEvent(room.Name, fresh.Username, now))

	history, err := u.repo.GetRecentMessages(sctx, room.Name, u.cfg.HistoryLimit, 0)
	if err != nil {
		u.logger.Warn().Err(err).Str("room", room.Name).Msg("history unavailable for snapshot")
		history = []domain.Message{}
	}
	snapshot := domain.Snapshot{History: history, Members: u.registry.RoomUsers(room.Name)}
	if err := u.registry.SendTo(connID, domain.NewSnapshotEvent(room.Name, snapshot, now)); err != nil {
		u.logger.Debug().Err(err).Str("conn_id", connID).Msg("snapshot not delivered")
	}

	logging.Ctx(logging.ContextWithConnID(ctx, connID)).Info().
		Str("user", fresh.Username).Str("from", current).Str("room", room.Name).Msg("joined room")
	return nil
}

// leaveLocked runs the side effects of leaving room. The caller holds the
// connection's token.
func (u *RoomUsecase) leaveLocked(ctx context.Context, c *domain.Connection, user domain.User, room string) {
	u.registry.Unbind(c)
	metrics.RoomTransitions.WithLabelValues("leave").Inc()
	if err := u.presence.OnLeave(ctx, user.Username, room, u.remainingRoom(user.ID, c)); err != nil {
		u.logger.Warn().Err(err).Str("user", user.Username).Msg("presence update failed")
	}
	if err := u.kv.ClearTyping(ctx, room, user.Username); err != nil {
		u.logger.Debug().Err(err).Msg("clear typing failed")
	}
	u.broadcast(room, domain.NewLeftEvent(room, user.Username, u.now()))
}

// remainingRoom returns a room some other live connection of the user is
// bound to, "" when there is none.
func (u *RoomUsecase) remainingRoom(userID int64, except *domain.Connection) string {
	for _, o := range u.registry.UserConnections(userID) {
		if o == except || o.Closed() {
			continue
		}
		if r := o.Room(); r != "" {
			return r
		}
	}
	return ""
}

// Leave unbinds the connection. Leaving while unbound is a no-op.
func (u *RoomUsecase) Leave(ctx context.Context, connID string) error {
	c, release, err := u.acquire(ctx, connID)
	if err != nil {
		return err
	}
	defer release()
	user, err := authenticated(c)
	if err != nil {
		return err
	}
	room := c.Room()
	if room == "" {
		return nil
	}
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	u.leaveLocked(sctx, c, user, room)
	return nil
}

func (u *RoomUsecase) CurrentRoom(connID string) (string, bool) {
	return u.registry.CurrentRoom(connID)
}

// Disconnect waits for any in-flight transition of the connection, runs
// the leave side effects and forgets the connection.
func (u *RoomUsecase) Disconnect(ctx context.Context, connID string) error {
	if !u.registry.MarkClosed(connID) {
		return nil
	}
	c, release, err := u.acquire(ctx, connID)
	if err != nil {
		c, _ = u.registry.Get(connID)
		release = func() {}
	}
	if c == nil {
		return nil
	}

	user, identified := c.User()
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	if room := c.Room(); room != "" && identified {
		u.leaveLocked(sctx, c, user, room)
	}
	u.registry.Unregister(connID)
	release()
	metrics.ConnectionsActive.Dec()
	metrics.RoomTransitions.WithLabelValues("disconnect").Inc()
	logging.Ctx(logging.ContextWithConnID(ctx, connID)).Debug().
		Str("remote", c.Remote()).
		Dur("duration", u.now().Sub(c.CreatedAt())).
		Time("last_active", c.LastActive()).
		Msg("connection closed")

	if !identified {
		return nil
	}
	others := u.registry.UserConnections(user.ID)
	if err := u.presence.OnDisconnect(sctx, user.Username, u.remainingRoom(user.ID, c), len(others) > 0); err != nil {
		u.logger.Warn().Err(err).Str("user", user.Username).Msg("presence update failed")
	}
	return nil
}

func (u *RoomUsecase) broadcast(room string, ev domain.Event) int {
	n := u.registry.BroadcastToRoom(room, ev)
	metrics.BroadcastRecipients.Observe(float64(n))
	return n
}

// SendToRoom persists a chat message and then delivers it to the room. A
// message that could not be stored is never delivered.
func (u *RoomUsecase) SendToRoom(ctx context.Context, connID, room, text string) (domain.Message, error) {
	res := validation.Validate(validation.ChatMessage, map[string]any{"room": room, "text": text})
	if !res.OK() {
		return domain.Message{}, res.Err.DomainError()
	}
	room, text = res.Value.Room, res.Value.Text

	c, release, err := u.acquire(ctx, connID)
	if err != nil {
		return domain.Message{}, err
	}
	defer release()
	user, err := authenticated(c)
	if err != nil {
		return domain.Message{}, err
	}
	if c.Room() != room {
		return domain.Message{}, domain.NotInRoom(room)
	}
	if !c.Allow() {
		return domain.Message{}, domain.Forbidden("you are sending messages too fast, slow down")
	}

	sctx, cancel := u.storeCtx(ctx)
	defer cancel()

	r, err := u.repo.GetRoom(sctx, room)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Message{}, domain.RoomNotFound(room)
		}
		return domain.Message{}, err
	}
	slowKey := state.SlowModeKey(room, user.Username)
	slowed := r.SlowMode > 0 && !user.IsStaff()
	if slowed && u.kv.HasState(sctx, slowKey) {
		return domain.Message{}, domain.Forbidden(fmt.Sprintf("slow mode is on, one message every %s", r.SlowMode))
	}

	now := u.now()
	msg, err := u.repo.InsertMessage(sctx, room, user, text, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Message{}, domain.RoomNotFound(room)
		}
		return domain.Message{}, err
	}

	u.broadcast(room, domain.NewChatEvent(room, user.Username, msg.Content, msg.ID, msg.CreatedAt))
	c.Touch(now)
	metrics.MessagesSent.Inc()

	if slowed {
		if err := u.kv.SetStateTTL(sctx, slowKey, "1", r.SlowMode); err != nil {
			u.logger.Warn().Err(err).Msg("slow mode marker not written")
		}
	}
	if err := u.kv.ClearTyping(sctx, room, user.Username); err != nil {
		u.logger.Debug().Err(err).Msg("clear typing failed")
	}
	if err := u.repo.UpdateUserStats(sctx, user.ID, domain.StatsPatch{MessagesSent: 1, LastSeenAt: now}); err != nil {
		u.logger.Warn().Err(err).Str("user", user.Username).Msg("user stats not updated")
	}
	return msg, nil
}

// Typing sets or clears the user's typing marker and tells the room who
// is typing now.
func (u *RoomUsecase) Typing(ctx context.Context, connID, room string, active bool) error {
	res := validation.Validate(validation.Typing, map[string]any{"room": room, "active": active})
	if !res.OK() {
		return res.Err.DomainError()
	}
	room = res.Value.Room

	c, release, err := u.acquire(ctx, connID)
	if err != nil {
		return err
	}
	defer release()
	user, err := authenticated(c)
	if err != nil {
		return err
	}
	if c.Room() != room {
		return domain.NotInRoom(room)
	}

	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	if active {
		err = u.kv.SetTyping(sctx, room, user.Username, u.cfg.TypingTTL)
	} else {
		err = u.kv.ClearTyping(sctx, room, user.Username)
	}
	if err != nil {
		return err
	}
	users, err := u.kv.GetTypingUsers(sctx, room)
	if err != nil {
		return err
	}
	u.broadcast(room, domain.NewTypingEvent(room, users, u.now()))
	return nil
}

// React attaches an emoji to a message of the room the connection is in.
func (u *RoomUsecase) React(ctx context.Context, connID, room string, messageID int64, emoji string) error {
	res := validation.Validate(validation.Reaction, map[string]any{"room": room, "message_id": messageID, "emoji": emoji})
	if !res.OK() {
		return res.Err.DomainError()
	}
	v := res.Value

	c, release, err := u.acquire(ctx, connID)
	if err != nil {
		return err
	}
	defer release()
	user, err := authenticated(c)
	if err != nil {
		return err
	}
	if c.Room() != v.Room {
		return domain.NotInRoom(v.Room)
	}

	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	msg, err := u.repo.GetMessage(sctx, v.MessageID)
	if errors.Is(err, ErrNotFound) || (err == nil && msg.Room != v.Room) {
		return domain.ValidationFailed("message not found in this room", "message_id")
	}
	if err != nil {
		return err
	}
	now := u.now()
	if err := u.repo.AddReaction(sctx, msg.ID, user.ID, v.Emoji, now); err != nil {
		return err
	}
	u.broadcast(v.Room, domain.NewReactionEvent(v.Room, user.Username, domain.Reaction{MessageID: msg.ID, Emoji: v.Emoji}, now))
	return nil
}

func (u *RoomUsecase) SetStatus(ctx context.Context, connID string, status domain.PresenceStatus) (domain.PresenceRecord, error) {
	c, ok := u.registry.Get(connID)
	if !ok {
		return domain.PresenceRecord{}, domain.ErrConnectionNotFound
	}
	user, err := authenticated(c)
	if err != nil {
		return domain.PresenceRecord{}, err
	}
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	return u.presence.SetStatus(sctx, user.Username, status)
}

func (u *RoomUsecase) GetPresence(ctx context.Context, username string) domain.PresenceRecord {
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	return u.presence.Get(sctx, username)
}

func (u *RoomUsecase) GetTyping(ctx context.Context, room string) ([]string, error) {
	res := validation.Validate(validation.Join, map[string]any{"room": room})
	if !res.OK() {
		return nil, res.Err.DomainError()
	}
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	return u.kv.GetTypingUsers(sctx, res.Value.Room)
}

// History returns messages of room, oldest first.
func (u *RoomUsecase) History(ctx context.Context, room string, limit int, beforeID int64) ([]domain.Message, error) {
	res := validation.Validate(validation.History, map[string]any{"room": room, "limit": limit, "before_id": beforeID})
	if !res.OK() {
		return nil, res.Err.DomainError()
	}
	v := res.Value
	if v.Limit == 0 {
		v.Limit = u.cfg.HistoryLimit
	}
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	if _, err := u.repo.GetRoom(sctx, v.Room); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.RoomNotFound(v.Room)
		}
		return nil, err
	}
	return u.repo.GetRecentMessages(sctx, v.Room, v.Limit, v.BeforeID)
}

func (u *RoomUsecase) Search(ctx context.Context, room, pattern string) ([]domain.Message, error) {
	res := validation.Validate(validation.Search, map[string]any{"room": room, "pattern": pattern})
	if !res.OK() {
		return nil, res.Err.DomainError()
	}
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	return u.repo.SearchMessages(sctx, res.Value.Room, res.Value.Pattern, u.cfg.HistoryLimit)
}

func (u *RoomUsecase) ListRooms(ctx context.Context) ([]domain.Room, error) {
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	return u.repo.ListRooms(sctx)
}

// Announce sends a system announcement to every connection on the server.
func (u *RoomUsecase) Announce(ctx context.Context, sender, text string) (int, error) {
	text = strings.TrimSpace(validation.SanitizeText(text))
	if text == "" {
		return 0, domain.ValidationFailed("text is required", "text")
	}
	return u.registry.BroadcastGlobal(domain.NewAnnouncementEvent(sender, text, u.now())), nil
}

// Kick keeps username out of every room for d and removes their live
// connections from the rooms they are in. Ban does the same with no
// implicit expiry and also refuses new hellos.
func (u *RoomUsecase) Kick(ctx context.Context, username, reason string, d time.Duration) (domain.Restriction, error) {
	return u.restrict(ctx, username, domain.RestrictionKick, reason, d)
}

func (u *RoomUsecase) Ban(ctx context.Context, username, reason string, d time.Duration) (domain.Restriction, error) {
	return u.restrict(ctx, username, domain.RestrictionBan, reason, d)
}

func (u *RoomUsecase) Unban(ctx context.Context, username string) (int, error) {
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	user, err := u.repo.GetUser(sctx, username)
	if err != nil {
		return 0, err
	}
	return u.gate.Lift(sctx, user)
}

func (u *RoomUsecase) restrict(ctx context.Context, username string, typ domain.RestrictionType, reason string, d time.Duration) (domain.Restriction, error) {
	sctx, cancel := u.storeCtx(ctx)
	defer cancel()
	user, err := u.repo.GetUser(sctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Restriction{}, domain.ValidationFailed("unknown user "+username, "username")
		}
		return domain.Restriction{}, err
	}
	rs, err := u.gate.Restrict(sctx, user, typ, strings.TrimSpace(validation.SanitizeText(reason)), d)
	if err != nil {
		return domain.Restriction{}, err
	}

	for _, c := range u.registry.UserConnections(user.ID) {
		u.evict(ctx, c.ID(), rs)
	}
	return rs, nil
}

func (u *RoomUsecase) evict(ctx context.Context, connID string, rs domain.Restriction) {
	c, release, err := u.acquire(ctx, connID)
	if err != nil {
		return
	}
	defer release()
	user, ok := c.User()
	if !ok {
		return
	}
	if room := c.Room(); room != "" {
		sctx, cancel := u.storeCtx(ctx)
		u.leaveLocked(sctx, c, user, room)
		cancel()
	}
	if err := u.registry.SendTo(connID, domain.Event{
		Type:      domain.EventSystem,
		Scope:     domain.ScopeDirect,
		Text:      rs.Describe(),
		Timestamp: u.now(),
	}); err != nil {
		u.logger.Debug().Err(err).Str("conn_id", connID).Msg("restriction notice not delivered")
	}
}

// Members lists the users currently bound to room.
func (u *RoomUsecase) Members(room string) []string {
	return u.registry.RoomUsers(room)
}

func (u *RoomUsecase) Stats() domain.RegistryStats {
	return u.registry.Stats()
}
