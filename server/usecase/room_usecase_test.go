package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/presence"
	"github.com/ponyo877/lobby/server/repository"
	"github.com/ponyo877/lobby/server/state"
	"github.com/ponyo877/lobby/server/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// failingInserts refuses every message write, as a full or locked disk would.
type failingInserts struct {
	*repository.Repository
}

func (f failingInserts) InsertMessage(context.Context, string, domain.User, string, time.Time) (domain.Message, error) {
	return domain.Message{}, domain.BackendDegraded(errors.New("disk I/O error"))
}

// stalledRooms holds the first GetRoom after armed is set until resume is
// closed, so a join can be caught while it waits on the store.
type stalledRooms struct {
	*repository.Repository
	armed   *atomic.Bool
	entered chan struct{}
	resume  chan struct{}
}

func (s stalledRooms) GetRoom(ctx context.Context, name string) (domain.Room, error) {
	if s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		select {
		case <-s.resume:
		case <-ctx.Done():
			return domain.Room{}, ctx.Err()
		}
	}
	return s.Repository.GetRoom(ctx, name)
}

type harness struct {
	clock    *fakeClock
	repo     *repository.Repository
	store    *state.Store
	registry domain.SessionRegistry
	presence *presence.Tracker
	rooms    *usecase.RoomUsecase
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	registry domain.RegistryConfig
	wrap     func(*repository.Repository) usecase.Repository
}

func withRegistry(cfg domain.RegistryConfig) harnessOption {
	return func(h *harnessConfig) { h.registry = cfg }
}

func withRepository(wrap func(*repository.Repository) usecase.Repository) harnessOption {
	return func(h *harnessConfig) { h.wrap = wrap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		registry: domain.RegistryConfig{OutboxSize: 100},
		wrap:     func(r *repository.Repository) usecase.Repository { return r },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	dir := t.TempDir()
	db, err := repository.Open(filepath.Join(dir, "lobby.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := repository.NewRepository(db)
	require.NoError(t, repo.Migrate(ctx))
	for _, name := range []string{"main", "music", "random"} {
		require.NoError(t, repo.CreateOrIgnoreRoom(ctx, name))
	}

	stateDB, err := repository.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { stateDB.Close() })
	backend := state.NewSQLBackend(stateDB)
	require.NoError(t, backend.Migrate(ctx))

	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := state.NewStore(backend, state.WithClock(clock.Now))

	registry := domain.NewSessionRegistryWithClock(cfg.registry, clock.Now)
	require.NoError(t, registry.Init())
	t.Cleanup(registry.Shutdown)

	tracker := presence.NewTracker(store, registry, 15*time.Second)
	rooms := usecase.NewRoomUsecase(cfg.wrap(repo), store, tracker, registry, usecase.Config{
		StoreTimeout: 10 * time.Second,
		HistoryLimit: 20,
		TypingTTL:    5 * time.Second,
	})
	return &harness{clock: clock, repo: repo, store: store, registry: registry, presence: tracker, rooms: rooms}
}

func (h *harness) connect(t *testing.T, name string) *domain.Connection {
	t.Helper()
	c, err := h.rooms.Connect(context.Background(), name+"-addr")
	require.NoError(t, err)
	_, err = h.rooms.Authenticate(context.Background(), c.ID(), name)
	require.NoError(t, err)
	return c
}

func (h *harness) join(t *testing.T, c *domain.Connection, room string) {
	t.Helper()
	require.NoError(t, h.rooms.Join(context.Background(), c.ID(), room))
}

// drain returns every event currently deliverable to c.
func drain(c *domain.Connection) []domain.Event {
	var events []domain.Event
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		ev, err := c.Next(ctx)
		cancel()
		if err != nil {
			return events
		}
		events = append(events, ev)
	}
}

func ofType(events []domain.Event, typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRoomUsecase_AliceAndBob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	h.join(t, alice, "main")
	h.join(t, bob, "main")

	aliceEvents := drain(alice)
	snapshots := ofType(aliceEvents, domain.EventSnapshot)
	require.Len(t, snapshots, 1)
	assert.Equal(t, []string{"alice"}, snapshots[0].Data.(domain.Snapshot).Members)
	joined := ofType(aliceEvents, domain.EventJoined)
	require.Len(t, joined, 2)
	assert.Equal(t, "bob", joined[1].Sender)

	bobEvents := drain(bob)
	snapshots = ofType(bobEvents, domain.EventSnapshot)
	require.Len(t, snapshots, 1)
	assert.Equal(t, []string{"alice", "bob"}, snapshots[0].Data.(domain.Snapshot).Members)

	msg, err := h.rooms.SendToRoom(ctx, alice.ID(), "main", "  hi bob  ")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", msg.Content)

	chats := ofType(drain(bob), domain.EventChat)
	require.Len(t, chats, 1)
	assert.Equal(t, "main", chats[0].Room)
	assert.Equal(t, "alice", chats[0].Sender)
	assert.Equal(t, msg.ID, chats[0].MessageID)

	h.join(t, bob, "music")
	room, ok := h.rooms.CurrentRoom(bob.ID())
	require.True(t, ok)
	assert.Equal(t, "music", room)

	left := ofType(drain(alice), domain.EventLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].Sender)

	_, err = h.rooms.SendToRoom(ctx, alice.ID(), "main", "still there?")
	require.NoError(t, err)
	assert.Empty(t, ofType(drain(bob), domain.EventChat))

	history, err := h.rooms.History(ctx, "main", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hi bob", history[0].Content)
	assert.Equal(t, "still there?", history[1].Content)

	user, err := h.repo.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), user.MessagesSent)
}

func TestRoomUsecase_JoinSameRoomIsQuiet(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	h.join(t, alice, "main")
	h.join(t, bob, "main")
	drain(alice)
	drain(bob)

	h.join(t, alice, "main")
	assert.Empty(t, drain(bob))
	assert.Empty(t, drain(alice))
}

func TestRoomUsecase_SendRequiresCurrentRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")
	h.join(t, alice, "main")

	_, err := h.rooms.SendToRoom(ctx, alice.ID(), "music", "wrong room")
	assert.ErrorIs(t, err, domain.ErrNotInRoom)

	history, err := h.rooms.History(ctx, "music", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, h.rooms.Leave(ctx, alice.ID()))
	require.NoError(t, h.rooms.Leave(ctx, alice.ID()))
	_, err = h.rooms.SendToRoom(ctx, alice.ID(), "main", "after leaving")
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
}

func TestRoomUsecase_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")
	h.join(t, alice, "main")

	_, err := h.rooms.SendToRoom(ctx, alice.ID(), "main", " \u200b\u200b ")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	err = h.rooms.Join(ctx, alice.ID(), "no spaces allowed")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	room, _ := h.rooms.CurrentRoom(alice.ID())
	assert.Equal(t, "main", room)
}

func TestRoomUsecase_UnauthenticatedCannotJoin(t *testing.T) {
	h := newHarness(t)
	c, err := h.rooms.Connect(context.Background(), "anon")
	require.NoError(t, err)

	err = h.rooms.Join(context.Background(), c.ID(), "main")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRoomUsecase_PersistBeforeBroadcast(t *testing.T) {
	h := newHarness(t, withRepository(func(r *repository.Repository) usecase.Repository {
		return failingInserts{r}
	}))
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	h.join(t, alice, "main")
	h.join(t, bob, "main")
	drain(bob)

	_, err := h.rooms.SendToRoom(context.Background(), alice.ID(), "main", "lost")
	assert.ErrorIs(t, err, domain.ErrBackendDegraded)
	assert.Empty(t, ofType(drain(bob), domain.EventChat))

	room, _ := h.rooms.CurrentRoom(alice.ID())
	assert.Equal(t, "main", room)
}

func TestRoomUsecase_JoinFailureKeepsBinding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")
	h.join(t, alice, "main")

	err := h.rooms.Join(ctx, alice.ID(), "nowhere")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	require.NoError(t, h.repo.ArchiveRoom(ctx, "random"))
	err = h.rooms.Join(ctx, alice.ID(), "random")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	room, _ := h.rooms.CurrentRoom(alice.ID())
	assert.Equal(t, "main", room)
}

func TestRoomUsecase_FlagsReadOnEveryJoin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")

	require.NoError(t, h.repo.SetRoomFlags(ctx, "music", domain.RoomFlags{StaffOnly: true}, 0))
	err := h.rooms.Join(ctx, alice.ID(), "music")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, h.repo.UpdateUserRole(ctx, "alice", domain.RoleModerator, 0))
	h.join(t, alice, "music")

	require.NoError(t, h.repo.SetRoomFlags(ctx, "main", domain.RoomFlags{Maintenance: true}, 0))
	err = h.rooms.Join(ctx, alice.ID(), "main")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	room, _ := h.rooms.CurrentRoom(alice.ID())
	assert.Equal(t, "music", room)
}

func TestRoomUsecase_KickExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")
	h.join(t, alice, "main")
	drain(alice)

	_, err := h.rooms.Kick(ctx, "alice", "spam", time.Minute)
	require.NoError(t, err)

	_, inRoom := h.rooms.CurrentRoom(alice.ID())
	assert.False(t, inRoom)
	system := ofType(drain(alice), domain.EventSystem)
	require.Len(t, system, 1)
	assert.Contains(t, system[0].Text, "spam")

	err = h.rooms.Join(ctx, alice.ID(), "main")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	h.clock.Advance(2 * time.Minute)
	h.join(t, alice, "main")
}

func TestRoomUsecase_BanBlocksHello(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")

	_, err := h.rooms.Ban(ctx, "alice", "abuse", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, h.rooms.Join(ctx, alice.ID(), "main"), domain.ErrForbidden)

	again, err := h.rooms.Connect(ctx, "alice-2")
	require.NoError(t, err)
	_, err = h.rooms.Authenticate(ctx, again.ID(), "alice")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	n, err := h.rooms.Unban(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = h.rooms.Authenticate(ctx, again.ID(), "alice")
	require.NoError(t, err)
	h.join(t, again, "main")
}

func TestRoomUsecase_BanExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	eve := h.connect(t, "eve")

	_, err := h.rooms.Ban(ctx, "eve", "abuse", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, h.rooms.Join(ctx, eve.ID(), "main"), domain.ErrForbidden)

	again, err := h.rooms.Connect(ctx, "eve-2")
	require.NoError(t, err)
	_, err = h.rooms.Authenticate(ctx, again.ID(), "eve")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	h.clock.Advance(2 * time.Minute)
	h.join(t, eve, "main")
	_, err = h.rooms.Authenticate(ctx, again.ID(), "eve")
	require.NoError(t, err)
}

func TestRoomUsecase_DisconnectDuringJoin(t *testing.T) {
	stall := stalledRooms{armed: new(atomic.Bool), entered: make(chan struct{}), resume: make(chan struct{})}
	h := newHarness(t, withRepository(func(r *repository.Repository) usecase.Repository {
		stall.Repository = r
		return stall
	}))
	ctx := context.Background()
	bob := h.connect(t, "bob")
	h.join(t, bob, "music")
	alice := h.connect(t, "alice")
	drain(bob)

	stall.armed.Store(true)
	joinErr := make(chan error, 1)
	go func() { joinErr <- h.rooms.Join(ctx, alice.ID(), "music") }()
	select {
	case <-stall.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("join never reached the store")
	}

	disconnectErr := make(chan error, 1)
	go func() { disconnectErr <- h.rooms.Disconnect(ctx, alice.ID()) }()
	require.Eventually(t, alice.Closed, 5*time.Second, 5*time.Millisecond)
	close(stall.resume)

	assert.ErrorIs(t, <-joinErr, domain.ErrConnectionClosed)
	require.NoError(t, <-disconnectErr)

	events := drain(bob)
	assert.Empty(t, ofType(events, domain.EventJoined))
	assert.Empty(t, ofType(events, domain.EventLeft))
	assert.Equal(t, []string{"bob"}, h.registry.RoomUsers("music"))
	assert.Empty(t, h.rooms.GetPresence(ctx, "alice").CurrentRoom)
}

func TestRoomUsecase_LeaveKeepsOtherConnectionPresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	desk := h.connect(t, "alice")
	phone := h.connect(t, "alice")
	h.join(t, desk, "main")
	h.join(t, phone, "music")
	assert.Equal(t, "music", h.rooms.GetPresence(ctx, "alice").CurrentRoom)

	require.NoError(t, h.rooms.Leave(ctx, phone.ID()))
	room, ok := h.rooms.CurrentRoom(desk.ID())
	require.True(t, ok)
	assert.Equal(t, "main", room)
	p := h.rooms.GetPresence(ctx, "alice")
	assert.Equal(t, domain.StatusOnline, p.Status)
	assert.Equal(t, "main", p.CurrentRoom)

	require.NoError(t, h.rooms.Join(ctx, phone.ID(), "random"))
	require.NoError(t, h.rooms.Join(ctx, phone.ID(), "music"))
	assert.Equal(t, "music", h.rooms.GetPresence(ctx, "alice").CurrentRoom)

	require.NoError(t, h.rooms.Disconnect(ctx, phone.ID()))
	assert.Equal(t, "main", h.rooms.GetPresence(ctx, "alice").CurrentRoom)
}

func TestRoomUsecase_ConcurrentJoinsKeepOneRoom(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "alice")
	rooms := []string{"main", "music", "random"}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			assert.NoError(t, h.rooms.Join(context.Background(), alice.ID(), room))
		}(rooms[i%len(rooms)])
	}
	wg.Wait()

	current, ok := h.rooms.CurrentRoom(alice.ID())
	require.True(t, ok)
	total := 0
	for _, room := range rooms {
		n := len(h.registry.Members(room))
		if room == current {
			assert.Equal(t, 1, n)
		}
		total += n
	}
	assert.Equal(t, 1, total)
}

func TestRoomUsecase_SlowMode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.SetRoomFlags(ctx, "main", domain.RoomFlags{}, 10*time.Second))
	alice := h.connect(t, "alice")
	h.join(t, alice, "main")

	_, err := h.rooms.SendToRoom(ctx, alice.ID(), "main", "first")
	require.NoError(t, err)
	_, err = h.rooms.SendToRoom(ctx, alice.ID(), "main", "second")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	h.clock.Advance(11 * time.Second)
	_, err = h.rooms.SendToRoom(ctx, alice.ID(), "main", "third")
	require.NoError(t, err)
}

func TestRoomUsecase_FloodLimit(t *testing.T) {
	h := newHarness(t, withRegistry(domain.RegistryConfig{OutboxSize: 100, FloodRate: rate.Every(time.Hour), FloodBurst: 2}))
	ctx := context.Background()
	alice := h.connect(t, "alice")
	h.join(t, alice, "main")

	for i := 0; i < 2; i++ {
		_, err := h.rooms.SendToRoom(ctx, alice.ID(), "main", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}
	_, err := h.rooms.SendToRoom(ctx, alice.ID(), "main", "one too many")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRoomUsecase_DisconnectLeavesAndFades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	h.join(t, alice, "main")
	h.join(t, bob, "main")
	drain(bob)

	require.NoError(t, h.rooms.Disconnect(ctx, alice.ID()))
	require.NoError(t, h.rooms.Disconnect(ctx, alice.ID()))

	left := ofType(drain(bob), domain.EventLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "alice", left[0].Sender)
	assert.Equal(t, []string{"bob"}, h.registry.RoomUsers("main"))

	assert.NotEqual(t, domain.StatusOffline, h.rooms.GetPresence(ctx, "alice").Status)
	h.clock.Advance(16 * time.Second)
	assert.Equal(t, domain.StatusOffline, h.rooms.GetPresence(ctx, "alice").Status)
}

func TestRoomUsecase_Typing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	h.join(t, alice, "main")
	h.join(t, bob, "main")
	drain(bob)

	require.NoError(t, h.rooms.Typing(ctx, alice.ID(), "main", true))
	typing := ofType(drain(bob), domain.EventTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, []string{"alice"}, typing[0].Data)

	users, err := h.rooms.GetTyping(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	h.clock.Advance(6 * time.Second)
	users, err = h.rooms.GetTyping(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, users)

	assert.ErrorIs(t, h.rooms.Typing(ctx, alice.ID(), "music", true), domain.ErrNotInRoom)
}

func TestRoomUsecase_ReactAndSearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	h.join(t, alice, "main")
	h.join(t, bob, "music")

	msg, err := h.rooms.SendToRoom(ctx, alice.ID(), "main", "deploy at noon")
	require.NoError(t, err)

	require.NoError(t, h.rooms.React(ctx, alice.ID(), "main", msg.ID, "+1"))
	err = h.rooms.React(ctx, bob.ID(), "music", msg.ID, "+1")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	found, err := h.rooms.Search(ctx, "main", "^deploy")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, msg.ID, found[0].ID)

	_, err = h.rooms.Search(ctx, "main", "(")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestRoomUsecase_Announce(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	h.join(t, alice, "main")
	drain(alice)
	drain(bob)

	n, err := h.rooms.Announce(context.Background(), "ops", "restart in 5 minutes")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, c := range []*domain.Connection{alice, bob} {
		got := ofType(drain(c), domain.EventAnnouncement)
		require.Len(t, got, 1)
		assert.Equal(t, domain.ScopeGlobal, got[0].Scope)
	}

	_, err = h.rooms.Announce(context.Background(), "ops", "   ")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}
