package state

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

// failingBackend rejects every call.
type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) Name() string { return "failing" }
func (failingBackend) Get(context.Context, string) (Entry, error) {
	return Entry{}, errBackendDown
}
func (failingBackend) Put(context.Context, Entry) error    { return errBackendDown }
func (failingBackend) Delete(context.Context, string) error { return errBackendDown }
func (failingBackend) Keys(context.Context, string, time.Time) ([]string, error) {
	return nil, errBackendDown
}
func (failingBackend) DeletePrefix(context.Context, string) (int, error) { return 0, errBackendDown }
func (failingBackend) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, errBackendDown
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "state.db")+"?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newSQLBackend(t *testing.T) *SQLBackend {
	t.Helper()
	b := NewSQLBackend(openTestDB(t))
	require.NoError(t, b.Migrate(context.Background()))
	return b
}

func newBadgerBackend(t *testing.T) *BadgerBackend {
	t.Helper()
	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBadgerBackend(db)
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newSQLBackend(t))

	require.NoError(t, s.SetState(ctx, "greeting", "hello"))
	v, ok := s.GetState(ctx, "greeting")
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	require.NoError(t, s.SetState(ctx, "greeting", "bye"))
	v, _ = s.GetState(ctx, "greeting")
	assert.Equal(t, "bye", v)

	require.NoError(t, s.DeleteState(ctx, "greeting"))
	assert.False(t, s.HasState(ctx, "greeting"))
}

func TestStore_JSONValues(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newSQLBackend(t))

	rec := domain.PresenceRecord{User: "alice", Status: domain.StatusOnline, CurrentRoom: "main"}
	require.NoError(t, s.SetState(ctx, PresenceKey("alice"), rec))

	var got domain.PresenceRecord
	ok, err := s.GetJSON(ctx, PresenceKey("alice"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "main", got.CurrentRoom)
}

func TestStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	primary := newSQLBackend(t)
	s := NewStore(primary, WithClock(clock.Now))

	require.NoError(t, s.SetStateTTL(ctx, "k", "v", 10*time.Second))
	assert.True(t, s.HasState(ctx, "k"))

	clock.Advance(9 * time.Second)
	assert.True(t, s.HasState(ctx, "k"))

	clock.Advance(time.Second)
	_, ok := s.GetState(ctx, "k")
	assert.False(t, ok)

	_, err := primary.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "expired row is removed on read")
}

func TestStore_ZeroTTLIsTombstone(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newSQLBackend(t), WithClock(newFakeClock().Now))

	require.NoError(t, s.SetState(ctx, "k", "v"))
	require.NoError(t, s.SetStateTTL(ctx, "k", "v", 0))
	assert.False(t, s.HasState(ctx, "k"))
}

func TestStore_PrefixEscaping(t *testing.T) {
	for name, backend := range map[string]func(*testing.T) Backend{
		"sqlite": func(t *testing.T) Backend { return newSQLBackend(t) },
		"badger": func(t *testing.T) Backend { return newBadgerBackend(t) },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewStore(backend(t))

			for _, k := range []string{
				"typing:a_b:alice",
				"typing:aXb:bob",
				"typing:a%b:carol",
				"typing:a\\b:erin",
				"Typing:a_b:dave",
				"typing:a_bc:frank",
			} {
				require.NoError(t, s.SetState(ctx, k, "1"))
			}

			keys, err := s.GetKeysByPrefix(ctx, "typing:a_b:")
			require.NoError(t, err)
			assert.Equal(t, []string{"typing:a_b:alice"}, keys)

			keys, err = s.GetKeysByPrefix(ctx, "typing:a%")
			require.NoError(t, err)
			assert.Equal(t, []string{"typing:a%b:carol"}, keys)

			keys, err = s.GetKeysByPrefix(ctx, "typing:a\\")
			require.NoError(t, err)
			assert.Equal(t, []string{"typing:a\\b:erin"}, keys)

			n, err := s.DeleteByPrefix(ctx, "typing:a_b")
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.True(t, s.HasState(ctx, "typing:aXb:bob"))
			assert.True(t, s.HasState(ctx, "Typing:a_b:dave"))
		})
	}
}

func TestStore_PrefixExcludesExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewStore(newSQLBackend(t), WithClock(clock.Now))

	require.NoError(t, s.SetStateTTL(ctx, "p:short", "1", time.Second))
	require.NoError(t, s.SetStateTTL(ctx, "p:long", "1", time.Hour))
	require.NoError(t, s.SetState(ctx, "p:forever", "1"))

	clock.Advance(2 * time.Second)
	keys, err := s.GetKeysByPrefix(ctx, "p:")
	require.NoError(t, err)
	assert.Equal(t, []string{"p:forever", "p:long"}, keys)
}

func TestStore_SweepExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sec := newBadgerBackend(t)
	s := NewStore(newSQLBackend(t), WithSecondary(sec), WithClock(clock.Now))

	require.NoError(t, s.SetStateTTL(ctx, "a", "1", time.Second))
	require.NoError(t, s.SetStateTTL(ctx, "b", "1", time.Second))
	require.NoError(t, s.SetState(ctx, "c", "1"))

	clock.Advance(time.Minute)
	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = sec.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, s.HasState(ctx, "c"))
}

func TestStore_ReadFallsBackToSecondary(t *testing.T) {
	ctx := context.Background()
	sec := newBadgerBackend(t)
	s := NewStore(failingBackend{}, WithSecondary(sec), WithLogger(logging.NewTestLogger(&bytes.Buffer{})))

	res, err := s.set(ctx, "k", "v", nil)
	assert.ErrorIs(t, err, domain.ErrBackendDegraded)
	assert.Equal(t, WriteResult{PrimaryOK: false, SecondaryOK: true}, res)

	v, ok := s.GetState(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	keys, err := s.GetKeysByPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}

func TestStore_SecondaryFailureIsSwallowedAndLoggedOnce(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	s := NewStore(newSQLBackend(t), WithSecondary(failingBackend{}), WithLogger(logging.NewTestLogger(&buf)))

	for i := 0; i < 3; i++ {
		res, err := s.set(ctx, "k", "v", nil)
		require.NoError(t, err)
		assert.Equal(t, WriteResult{PrimaryOK: true}, res)
	}
	_, ok := s.GetState(ctx, "missing")
	assert.False(t, ok)

	assert.Equal(t, 1, strings.Count(buf.String(), "secondary state backend unavailable"))
}

func TestStore_TotalFailure(t *testing.T) {
	ctx := context.Background()
	s := NewStore(failingBackend{}, WithLogger(logging.NewTestLogger(&bytes.Buffer{})))

	assert.ErrorIs(t, s.SetState(ctx, "k", "v"), domain.ErrBackendDegraded)
	_, ok := s.GetState(ctx, "k")
	assert.False(t, ok)
	_, err := s.GetKeysByPrefix(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrBackendDegraded)
}

func TestStore_Helpers(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewStore(newSQLBackend(t), WithClock(clock.Now))

	require.NoError(t, s.SetTyping(ctx, "main", "bob", 6*time.Second))
	require.NoError(t, s.SetTyping(ctx, "main", "alice", 6*time.Second))
	require.NoError(t, s.SetTyping(ctx, "music", "carol", 6*time.Second))

	users, err := s.GetTypingUsers(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	require.NoError(t, s.ClearTyping(ctx, "main", "bob"))
	clock.Advance(7 * time.Second)
	users, err = s.GetTypingUsers(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, s.SetUserOnline(ctx, "alice"))
	assert.True(t, s.IsUserOnline(ctx, "alice"))
	require.NoError(t, s.ExpireUserOnline(ctx, "alice", 15*time.Second))
	clock.Advance(14 * time.Second)
	assert.True(t, s.IsUserOnline(ctx, "alice"))
	clock.Advance(time.Second)
	assert.False(t, s.IsUserOnline(ctx, "alice"))

	require.NoError(t, s.SetUserOnline(ctx, "bob"))
	require.NoError(t, s.ClearUserOnline(ctx, "bob"))
	assert.False(t, s.IsUserOnline(ctx, "bob"))
}

func TestSweeper_StopsOnCancel(t *testing.T) {
	s := NewStore(newSQLBackend(t))
	sw := NewSweeper(s, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Serve(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, "state-sweeper", sw.String())
}
