package adaptor_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/ponyo877/lobby/rpc"
	"github.com/ponyo877/lobby/server/adaptor"
	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/presence"
	"github.com/ponyo877/lobby/server/repository"
	"github.com/ponyo877/lobby/server/state"
	"github.com/ponyo877/lobby/server/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type stack struct {
	rooms   *usecase.RoomUsecase
	streams *usecase.StreamUsecase
}

func newStack(t *testing.T) stack {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(filepath.Join(t.TempDir(), "lobby.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := repository.NewRepository(db)
	require.NoError(t, repo.Migrate(ctx))
	for _, name := range []string{"main", "music", "random"} {
		require.NoError(t, repo.CreateOrIgnoreRoom(ctx, name))
	}

	backend := state.NewSQLBackend(db)
	require.NoError(t, backend.Migrate(ctx))
	store := state.NewStore(backend)

	registry := domain.NewSessionRegistry(domain.DefaultRegistryConfig())
	require.NoError(t, registry.Init())
	t.Cleanup(registry.Shutdown)

	tracker := presence.NewTracker(store, registry, presence.DefaultGrace)
	rooms := usecase.NewRoomUsecase(repo, store, tracker, registry, usecase.DefaultConfig())
	return stack{rooms: rooms, streams: usecase.NewStreamUsecase(rooms)}
}

func newGRPCClient(t *testing.T, s stack) *rpc.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	rpc.RegisterLobbyServer(srv, adaptor.NewGRPC(s.streams, s.rooms))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return rpc.NewClient(conn)
}

func recvUntil(t *testing.T, sess *rpc.Session, match func(rpc.Frame) bool) rpc.Frame {
	t.Helper()
	for {
		f, err := sess.Recv()
		require.NoError(t, err)
		if match(f) {
			return f
		}
	}
}

func isAck(req string) func(rpc.Frame) bool {
	return func(f rpc.Frame) bool { return f.Type == "ack" && f.Text == req }
}

func TestGRPC_SessionFanOut(t *testing.T) {
	client := newGRPCClient(t, newStack(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, err := client.Session(ctx)
	require.NoError(t, err)
	bob, err := client.Session(ctx)
	require.NoError(t, err)

	require.NoError(t, alice.Hello("alice"))
	recvUntil(t, alice, isAck("hello"))
	require.NoError(t, bob.Hello("bob"))
	recvUntil(t, bob, isAck("hello"))

	require.NoError(t, alice.Join("main"))
	recvUntil(t, alice, isAck("join"))
	require.NoError(t, bob.Join("main"))
	snapshot := recvUntil(t, bob, func(f rpc.Frame) bool { return f.Type == "snapshot" })
	assert.Equal(t, "direct", snapshot.Scope)
	recvUntil(t, bob, isAck("join"))

	require.NoError(t, alice.Chat("main", "hello bob"))
	chat := recvUntil(t, bob, func(f rpc.Frame) bool { return f.Type == "chat" })
	assert.Equal(t, "main", chat.Room)
	assert.Equal(t, "alice", chat.Sender)
	assert.Equal(t, "hello bob", chat.Text)

	require.NoError(t, alice.Chat("music", "wrong room"))
	failed := recvUntil(t, alice, func(f rpc.Frame) bool { return f.Type == "error" })
	assert.Contains(t, failed.Text, "not in room")

	msgs, err := client.History(ctx, rpc.HistoryRequest{Room: "main"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello bob", msgs[0].Text)
	assert.Equal(t, "alice", msgs[0].Author)

	rooms, err := client.Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	for _, r := range rooms {
		if r.Name == "main" {
			assert.Equal(t, 2, r.Members)
		}
	}

	who, err := client.Presence(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "online", who.Status)
	assert.Equal(t, "main", who.Room)

	require.NoError(t, alice.CloseSend())
	require.NoError(t, bob.CloseSend())
}

func TestGRPC_UnaryErrors(t *testing.T) {
	client := newGRPCClient(t, newStack(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.History(ctx, rpc.HistoryRequest{Room: "nowhere"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Search(ctx, rpc.SearchRequest{Room: "main", Pattern: "("})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Typing(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Presence(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(rpc.Frame) bool) rpc.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var f rpc.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if match(f) {
			return f
		}
	}
}

func TestWebSocket_Session(t *testing.T) {
	s := newStack(t)
	router := adaptor.NewRouter(adaptor.NewWebSocket(s.streams, nil), s.streams, adaptor.DefaultRouterConfig())
	srv := httptest.NewServer(router)
	defer srv.Close()

	alice := dialWS(t, srv)
	bob := dialWS(t, srv)

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "hello", "username": name}))
		readUntil(t, conn, isAck("hello"))
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "join", "room": "random"}))
		readUntil(t, conn, isAck("join"))
	}

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "chat", "room": "random", "text": "over websockets"}))
	chat := readUntil(t, bob, func(f rpc.Frame) bool { return f.Type == "chat" })
	assert.Equal(t, "over websockets", chat.Text)
	assert.Equal(t, "room", chat.Scope)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	bad := readUntil(t, alice, func(f rpc.Frame) bool { return f.Type == "error" })
	assert.Contains(t, bad.Text, "JSON")

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "join", "room": "no spaces"}))
	rejected := readUntil(t, alice, func(f rpc.Frame) bool {
		data, ok := f.Data.(map[string]any)
		return f.Type == "error" && ok && data["kind"] == "validation_failed"
	})
	assert.Equal(t, "join", rejected.Data.(map[string]any)["request"])
}

func TestRouter_Health(t *testing.T) {
	s := newStack(t)
	router := adaptor.NewRouter(adaptor.NewWebSocket(s.streams, nil), s.streams, adaptor.DefaultRouterConfig())
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	s := newStack(t)
	srv := httptest.NewServer(adaptor.NewWebSocket(s.streams, []string{"https://lobby.example"}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
