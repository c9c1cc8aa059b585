package adaptor

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/ponyo877/lobby/rpc"
	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// WebSocket serves sessions over JSON text frames.
type WebSocket struct {
	sessions Sessions
	upgrader websocket.Upgrader
}

// NewWebSocket builds the handler. Requests without an Origin header come
// from non-browser clients and are accepted; browser origins must be listed
// in allowedOrigins ("*" allows any).
func NewWebSocket(sessions Sessions, allowedOrigins []string) *WebSocket {
	a := &WebSocket{sessions: sessions}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin) {
				return true
			}
			logging.Warn().Str("origin", origin).Msg("websocket origin rejected")
			return false
		},
	}
	return a
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) writeFrame(f rpc.Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, raw)
}

func (a *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(logging.ContextWithCorrelationID(r.Context(), chimiddleware.GetReqID(r.Context())))
	defer func() {
		cancel()
		_ = conn.Close()
	}()

	requests := make(chan map[string]any, 32)
	go a.readPump(ctx, ws, requests)
	go keepAlive(ctx, ws)

	err = a.sessions.Serve(ctx, r.RemoteAddr, "websocket", requests, func(ev domain.Event) error {
		return ws.writeFrame(toFrame(ev))
	})
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Msg("websocket session ended with error")
	}
	_ = ws.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (a *WebSocket) readPump(ctx context.Context, ws *wsConn, requests chan<- map[string]any) {
	defer close(requests)
	conn := ws.conn
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Ctx(ctx).Debug().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
			_ = ws.writeFrame(toFrame(domain.NewErrorEvent("unknown", domain.ValidationFailed("frame is not a JSON object"), time.Now())))
			continue
		}
		select {
		case requests <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func keepAlive(ctx context.Context, ws *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ws.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
