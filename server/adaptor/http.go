package adaptor

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/ponyo877/lobby/server/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	// WebSocket upgrades allowed per client IP per window.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{RateLimitRequests: 20, RateLimitWindow: time.Minute}
}

// NewRouter mounts the WebSocket endpoint, health and metrics.
func NewRouter(ws http.Handler, sessions Sessions, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	limit := httprate.Limit(cfg.RateLimitRequests, cfg.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		}),
	)
	r.With(limit).Get("/ws", ws.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		stats := sessions.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "ok",
			"active_sessions": stats.ActiveSessions,
			"active_rooms":    stats.ActiveRooms,
			"events_dropped":  stats.EventsDropped,
			"uptime":          stats.Uptime,
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
