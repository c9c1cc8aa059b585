package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	connIDKey        contextKey = "conn_id"
)

// newCorrelationID returns the first 8 characters of a random UUID.
func newCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID tags ctx with id, or with a fresh id when the
// caller has none. Each client session gets one.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = newCorrelationID()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

func ContextWithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey, connID)
}

func connID(ctx context.Context) string {
	if id, ok := ctx.Value(connIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger enriched with the correlation and
// connection ids found in ctx.
//
//	logging.Ctx(ctx).Info().Str("room", room).Msg("joined")
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := current().With()
	if id := correlationID(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	if id := connID(ctx); id != "" {
		logCtx = logCtx.Str("conn_id", id)
	}
	l := logCtx.Logger()
	return &l
}
