package adaptor

import (
	"context"

	"github.com/ponyo877/lobby/server/domain"
)

// Sessions runs one client session over any transport.
type Sessions interface {
	Serve(ctx context.Context, remote, transport string, requests <-chan map[string]any, send func(domain.Event) error) error
	Stats() domain.RegistryStats
}

// Queries are the read-only calls served outside a session.
type Queries interface {
	History(ctx context.Context, room string, limit int, beforeID int64) ([]domain.Message, error)
	Search(ctx context.Context, room, pattern string) ([]domain.Message, error)
	GetPresence(ctx context.Context, username string) domain.PresenceRecord
	GetTyping(ctx context.Context, room string) ([]string, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	Members(room string) []string
}
