package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/ponyo877/lobby/server/domain"
)

var ErrNotFound = errors.New("not found")

// Repository is the durable store the room core depends on.
type Repository interface {
	// Room
	CreateOrIgnoreRoom(ctx context.Context, name string) error
	GetRoom(ctx context.Context, name string) (domain.Room, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	SetRoomFlags(ctx context.Context, name string, flags domain.RoomFlags, slowMode time.Duration) error
	ArchiveRoom(ctx context.Context, name string) error

	// User
	EnsureUser(ctx context.Context, username string) (domain.User, error)
	GetUser(ctx context.Context, username string) (domain.User, error)
	UpdateUserRole(ctx context.Context, username string, role domain.Role, level int) error
	UpdateUserStats(ctx context.Context, userID int64, patch domain.StatsPatch) error

	// Message
	InsertMessage(ctx context.Context, room string, author domain.User, content string, createdAt time.Time) (domain.Message, error)
	GetRecentMessages(ctx context.Context, room string, limit int, beforeID int64) ([]domain.Message, error)
	GetMessage(ctx context.Context, id int64) (domain.Message, error)
	SearchMessages(ctx context.Context, room, pattern string, limit int) ([]domain.Message, error)
	AddReaction(ctx context.Context, messageID, userID int64, emoji string, createdAt time.Time) error

	// Moderation
	AddRestriction(ctx context.Context, r domain.Restriction) (int64, error)
	GetActiveRestriction(ctx context.Context, userKey string, now time.Time) (domain.Restriction, error)
	LiftRestrictions(ctx context.Context, userKey string) (int, error)
}

// StateStore is the key/value state the core keeps for presence, typing
// and slow mode.
type StateStore interface {
	Now() time.Time
	SetState(ctx context.Context, key string, value any) error
	SetStateTTL(ctx context.Context, key string, value any, ttl time.Duration) error
	GetState(ctx context.Context, key string) (string, bool)
	HasState(ctx context.Context, key string) bool
	DeleteState(ctx context.Context, key string) error
	SetTyping(ctx context.Context, room, user string, ttl time.Duration) error
	ClearTyping(ctx context.Context, room, user string) error
	GetTypingUsers(ctx context.Context, room string) ([]string, error)
}

// Presence tracks online status and the room each user is seen in.
type Presence interface {
	OnConnect(ctx context.Context, user string) error
	OnJoin(ctx context.Context, user, room string) error
	OnLeave(ctx context.Context, user, room, remainingRoom string) error
	OnDisconnect(ctx context.Context, user string, remainingRoom string, stillConnected bool) error
	Heartbeat(ctx context.Context, user, room string) error
	SetStatus(ctx context.Context, user string, status domain.PresenceStatus) (domain.PresenceRecord, error)
	Get(ctx context.Context, user string) domain.PresenceRecord
}
