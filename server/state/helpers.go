package state

import (
	"context"
	"strings"
	"time"
)

func OnlineKey(user string) string {
	return "user:" + user + ":online"
}

func TypingPrefix(room string) string {
	return "typing:" + room + ":"
}

func TypingKey(room, user string) string {
	return TypingPrefix(room) + user
}

func SlowModeKey(room, user string) string {
	return "slowmode:" + room + ":" + user
}

func PresenceKey(user string) string {
	return "presence:" + user
}

// SetUserOnline marks user online with no expiry.
func (s *Store) SetUserOnline(ctx context.Context, user string) error {
	return s.SetState(ctx, OnlineKey(user), "1")
}

// ExpireUserOnline keeps the online marker for grace and then lets it lapse.
func (s *Store) ExpireUserOnline(ctx context.Context, user string, grace time.Duration) error {
	return s.SetStateTTL(ctx, OnlineKey(user), "1", grace)
}

func (s *Store) IsUserOnline(ctx context.Context, user string) bool {
	return s.HasState(ctx, OnlineKey(user))
}

func (s *Store) ClearUserOnline(ctx context.Context, user string) error {
	return s.DeleteState(ctx, OnlineKey(user))
}

func (s *Store) SetTyping(ctx context.Context, room, user string, ttl time.Duration) error {
	return s.SetStateTTL(ctx, TypingKey(room, user), "1", ttl)
}

func (s *Store) ClearTyping(ctx context.Context, room, user string) error {
	return s.DeleteState(ctx, TypingKey(room, user))
}

// GetTypingUsers lists users with a live typing marker in room, sorted.
func (s *Store) GetTypingUsers(ctx context.Context, room string) ([]string, error) {
	prefix := TypingPrefix(room)
	keys, err := s.GetKeysByPrefix(ctx, prefix)
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, prefix))
	}
	return users, err
}
