package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/usecase"
)

const userColumns = `id, username, role, level, messages_sent, last_seen_at, created_at`

func scanUser(s rowScanner) (domain.User, error) {
	var (
		u          domain.User
		role       string
		lastSeenAt sql.NullInt64
		createdAt  int64
	)
	if err := s.Scan(&u.ID, &u.Username, &role, &u.Level, &u.MessagesSent, &lastSeenAt, &createdAt); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	if lastSeenAt.Valid {
		u.LastSeenAt = fromMillis(lastSeenAt.Int64)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// EnsureUser returns the user called username, creating it on first sight.
func (r *Repository) EnsureUser(ctx context.Context, username string) (domain.User, error) {
	err := exec(r, "ensure_user", func() error {
		query := "INSERT OR IGNORE INTO users (username, created_at) VALUES (?, ?)"
		if _, err := r.db.ExecContext(ctx, query, username, toMillis(time.Now())); err != nil {
			return fmt.Errorf("failed to insert user '%s': %w", username, err)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return r.GetUser(ctx, username)
}

func (r *Repository) GetUser(ctx context.Context, username string) (domain.User, error) {
	return call(r, "get_user", func() (domain.User, error) {
		query := "SELECT " + userColumns + " FROM users WHERE username = ?"
		u, err := scanUser(r.db.QueryRowContext(ctx, query, username))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, usecase.ErrNotFound
		}
		if err != nil {
			return domain.User{}, fmt.Errorf("error querying user '%s': %w", username, err)
		}
		return u, nil
	})
}

func (r *Repository) UpdateUserRole(ctx context.Context, username string, role domain.Role, level int) error {
	if !role.Valid() {
		return domain.ValidationFailed(fmt.Sprintf("unknown role %q", role), "role")
	}
	return exec(r, "update_user_role", func() error {
		res, err := r.db.ExecContext(ctx, "UPDATE users SET role = ?, level = ? WHERE username = ?", string(role), level, username)
		if err != nil {
			return fmt.Errorf("failed to update user '%s': %w", username, err)
		}
		return requireAffected(res)
	})
}

func (r *Repository) UpdateUserStats(ctx context.Context, userID int64, patch domain.StatsPatch) error {
	return exec(r, "update_user_stats", func() error {
		query := "UPDATE users SET messages_sent = messages_sent + ?, last_seen_at = ? WHERE id = ?"
		res, err := r.db.ExecContext(ctx, query, patch.MessagesSent, toMillis(patch.LastSeenAt), userID)
		if err != nil {
			return fmt.Errorf("failed to update stats of user %d: %w", userID, err)
		}
		return requireAffected(res)
	})
}
