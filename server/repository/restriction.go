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

func (r *Repository) AddRestriction(ctx context.Context, rs domain.Restriction) (int64, error) {
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now()
	}
	return call(r, "add_restriction", func() (int64, error) {
		query := "INSERT INTO restrictions (user_key, type, reason, expires_at, created_at) VALUES (?, ?, ?, ?, ?)"
		res, err := r.db.ExecContext(ctx, query, rs.UserKey, string(rs.Type), rs.Reason, nullMillis(rs.ExpiresAt), toMillis(rs.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert restriction for '%s': %w", rs.UserKey, err)
		}
		return res.LastInsertId()
	})
}

// GetActiveRestriction returns the restriction in force for userKey at
// now. Bans win over kicks; among equals the newest wins.
func (r *Repository) GetActiveRestriction(ctx context.Context, userKey string, now time.Time) (domain.Restriction, error) {
	return call(r, "active_restriction", func() (domain.Restriction, error) {
		query := `SELECT id, user_key, type, reason, expires_at, created_at FROM restrictions
			WHERE user_key = ? AND (expires_at IS NULL OR expires_at > ?)
			ORDER BY CASE type WHEN 'ban' THEN 0 ELSE 1 END, id DESC
			LIMIT 1`
		var (
			rs        domain.Restriction
			typ       string
			expiresAt sql.NullInt64
			createdAt int64
		)
		err := r.db.QueryRowContext(ctx, query, userKey, toMillis(now)).
			Scan(&rs.ID, &rs.UserKey, &typ, &rs.Reason, &expiresAt, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Restriction{}, usecase.ErrNotFound
		}
		if err != nil {
			return domain.Restriction{}, fmt.Errorf("error querying restriction for '%s': %w", userKey, err)
		}
		rs.Type = domain.RestrictionType(typ)
		rs.ExpiresAt = timePtr(expiresAt)
		rs.CreatedAt = fromMillis(createdAt)
		return rs, nil
	})
}

func (r *Repository) LiftRestrictions(ctx context.Context, userKey string) (int, error) {
	return call(r, "lift_restrictions", func() (int, error) {
		res, err := r.db.ExecContext(ctx, "DELETE FROM restrictions WHERE user_key = ?", userKey)
		if err != nil {
			return 0, fmt.Errorf("failed to delete restrictions for '%s': %w", userKey, err)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	})
}
