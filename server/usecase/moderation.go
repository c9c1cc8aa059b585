package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/ponyo877/lobby/server/domain"
)

// Gate decides whether moderation restrictions let a user in.
type Gate struct {
	repo Repository
	now  func() time.Time
}

func NewGate(repo Repository, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{repo: repo, now: now}
}

func userKey(u domain.User) string {
	return u.Username
}

// CheckJoin rejects users under an active kick or ban.
func (g *Gate) CheckJoin(ctx context.Context, u domain.User) error {
	rs, err := g.repo.GetActiveRestriction(ctx, userKey(u), g.now())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return domain.Forbidden(rs.Describe())
}

// CheckConnect rejects only banned users; a kick keeps them out of rooms
// but not off the server.
func (g *Gate) CheckConnect(ctx context.Context, u domain.User) error {
	rs, err := g.repo.GetActiveRestriction(ctx, userKey(u), g.now())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rs.Type != domain.RestrictionBan {
		return nil
	}
	return domain.Forbidden(rs.Describe())
}

// Restrict records a kick or ban. A zero duration never expires.
func (g *Gate) Restrict(ctx context.Context, u domain.User, typ domain.RestrictionType, reason string, d time.Duration) (domain.Restriction, error) {
	now := g.now()
	rs := domain.Restriction{
		UserKey:   userKey(u),
		Type:      typ,
		Reason:    reason,
		CreatedAt: now,
	}
	if d > 0 {
		exp := now.Add(d)
		rs.ExpiresAt = &exp
	}
	id, err := g.repo.AddRestriction(ctx, rs)
	if err != nil {
		return domain.Restriction{}, err
	}
	rs.ID = id
	return rs, nil
}

func (g *Gate) Lift(ctx context.Context, u domain.User) (int, error) {
	return g.repo.LiftRestrictions(ctx, userKey(u))
}
