package repository

import (
	"database/sql"
	"time"

	"github.com/ponyo877/lobby/server/usecase"
	gobreaker "github.com/sony/gobreaker/v2"
)

type Repository struct {
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker[any]
}

func NewRepository(db *sql.DB) *Repository {
	return NewRepositoryWithBreaker(db, DefaultBreakerConfig())
}

func NewRepositoryWithBreaker(db *sql.DB, cfg BreakerConfig) *Repository {
	return &Repository{db: db, breaker: newBreaker(cfg)}
}

var _ usecase.Repository = (*Repository)(nil)

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
