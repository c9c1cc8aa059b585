package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const createStateTable = `
CREATE TABLE IF NOT EXISTS state_entries (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_state_entries_expires_at ON state_entries(expires_at);
`

// SQLBackend keeps entries in the state_entries table. Timestamps are unix
// milliseconds.
type SQLBackend struct {
	db *sql.DB
}

func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func (b *SQLBackend) Name() string {
	return "sqlite"
}

func (b *SQLBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, createStateTable); err != nil {
		return fmt.Errorf("error creating state_entries: %w", err)
	}
	return nil
}

func (b *SQLBackend) Get(ctx context.Context, key string) (Entry, error) {
	var (
		e                    Entry
		expiresAt            sql.NullInt64
		createdAt, updatedAt int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT key, value, expires_at, created_at, updated_at FROM state_entries WHERE key = ?`, key,
	).Scan(&e.Key, &e.Value, &expiresAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("error getting state %q: %w", key, err)
	}
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		e.ExpiresAt = &t
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	e.UpdatedAt = time.UnixMilli(updatedAt)
	return e, nil
}

func (b *SQLBackend) Put(ctx context.Context, e Entry) error {
	var expiresAt sql.NullInt64
	if e.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: e.ExpiresAt.UnixMilli(), Valid: true}
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO state_entries (key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		e.Key, e.Value, expiresAt, e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("error putting state %q: %w", e.Key, err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM state_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("error deleting state %q: %w", key, err)
	}
	return nil
}

// prefixClause matches keys starting with prefix. LIKE is case insensitive
// for ASCII in sqlite, so the substr comparison keeps the match exact.
func prefixClause(prefix string) (string, []any) {
	return `key LIKE ? ESCAPE '\' AND substr(key, 1, ?) = ?`,
		[]any{EscapeLike(prefix) + "%", utf8.RuneCountInString(prefix), prefix}
}

func (b *SQLBackend) Keys(ctx context.Context, prefix string, now time.Time) ([]string, error) {
	clause, args := prefixClause(prefix)
	args = append(args, now.UnixMilli())
	rows, err := b.db.QueryContext(ctx,
		`SELECT key FROM state_entries WHERE `+clause+` AND (expires_at IS NULL OR expires_at > ?) ORDER BY key`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("error listing state keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("error scanning state key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state keys: %w", err)
	}
	return keys, nil
}

func (b *SQLBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	clause, args := prefixClause(prefix)
	res, err := b.db.ExecContext(ctx, `DELETE FROM state_entries WHERE `+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("error deleting state prefix: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (b *SQLBackend) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM state_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("error sweeping expired state: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
