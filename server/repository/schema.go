package repository

import (
	"context"
	"fmt"
)

var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES rooms(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room_id, id)`,
	`CREATE TABLE IF NOT EXISTS restrictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_key TEXT NOT NULL,
		type TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		expires_at INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_restrictions_user_key ON restrictions(user_key)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		message_id INTEGER NOT NULL REFERENCES messages(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		emoji TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (message_id, user_id, emoji)
	)`,
}

type column struct {
	table string
	name  string
	ddl   string
}

// evolvedColumns were added after the base tables shipped. Migrate adds
// whichever are missing and leaves existing ones alone.
var evolvedColumns = []column{
	{"rooms", "locked", "INTEGER NOT NULL DEFAULT 0"},
	{"rooms", "maintenance", "INTEGER NOT NULL DEFAULT 0"},
	{"rooms", "vip_only", "INTEGER NOT NULL DEFAULT 0"},
	{"rooms", "staff_only", "INTEGER NOT NULL DEFAULT 0"},
	{"rooms", "min_level", "INTEGER NOT NULL DEFAULT 0"},
	{"rooms", "slow_mode_ms", "INTEGER NOT NULL DEFAULT 0"},
	{"rooms", "archived", "INTEGER NOT NULL DEFAULT 0"},
	{"users", "role", "TEXT NOT NULL DEFAULT 'user'"},
	{"users", "level", "INTEGER NOT NULL DEFAULT 1"},
	{"users", "messages_sent", "INTEGER NOT NULL DEFAULT 0"},
	{"users", "last_seen_at", "INTEGER"},
}

func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range baseSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	existing := make(map[string]map[string]bool)
	for _, c := range evolvedColumns {
		cols, ok := existing[c.table]
		if !ok {
			var err error
			if cols, err = r.tableColumns(ctx, c.table); err != nil {
				return err
			}
			existing[c.table] = cols
		}
		if cols[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.name, c.ddl)
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", c.table, c.name, err)
		}
		cols[c.name] = true
	}
	return nil
}

func (r *Repository) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
