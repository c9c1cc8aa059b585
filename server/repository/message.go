package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/usecase"
)

const messageSelect = `
	SELECT m.id, r.name, m.user_id, u.username, m.content, m.created_at
	FROM messages m
	JOIN rooms r ON r.id = m.room_id
	JOIN users u ON u.id = m.user_id`

func scanMessage(s rowScanner) (domain.Message, error) {
	var (
		m         domain.Message
		createdAt int64
	)
	if err := s.Scan(&m.ID, &m.Room, &m.AuthorID, &m.Author, &m.Content, &createdAt); err != nil {
		return domain.Message{}, err
	}
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over messages: %w", err)
	}
	return messages, nil
}

func (r *Repository) InsertMessage(ctx context.Context, room string, author domain.User, content string, createdAt time.Time) (domain.Message, error) {
	return call(r, "insert_message", func() (domain.Message, error) {
		query := "INSERT INTO messages (room_id, user_id, content, created_at) SELECT id, ?, ?, ? FROM rooms WHERE name = ?"
		res, err := r.db.ExecContext(ctx, query, author.ID, content, toMillis(createdAt), room)
		if err != nil {
			return domain.Message{}, fmt.Errorf("failed to insert message into '%s': %w", room, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.Message{}, usecase.ErrNotFound
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Message{}, fmt.Errorf("failed to read message id: %w", err)
		}
		return domain.NewMessage(id, room, author.ID, author.Username, content, createdAt), nil
	})
}

// GetRecentMessages returns up to limit messages of room older than
// beforeID (all when beforeID is 0), oldest first.
func (r *Repository) GetRecentMessages(ctx context.Context, room string, limit int, beforeID int64) ([]domain.Message, error) {
	return call(r, "recent_messages", func() ([]domain.Message, error) {
		query := messageSelect + ` WHERE r.name = ? AND (? = 0 OR m.id < ?) ORDER BY m.id DESC LIMIT ?`
		messages, err := r.queryMessages(ctx, query, room, beforeID, beforeID, limit)
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		return messages, nil
	})
}

func (r *Repository) GetMessage(ctx context.Context, id int64) (domain.Message, error) {
	return call(r, "get_message", func() (domain.Message, error) {
		m, err := scanMessage(r.db.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, usecase.ErrNotFound
		}
		if err != nil {
			return domain.Message{}, fmt.Errorf("error querying message %d: %w", id, err)
		}
		return m, nil
	})
}

// SearchMessages matches content against a Go regular expression, newest
// first.
func (r *Repository) SearchMessages(ctx context.Context, room, pattern string, limit int) ([]domain.Message, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, domain.ValidationFailed("pattern is not a valid regular expression", "pattern")
	}
	return call(r, "search_messages", func() ([]domain.Message, error) {
		query := messageSelect + ` WHERE r.name = ? AND m.content REGEXP ? ORDER BY m.id DESC LIMIT ?`
		return r.queryMessages(ctx, query, room, pattern, limit)
	})
}

func (r *Repository) AddReaction(ctx context.Context, messageID, userID int64, emoji string, createdAt time.Time) error {
	return exec(r, "add_reaction", func() error {
		query := "INSERT OR IGNORE INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)"
		if _, err := r.db.ExecContext(ctx, query, messageID, userID, emoji, toMillis(createdAt)); err != nil {
			return fmt.Errorf("failed to insert reaction on %d: %w", messageID, err)
		}
		return nil
	})
}
