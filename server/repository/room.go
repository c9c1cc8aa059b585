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

const roomColumns = `id, name, locked, maintenance, vip_only, staff_only, min_level, slow_mode_ms, archived, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(s rowScanner) (domain.Room, error) {
	var (
		room                                domain.Room
		locked, maintenance, vipOnly, staff bool
		archived                            bool
		minLevel                            int
		slowModeMs, createdAt               int64
	)
	if err := s.Scan(&room.ID, &room.Name, &locked, &maintenance, &vipOnly, &staff, &minLevel, &slowModeMs, &archived, &createdAt); err != nil {
		return domain.Room{}, err
	}
	room.Flags = domain.RoomFlags{
		Locked:      locked,
		Maintenance: maintenance,
		VIPOnly:     vipOnly,
		StaffOnly:   staff,
		MinLevel:    minLevel,
	}
	room.SlowMode = time.Duration(slowModeMs) * time.Millisecond
	room.Archived = archived
	room.CreatedAt = fromMillis(createdAt)
	return room, nil
}

func (r *Repository) CreateOrIgnoreRoom(ctx context.Context, name string) error {
	return exec(r, "create_room", func() error {
		query := "INSERT OR IGNORE INTO rooms (name, created_at) VALUES (?, ?)"
		if _, err := r.db.ExecContext(ctx, query, name, toMillis(time.Now())); err != nil {
			return fmt.Errorf("failed to insert room '%s': %w", name, err)
		}
		return nil
	})
}

func (r *Repository) GetRoom(ctx context.Context, name string) (domain.Room, error) {
	return call(r, "get_room", func() (domain.Room, error) {
		query := "SELECT " + roomColumns + " FROM rooms WHERE name = ?"
		room, err := scanRoom(r.db.QueryRowContext(ctx, query, name))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, usecase.ErrNotFound
		}
		if err != nil {
			return domain.Room{}, fmt.Errorf("error querying room '%s': %w", name, err)
		}
		return room, nil
	})
}

func (r *Repository) ListRooms(ctx context.Context) ([]domain.Room, error) {
	return call(r, "list_rooms", func() ([]domain.Room, error) {
		query := "SELECT " + roomColumns + " FROM rooms WHERE archived = 0 ORDER BY name"
		rows, err := r.db.QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to query rooms: %w", err)
		}
		defer rows.Close()

		rooms := []domain.Room{}
		for rows.Next() {
			room, err := scanRoom(rows)
			if err != nil {
				return nil, fmt.Errorf("failed to scan room: %w", err)
			}
			rooms = append(rooms, room)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating over rooms: %w", err)
		}
		return rooms, nil
	})
}

func (r *Repository) SetRoomFlags(ctx context.Context, name string, flags domain.RoomFlags, slowMode time.Duration) error {
	return exec(r, "set_room_flags", func() error {
		query := `UPDATE rooms SET locked = ?, maintenance = ?, vip_only = ?, staff_only = ?, min_level = ?, slow_mode_ms = ?
			WHERE name = ?`
		res, err := r.db.ExecContext(ctx, query,
			flags.Locked, flags.Maintenance, flags.VIPOnly, flags.StaffOnly, flags.MinLevel, slowMode.Milliseconds(), name)
		if err != nil {
			return fmt.Errorf("failed to update room '%s': %w", name, err)
		}
		return requireAffected(res)
	})
}

func (r *Repository) ArchiveRoom(ctx context.Context, name string) error {
	return exec(r, "archive_room", func() error {
		res, err := r.db.ExecContext(ctx, "UPDATE rooms SET archived = 1 WHERE name = ?", name)
		if err != nil {
			return fmt.Errorf("failed to archive room '%s': %w", name, err)
		}
		return requireAffected(res)
	})
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return usecase.ErrNotFound
	}
	return nil
}
