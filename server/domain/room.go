package domain

import (
	"fmt"
	"time"
)

type RoomFlags struct {
	Locked      bool
	Maintenance bool
	VIPOnly     bool
	StaffOnly   bool
	MinLevel    int
}

type Room struct {
	ID        int64
	Name      string
	Flags     RoomFlags
	SlowMode  time.Duration
	Archived  bool
	CreatedAt time.Time
}

// Admits reports whether user may enter the room right now. Staff bypass
// every flag except maintenance, which only admins pass.
func (r Room) Admits(user User) error {
	if r.Flags.Maintenance && user.Role != RoleAdmin {
		return Forbidden(fmt.Sprintf("room %q is under maintenance", r.Name))
	}
	if user.IsStaff() {
		return nil
	}
	if r.Flags.Locked {
		return Forbidden(fmt.Sprintf("room %q is locked", r.Name))
	}
	if r.Flags.StaffOnly {
		return Forbidden(fmt.Sprintf("room %q is staff only", r.Name))
	}
	if r.Flags.VIPOnly && user.Role != RoleVIP {
		return Forbidden(fmt.Sprintf("room %q is vip only", r.Name))
	}
	if user.Level < r.Flags.MinLevel {
		return Forbidden(fmt.Sprintf("room %q requires level %d", r.Name, r.Flags.MinLevel))
	}
	return nil
}
