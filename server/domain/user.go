package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleVIP       Role = "vip"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleVIP, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID           int64
	Username     string
	Role         Role
	Level        int
	MessagesSent int64
	LastSeenAt   time.Time
	CreatedAt    time.Time
}

func (u User) IsStaff() bool {
	return u.Role == RoleModerator || u.Role == RoleAdmin
}

// StatsPatch is an incremental update of a user's counters.
type StatsPatch struct {
	MessagesSent int64
	LastSeenAt   time.Time
}
