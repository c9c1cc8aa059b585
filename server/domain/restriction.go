package domain

import (
	"fmt"
	"time"
)

type RestrictionType string

const (
	RestrictionKick RestrictionType = "kick"
	RestrictionBan  RestrictionType = "ban"
)

type Restriction struct {
	ID        int64
	UserKey   string
	Type      RestrictionType
	Reason    string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

func (r Restriction) Describe() string {
	msg := fmt.Sprintf("you are %s", pastTense(r.Type))
	if r.ExpiresAt != nil {
		msg += " until " + r.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if r.Reason != "" {
		msg += ": " + r.Reason
	}
	return msg
}

func pastTense(t RestrictionType) string {
	switch t {
	case RestrictionBan:
		return "banned"
	case RestrictionKick:
		return "kicked"
	default:
		return string(t)
	}
}
