package domain

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

type PresenceRecord struct {
	User        string         `json:"user"`
	Status      PresenceStatus `json:"status"`
	CurrentRoom string         `json:"current_room,omitempty"`
	LastSeen    time.Time      `json:"last_seen"`
}
