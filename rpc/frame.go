// Package rpc is the wire contract of the lobby service: the gRPC
// service descriptor, its client, and the JSON-shaped frames both the gRPC
// and WebSocket transports carry.
package rpc

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/types/known/structpb"
)

// Frame is one server-to-client event.
type Frame struct {
	Type      string    `json:"type"`
	Scope     string    `json:"scope"`
	Room      string    `json:"room,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Text      string    `json:"text,omitempty"`
	MessageID int64     `json:"message_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// SnapshotFrame is the data of a "snapshot" frame sent after a join.
type SnapshotFrame struct {
	History []MessageFrame `json:"history"`
	Members []string       `json:"members"`
}

// Snapshot decodes the data of a snapshot frame.
func (f Frame) Snapshot() (SnapshotFrame, error) {
	var snap SnapshotFrame
	if f.Type != "snapshot" {
		return snap, fmt.Errorf("frame is %q, not snapshot", f.Type)
	}
	raw, err := json.Marshal(f.Data)
	if err != nil {
		return snap, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

type MessageFrame struct {
	ID        int64     `json:"id"`
	Room      string    `json:"room"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomFrame struct {
	Name       string `json:"name"`
	Locked     bool   `json:"locked,omitempty"`
	VIPOnly    bool   `json:"vip_only,omitempty"`
	StaffOnly  bool   `json:"staff_only,omitempty"`
	MinLevel   int    `json:"min_level,omitempty"`
	SlowModeMS int64  `json:"slow_mode_ms,omitempty"`
	Members    int    `json:"members"`
}

type HistoryRequest struct {
	Room     string `json:"room"`
	Limit    int    `json:"limit,omitempty"`
	BeforeID int64  `json:"before_id,omitempty"`
}

type SearchRequest struct {
	Room    string `json:"room"`
	Pattern string `json:"pattern"`
}

type MessagesResponse struct {
	Messages []MessageFrame `json:"messages"`
}

type PresenceRequest struct {
	User string `json:"user"`
}

type PresenceResponse struct {
	User     string    `json:"user"`
	Status   string    `json:"status"`
	Room     string    `json:"room,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

type TypingRequest struct {
	Room string `json:"room"`
}

type TypingResponse struct {
	Users []string `json:"users"`
}

type RoomsRequest struct{}

type RoomsResponse struct {
	Rooms []RoomFrame `json:"rooms"`
}

// ToStruct converts any JSON-encodable value to a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	m, err := ToMap(v)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return s, nil
}

// FromStruct decodes a protobuf Struct into out.
func FromStruct(s *structpb.Struct, out any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("failed to encode struct: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %T: %w", out, err)
	}
	return nil
}

// ToMap round-trips v through JSON so that the result holds only the
// types structpb accepts.
func ToMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return m, nil
}
