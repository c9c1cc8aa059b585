package domain

import "time"

type EventType int

const (
	EventChat EventType = iota
	EventSystem
	EventJoined
	EventLeft
	EventTyping
	EventReaction
	EventPresence
	EventSnapshot
	EventAnnouncement
	EventAck
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventChat:
		return "chat"
	case EventSystem:
		return "system"
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	case EventTyping:
		return "typing"
	case EventReaction:
		return "reaction"
	case EventPresence:
		return "presence"
	case EventSnapshot:
		return "snapshot"
	case EventAnnouncement:
		return "announcement"
	case EventAck:
		return "ack"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Scope says who an event was composed for. Room-scoped events are
// dropped at delivery time if the recipient is no longer in Room.
type Scope int

const (
	ScopeRoom Scope = iota
	ScopeDirect
	ScopeGlobal
)

type Event struct {
	Type      EventType
	Scope     Scope
	Room      string
	Sender    string
	Text      string
	MessageID int64
	Data      any
	Timestamp time.Time
}

// Snapshot is sent to a connection right after it joins a room.
type Snapshot struct {
	History []Message `json:"history"`
	Members []string  `json:"members"`
}

// Reaction is the payload of an EventReaction.
type Reaction struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

func NewChatEvent(room, sender, text string, messageID int64, ts time.Time) Event {
	return Event{
		Type:      EventChat,
		Scope:     ScopeRoom,
		Room:      room,
		Sender:    sender,
		Text:      text,
		MessageID: messageID,
		Timestamp: ts,
	}
}

func NewJoinedEvent(room, user string, ts time.Time) Event {
	return Event{
		Type:      EventJoined,
		Scope:     ScopeRoom,
		Room:      room,
		Sender:    user,
		Text:      user + " joined #" + room,
		Timestamp: ts,
	}
}

func NewLeftEvent(room, user string, ts time.Time) Event {
	return Event{
		Type:      EventLeft,
		Scope:     ScopeRoom,
		Room:      room,
		Sender:    user,
		Text:      user + " left #" + room,
		Timestamp: ts,
	}
}

func NewTypingEvent(room string, users []string, ts time.Time) Event {
	return Event{
		Type:      EventTyping,
		Scope:     ScopeRoom,
		Room:      room,
		Data:      users,
		Timestamp: ts,
	}
}

func NewReactionEvent(room, user string, r Reaction, ts time.Time) Event {
	return Event{
		Type:      EventReaction,
		Scope:     ScopeRoom,
		Room:      room,
		Sender:    user,
		MessageID: r.MessageID,
		Data:      r,
		Timestamp: ts,
	}
}

func NewPresenceEvent(room string, rec PresenceRecord, ts time.Time) Event {
	return Event{
		Type:      EventPresence,
		Scope:     ScopeRoom,
		Room:      room,
		Sender:    rec.User,
		Text:      string(rec.Status),
		Data:      rec,
		Timestamp: ts,
	}
}

func NewSnapshotEvent(room string, s Snapshot, ts time.Time) Event {
	return Event{
		Type:      EventSnapshot,
		Scope:     ScopeDirect,
		Room:      room,
		Data:      s,
		Timestamp: ts,
	}
}

func NewAnnouncementEvent(sender, text string, ts time.Time) Event {
	return Event{
		Type:      EventAnnouncement,
		Scope:     ScopeGlobal,
		Sender:    sender,
		Text:      text,
		Timestamp: ts,
	}
}

func NewAckEvent(request RequestType, room string, messageID int64, ts time.Time) Event {
	return Event{
		Type:      EventAck,
		Scope:     ScopeDirect,
		Room:      room,
		Text:      request.String(),
		MessageID: messageID,
		Timestamp: ts,
	}
}

// NewErrorEvent reports err to the connection that sent request. The
// request name is passed as sent so payloads that failed to decode are
// still attributed.
func NewErrorEvent(request string, err error, ts time.Time) Event {
	return Event{
		Type:      EventError,
		Scope:     ScopeDirect,
		Text:      PublicReason(err),
		Data:      map[string]string{"request": request, "kind": KindOf(err).String()},
		Timestamp: ts,
	}
}

func (e Event) String() string {
	switch e.Type {
	case EventError:
		return e.Type.String() + ": " + e.Text
	case EventChat:
		return e.Type.String() + ": #" + e.Room + " " + e.Sender + " - " + e.Text
	default:
		return e.Type.String() + ": #" + e.Room + " " + e.Text
	}
}
