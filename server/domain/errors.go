package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidationFailed
	KindRoomNotFound
	KindForbidden
	KindNotInRoom
	KindBackendDegraded
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidationFailed:
		return "validation_failed"
	case KindRoomNotFound:
		return "room_not_found"
	case KindForbidden:
		return "forbidden"
	case KindNotInRoom:
		return "not_in_room"
	case KindBackendDegraded:
		return "backend_degraded"
	default:
		return "internal"
	}
}

// Error is the rejection returned for a single client action. Reason is
// safe to show to the acting client; Err is for logs only.
type Error struct {
	Kind   ErrorKind
	Reason string
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Fields, ","))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrForbidden) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Reason == "" && t.Err == nil
}

var (
	ErrValidationFailed = &Error{Kind: KindValidationFailed}
	ErrRoomNotFound     = &Error{Kind: KindRoomNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrNotInRoom        = &Error{Kind: KindNotInRoom}
	ErrBackendDegraded  = &Error{Kind: KindBackendDegraded}
	ErrInternal         = &Error{Kind: KindInternal}

	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrNotAuthenticated   = errors.New("connection not authenticated")
)

func ValidationFailed(reason string, fields ...string) *Error {
	return &Error{Kind: KindValidationFailed, Reason: reason, Fields: fields}
}

func RoomNotFound(room string) *Error {
	return &Error{Kind: KindRoomNotFound, Reason: fmt.Sprintf("room %q not found", room)}
}

func Forbidden(reason string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason}
}

func NotInRoom(room string) *Error {
	return &Error{Kind: KindNotInRoom, Reason: fmt.Sprintf("not in room %q", room)}
}

func BackendDegraded(err error) *Error {
	return &Error{Kind: KindBackendDegraded, Reason: "service temporarily unavailable, try again", Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Reason: "internal error", Err: err}
}

// KindOf classifies err; anything that is not a *Error is Internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicReason returns the text that may be shown to the acting client.
func PublicReason(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return "internal error"
}
