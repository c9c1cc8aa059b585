package adaptor

import (
	"errors"

	"github.com/ponyo877/lobby/rpc"
	"github.com/ponyo877/lobby/server/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func scopeName(s domain.Scope) string {
	switch s {
	case domain.ScopeRoom:
		return "room"
	case domain.ScopeDirect:
		return "direct"
	default:
		return "global"
	}
}

func toFrame(ev domain.Event) rpc.Frame {
	f := rpc.Frame{
		Type:      ev.Type.String(),
		Scope:     scopeName(ev.Scope),
		Room:      ev.Room,
		Sender:    ev.Sender,
		Text:      ev.Text,
		MessageID: ev.MessageID,
		Timestamp: ev.Timestamp,
	}
	switch data := ev.Data.(type) {
	case nil:
	case domain.Snapshot:
		f.Data = map[string]any{
			"history": toMessageFrames(data.History),
			"members": data.Members,
		}
	default:
		f.Data = data
	}
	return f
}

func toMessageFrames(msgs []domain.Message) []rpc.MessageFrame {
	frames := make([]rpc.MessageFrame, len(msgs))
	for i, m := range msgs {
		frames[i] = rpc.MessageFrame{
			ID:        m.ID,
			Room:      m.Room,
			Author:    m.Author,
			Text:      m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return frames
}

func toRoomFrame(r domain.Room, members int) rpc.RoomFrame {
	return rpc.RoomFrame{
		Name:       r.Name,
		Locked:     r.Flags.Locked,
		VIPOnly:    r.Flags.VIPOnly,
		StaffOnly:  r.Flags.StaffOnly,
		MinLevel:   r.Flags.MinLevel,
		SlowModeMS: r.SlowMode.Milliseconds(),
		Members:    members,
	}
}

// toStatus maps a core error onto a gRPC status carrying the public reason.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch domain.KindOf(err) {
	case domain.KindValidationFailed:
		code = codes.InvalidArgument
	case domain.KindRoomNotFound:
		code = codes.NotFound
	case domain.KindForbidden:
		code = codes.PermissionDenied
	case domain.KindNotInRoom:
		code = codes.FailedPrecondition
	case domain.KindBackendDegraded:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	var derr *domain.Error
	if !errors.As(err, &derr) {
		return status.Error(code, "internal error")
	}
	return status.Error(code, domain.PublicReason(err))
}
