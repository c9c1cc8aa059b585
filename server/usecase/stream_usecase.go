package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/logging"
	"github.com/ponyo877/lobby/server/metrics"
	"github.com/ponyo877/lobby/server/validation"
)

// StreamUsecase drives one client session: requests come in as decoded
// maps, events go out through send in outbox order.
type StreamUsecase struct {
	rooms *RoomUsecase
}

func NewStreamUsecase(rooms *RoomUsecase) *StreamUsecase {
	return &StreamUsecase{rooms: rooms}
}

// Serve runs a session until requests is closed or ctx is done. Every
// failed request is answered with an error event to this connection only;
// the session keeps its room.
func (u *StreamUsecase) Serve(
	ctx context.Context,
	remote, transport string,
	requests <-chan map[string]any,
	send func(domain.Event) error,
) error {
	conn, err := u.rooms.Connect(ctx, remote)
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	metrics.ConnectionsTotal.WithLabelValues(transport).Inc()
	connID := conn.ID()
	ctx = logging.ContextWithConnID(ctx, connID)
	logger := logging.Ctx(ctx)
	logger.Info().Str("remote", remote).Str("transport", transport).Msg("session started")

	writerCtx, stopWriter := context.WithCancel(ctx)
	writerErr := make(chan error, 1)
	go func() {
		writerErr <- pump(writerCtx, conn, send)
	}()

	var serveErr error
loop:
	for {
		select {
		case payload, ok := <-requests:
			if !ok {
				break loop
			}
			u.Dispatch(ctx, connID, payload)
		case err := <-writerErr:
			serveErr = err
			writerErr = nil
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if err := u.rooms.Disconnect(context.WithoutCancel(ctx), connID); err != nil {
		logger.Warn().Err(err).Msg("disconnect cleanup failed")
	}
	stopWriter()
	if writerErr != nil {
		<-writerErr
	}
	logger.Info().Msg("session ended")
	return serveErr
}

// pump writes the connection's outbox to the client until the outbox is
// closed or a write fails.
func pump(ctx context.Context, conn *domain.Connection, send func(domain.Event) error) error {
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrConnectionClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := send(ev); err != nil {
			return fmt.Errorf("failed to send event: %w", err)
		}
	}
}

// Dispatch handles a single inbound payload for connID and replies with
// an ack or error event.
func (u *StreamUsecase) Dispatch(ctx context.Context, connID string, payload map[string]any) {
	req, err := validation.DecodeRequest(payload)
	if err != nil {
		kind, _ := payload["type"].(string)
		u.reject(ctx, connID, requestName(kind), err)
		return
	}

	ack, err := u.handle(ctx, connID, req)
	if err != nil {
		u.reject(ctx, connID, req.RequestType().String(), err)
		return
	}
	u.reply(ctx, connID, ack)
}

// reply queues a direct event; a connection closed meanwhile just misses it.
func (u *StreamUsecase) reply(ctx context.Context, connID string, ev domain.Event) {
	if err := u.rooms.registry.SendTo(connID, ev); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("event", ev.Type.String()).Msg("reply not delivered")
	}
}

func requestName(kind string) string {
	if kind == "" {
		return "unknown"
	}
	return kind
}

func (u *StreamUsecase) reject(ctx context.Context, connID, name string, err error) {
	kind := domain.KindOf(err)
	metrics.RequestErrors.WithLabelValues(name, kind.String()).Inc()
	ev := logging.Ctx(ctx).Debug()
	if kind == domain.KindBackendDegraded || kind == domain.KindInternal {
		ev = logging.Ctx(ctx).Warn()
	}
	ev.Err(err).Str("request", name).Str("kind", kind.String()).Msg("request rejected")
	u.reply(ctx, connID, domain.NewErrorEvent(name, err, u.rooms.now()))
}

func (u *StreamUsecase) handle(ctx context.Context, connID string, req domain.Request) (ack domain.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Ctx(ctx).Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("request handler panicked")
			err = domain.Internal(fmt.Errorf("panic: %v", r))
		}
	}()

	now := u.rooms.now
	switch r := req.(type) {
	case domain.HelloRequest:
		user, err := u.rooms.Authenticate(ctx, connID, r.Username)
		if err != nil {
			return domain.Event{}, err
		}
		ack := domain.NewAckEvent(domain.RequestHello, "", 0, now())
		ack.Sender = user.Username
		return ack, nil
	case domain.JoinRequest:
		if err := u.rooms.Join(ctx, connID, r.Room); err != nil {
			return domain.Event{}, err
		}
		return domain.NewAckEvent(domain.RequestJoin, r.Room, 0, now()), nil
	case domain.LeaveRequest:
		if err := u.rooms.Leave(ctx, connID); err != nil {
			return domain.Event{}, err
		}
		return domain.NewAckEvent(domain.RequestLeave, "", 0, now()), nil
	case domain.ChatRequest:
		msg, err := u.rooms.SendToRoom(ctx, connID, r.Room, r.Text)
		if err != nil {
			return domain.Event{}, err
		}
		return domain.NewAckEvent(domain.RequestChat, r.Room, msg.ID, now()), nil
	case domain.TypingRequest:
		if err := u.rooms.Typing(ctx, connID, r.Room, r.Active); err != nil {
			return domain.Event{}, err
		}
		return domain.NewAckEvent(domain.RequestTyping, r.Room, 0, now()), nil
	case domain.ReactionRequest:
		if err := u.rooms.React(ctx, connID, r.Room, r.MessageID, r.Emoji); err != nil {
			return domain.Event{}, err
		}
		return domain.NewAckEvent(domain.RequestReaction, r.Room, r.MessageID, now()), nil
	case domain.StatusRequest:
		rec, err := u.rooms.SetStatus(ctx, connID, r.Status)
		if err != nil {
			return domain.Event{}, err
		}
		return domain.NewAckEvent(domain.RequestStatus, rec.CurrentRoom, 0, now()), nil
	default:
		return domain.Event{}, domain.ValidationFailed(fmt.Sprintf("unsupported request %T", req))
	}
}

func (u *StreamUsecase) Stats() domain.RegistryStats {
	return u.rooms.Stats()
}
