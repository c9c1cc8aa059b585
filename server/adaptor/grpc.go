package adaptor

import (
	"context"
	"errors"
	"io"

	"github.com/ponyo877/lobby/rpc"
	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/logging"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type GRPC struct {
	sessions Sessions
	queries  Queries
}

var _ rpc.LobbyServer = (*GRPC)(nil)

func NewGRPC(sessions Sessions, queries Queries) *GRPC {
	return &GRPC{sessions: sessions, queries: queries}
}

// requestID returns the caller supplied x-request-id, if any.
func requestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if ids := md.Get("x-request-id"); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func (a *GRPC) Session(stream rpc.SessionServer) error {
	ctx := logging.ContextWithCorrelationID(stream.Context(), requestID(stream.Context()))
	remote := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}

	requests := make(chan map[string]any, 32)
	go func() {
		defer close(requests)
		for {
			in, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
					logging.Ctx(ctx).Debug().Err(err).Str("remote", remote).Msg("session stream closed with error")
				}
				return
			}
			select {
			case requests <- in.AsMap():
			case <-ctx.Done():
				return
			}
		}
	}()

	return a.sessions.Serve(ctx, remote, "grpc", requests, func(ev domain.Event) error {
		out, err := rpc.ToStruct(toFrame(ev))
		if err != nil {
			return err
		}
		return stream.Send(out)
	})
}

func decode[T any](in *structpb.Struct) (T, error) {
	var v T
	if err := rpc.FromStruct(in, &v); err != nil {
		return v, status.Error(codes.InvalidArgument, "malformed request")
	}
	return v, nil
}

func reply(v any) (*structpb.Struct, error) {
	out, err := rpc.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func (a *GRPC) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[rpc.HistoryRequest](in)
	if err != nil {
		return nil, err
	}
	msgs, err := a.queries.History(ctx, req.Room, req.Limit, req.BeforeID)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("room", req.Room).Msg("history failed")
		return nil, toStatus(err)
	}
	return reply(rpc.MessagesResponse{Messages: toMessageFrames(msgs)})
}

func (a *GRPC) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[rpc.SearchRequest](in)
	if err != nil {
		return nil, err
	}
	msgs, err := a.queries.Search(ctx, req.Room, req.Pattern)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("room", req.Room).Msg("search failed")
		return nil, toStatus(err)
	}
	return reply(rpc.MessagesResponse{Messages: toMessageFrames(msgs)})
}

func (a *GRPC) Presence(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[rpc.PresenceRequest](in)
	if err != nil {
		return nil, err
	}
	if req.User == "" {
		return nil, status.Error(codes.InvalidArgument, "user is required")
	}
	rec := a.queries.GetPresence(ctx, req.User)
	return reply(rpc.PresenceResponse{
		User:     rec.User,
		Status:   string(rec.Status),
		Room:     rec.CurrentRoom,
		LastSeen: rec.LastSeen,
	})
}

func (a *GRPC) Typing(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[rpc.TypingRequest](in)
	if err != nil {
		return nil, err
	}
	users, err := a.queries.GetTyping(ctx, req.Room)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(rpc.TypingResponse{Users: users})
}

func (a *GRPC) Rooms(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	rooms, err := a.queries.ListRooms(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	frames := make([]rpc.RoomFrame, len(rooms))
	for i, r := range rooms {
		frames[i] = toRoomFrame(r, len(a.queries.Members(r.Name)))
	}
	return reply(rpc.RoomsResponse{Rooms: frames})
}
