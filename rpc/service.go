package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "lobby.v1.Lobby"

const (
	SessionMethod  = "/" + ServiceName + "/Session"
	HistoryMethod  = "/" + ServiceName + "/History"
	SearchMethod   = "/" + ServiceName + "/Search"
	PresenceMethod = "/" + ServiceName + "/Presence"
	TypingMethod   = "/" + ServiceName + "/Typing"
	RoomsMethod    = "/" + ServiceName + "/Rooms"
)

// LobbyServer is the server API of the lobby service. Requests and
// responses are Structs holding the frames of this package.
type LobbyServer interface {
	Session(SessionServer) error
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Presence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Typing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Rooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type SessionServer interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ServerStream
}

type sessionServer struct {
	grpc.ServerStream
}

func (s *sessionServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func (s *sessionServer) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func RegisterLobbyServer(s grpc.ServiceRegistrar, srv LobbyServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(LobbyServer).Session(&sessionServer{stream})
}

func unaryHandler(method string, call func(LobbyServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LobbyServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LobbyServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LobbyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "History", Handler: unaryHandler(HistoryMethod, LobbyServer.History)},
		{MethodName: "Search", Handler: unaryHandler(SearchMethod, LobbyServer.Search)},
		{MethodName: "Presence", Handler: unaryHandler(PresenceMethod, LobbyServer.Presence)},
		{MethodName: "Typing", Handler: unaryHandler(TypingMethod, LobbyServer.Typing)},
		{MethodName: "Rooms", Handler: unaryHandler(RoomsMethod, LobbyServer.Rooms)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "lobby/v1/lobby.proto",
}
