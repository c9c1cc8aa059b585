package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens an insecure connection to addr.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (Resp, error) {
	var resp Resp
	in, err := ToStruct(req)
	if err != nil {
		return resp, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return resp, err
	}
	if err := FromStruct(out, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]MessageFrame, error) {
	resp, err := invoke[MessagesResponse](ctx, c, HistoryMethod, req)
	return resp.Messages, err
}

func (c *Client) Search(ctx context.Context, req SearchRequest) ([]MessageFrame, error) {
	resp, err := invoke[MessagesResponse](ctx, c, SearchMethod, req)
	return resp.Messages, err
}

func (c *Client) Presence(ctx context.Context, user string) (PresenceResponse, error) {
	return invoke[PresenceResponse](ctx, c, PresenceMethod, PresenceRequest{User: user})
}

func (c *Client) Typing(ctx context.Context, room string) ([]string, error) {
	resp, err := invoke[TypingResponse](ctx, c, TypingMethod, TypingRequest{Room: room})
	return resp.Users, err
}

func (c *Client) Rooms(ctx context.Context) ([]RoomFrame, error) {
	resp, err := invoke[RoomsResponse](ctx, c, RoomsMethod, RoomsRequest{})
	return resp.Rooms, err
}

// Session is the client side of a bidirectional session stream.
type Session struct {
	stream grpc.ClientStream
}

func (c *Client) Session(ctx context.Context) (*Session, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], SessionMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return &Session{stream: stream}, nil
}

// Send writes one request map, e.g. {"type": "join", "room": "main"}.
func (s *Session) Send(req map[string]any) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return s.stream.SendMsg(in)
}

func (s *Session) Hello(username string) error {
	return s.Send(map[string]any{"type": "hello", "username": username})
}

func (s *Session) Join(room string) error {
	return s.Send(map[string]any{"type": "join", "room": room})
}

func (s *Session) Leave() error {
	return s.Send(map[string]any{"type": "leave"})
}

func (s *Session) Chat(room, text string) error {
	return s.Send(map[string]any{"type": "chat", "room": room, "text": text})
}

func (s *Session) Typing(room string, active bool) error {
	return s.Send(map[string]any{"type": "typing", "room": room, "active": active})
}

func (s *Session) Recv() (Frame, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := FromStruct(out, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// CloseSend ends the request side; the server then ends the session.
func (s *Session) CloseSend() error {
	return s.stream.CloseSend()
}
