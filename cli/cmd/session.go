package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ponyo877/lobby/rpc"
)

// openSession says hello and joins room, returning once both are acked.
// Frames that arrive before the join ack are handed to seen.
func openSession(ctx context.Context, room string, seen func(rpc.Frame)) (*rpc.Session, error) {
	name, err := currentUsername()
	if err != nil {
		return nil, err
	}
	sess, err := lobbyClient.Session(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Hello(name); err != nil {
		return nil, err
	}
	if err := awaitAck(sess, "hello", nil); err != nil {
		return nil, err
	}
	if err := sess.Join(room); err != nil {
		return nil, err
	}
	if err := awaitAck(sess, "join", seen); err != nil {
		return nil, err
	}
	return sess, nil
}

// awaitAck reads frames until request is acked or rejected. Other frames
// are handed to seen when it is not nil.
func awaitAck(sess *rpc.Session, request string, seen func(rpc.Frame)) error {
	for {
		f, err := sess.Recv()
		if err != nil {
			return err
		}
		switch {
		case f.Type == "ack" && f.Text == request:
			return nil
		case f.Type == "error" && errorRequest(f) == request:
			return fmt.Errorf("%s rejected: %s", request, f.Text)
		case seen != nil:
			seen(f)
		}
	}
}

func errorRequest(f rpc.Frame) string {
	data, ok := f.Data.(map[string]any)
	if !ok {
		return ""
	}
	req, _ := data["request"].(string)
	return req
}

// inRoom reports whether f should be shown to a client sitting in room.
// Room events stamped with another room are stale and dropped.
func inRoom(f rpc.Frame, room string) bool {
	return f.Scope != "room" || f.Room == room
}

func printFrame(w io.Writer, f rpc.Frame) {
	ts := f.Timestamp.Local().Format("15:04:05")
	switch f.Type {
	case "chat":
		fmt.Fprintf(w, "[%s] %s: %s\n", ts, f.Sender, f.Text)
	case "joined", "left", "announcement", "system":
		fmt.Fprintf(w, "[%s] * %s\n", ts, f.Text)
	case "error":
		fmt.Fprintf(w, "[%s] ! %s\n", ts, f.Text)
	}
}

func printMessages(w io.Writer, msgs []rpc.MessageFrame) {
	for _, m := range msgs {
		fmt.Fprintf(w, "%6d [%s] %s: %s\n", m.ID, m.CreatedAt.Local().Format(time.DateTime), m.Author, m.Text)
	}
}
