package validation

import (
	"fmt"

	"github.com/ponyo877/lobby/server/domain"
)

// DecodeRequest maps a {"type": ..., ...} payload onto one of the closed
// set of session requests. The returned error is a *domain.Error of kind
// ValidationFailed.
func DecodeRequest(payload map[string]any) (domain.Request, error) {
	kind, _ := payload["type"].(string)
	body := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != "type" {
			body[k] = v
		}
	}

	switch kind {
	case "hello":
		r := Validate(Hello, body)
		if !r.OK() {
			return nil, r.Err.DomainError()
		}
		return domain.HelloRequest{Username: r.Value.Username}, nil
	case "join":
		r := Validate(Join, body)
		if !r.OK() {
			return nil, r.Err.DomainError()
		}
		return domain.JoinRequest{Room: r.Value.Room}, nil
	case "leave":
		if len(body) > 0 {
			return nil, domain.ValidationFailed("leave takes no fields")
		}
		return domain.LeaveRequest{}, nil
	case "chat":
		r := Validate(ChatMessage, body)
		if !r.OK() {
			return nil, r.Err.DomainError()
		}
		return domain.ChatRequest{Room: r.Value.Room, Text: r.Value.Text}, nil
	case "typing":
		r := Validate(Typing, body)
		if !r.OK() {
			return nil, r.Err.DomainError()
		}
		return domain.TypingRequest{Room: r.Value.Room, Active: r.Value.Active}, nil
	case "reaction":
		r := Validate(Reaction, body)
		if !r.OK() {
			return nil, r.Err.DomainError()
		}
		return domain.ReactionRequest{Room: r.Value.Room, MessageID: r.Value.MessageID, Emoji: r.Value.Emoji}, nil
	case "status":
		r := Validate(Status, body)
		if !r.OK() {
			return nil, r.Err.DomainError()
		}
		return domain.StatusRequest{Status: domain.PresenceStatus(r.Value.Status)}, nil
	case "":
		return nil, domain.ValidationFailed("type is required", "type")
	default:
		return nil, domain.ValidationFailed(fmt.Sprintf("unknown request type %q", kind), "type")
	}
}
