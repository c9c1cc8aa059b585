package domain

// Request is the closed set of client actions. Values are produced only by
// the validation boundary, so handlers never see unchecked input.
type Request interface {
	RequestType() RequestType
}

type RequestType int

const (
	RequestHello RequestType = iota
	RequestJoin
	RequestLeave
	RequestChat
	RequestTyping
	RequestReaction
	RequestStatus
)

func (t RequestType) String() string {
	switch t {
	case RequestHello:
		return "hello"
	case RequestJoin:
		return "join"
	case RequestLeave:
		return "leave"
	case RequestChat:
		return "chat"
	case RequestTyping:
		return "typing"
	case RequestReaction:
		return "reaction"
	case RequestStatus:
		return "status"
	default:
		return "unknown"
	}
}

type HelloRequest struct {
	Username string
}

type JoinRequest struct {
	Room string
}

type LeaveRequest struct{}

type ChatRequest struct {
	Room string
	Text string
}

type TypingRequest struct {
	Room   string
	Active bool
}

type ReactionRequest struct {
	Room      string
	MessageID int64
	Emoji     string
}

type StatusRequest struct {
	Status PresenceStatus
}

func (HelloRequest) RequestType() RequestType    { return RequestHello }
func (JoinRequest) RequestType() RequestType     { return RequestJoin }
func (LeaveRequest) RequestType() RequestType    { return RequestLeave }
func (ChatRequest) RequestType() RequestType     { return RequestChat }
func (TypingRequest) RequestType() RequestType   { return RequestTyping }
func (ReactionRequest) RequestType() RequestType { return RequestReaction }
func (StatusRequest) RequestType() RequestType   { return RequestStatus }
