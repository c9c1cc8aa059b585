package validation

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

const MaxMessageLength = 2000

type HelloSchema struct {
	Username string `json:"username" validate:"required,username"`
}

type JoinSchema struct {
	Room string `json:"room" validate:"required,roomname"`
}

type ChatMessageSchema struct {
	Room string `json:"room" validate:"required,roomname"`
	Text string `json:"text" validate:"required,max=2000"`
}

type TypingSchema struct {
	Room   string `json:"room" validate:"required,roomname"`
	Active bool   `json:"active"`
}

type ReactionSchema struct {
	Room      string `json:"room" validate:"required,roomname"`
	MessageID int64  `json:"message_id" validate:"required,gt=0"`
	Emoji     string `json:"emoji" validate:"required,max=16"`
}

type StatusSchema struct {
	Status string `json:"status" validate:"required,oneof=online away"`
}

type HistorySchema struct {
	Room     string `json:"room" validate:"required,roomname"`
	Limit    int    `json:"limit" validate:"omitempty,min=1,max=200"`
	BeforeID int64  `json:"before_id" validate:"omitempty,gt=0"`
}

type SearchSchema struct {
	Room    string `json:"room" validate:"required,roomname"`
	Pattern string `json:"pattern" validate:"required,max=256"`
}

// Schema describes how to normalize one payload shape before its tags are
// checked.
type Schema[T any] struct {
	Name      string
	Normalize func(*T)
}

// Result holds either a normalized value or the reasons it was rejected.
type Result[T any] struct {
	Value T
	Err   *RequestValidationError
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

var (
	Hello = Schema[HelloSchema]{Name: "hello", Normalize: func(s *HelloSchema) {
		s.Username = strings.TrimSpace(SanitizeText(s.Username))
	}}
	Join = Schema[JoinSchema]{Name: "join", Normalize: func(s *JoinSchema) {
		s.Room = strings.TrimSpace(s.Room)
	}}
	ChatMessage = Schema[ChatMessageSchema]{Name: "chat", Normalize: func(s *ChatMessageSchema) {
		s.Room = strings.TrimSpace(s.Room)
		s.Text = strings.TrimSpace(SanitizeText(s.Text))
	}}
	Typing = Schema[TypingSchema]{Name: "typing", Normalize: func(s *TypingSchema) {
		s.Room = strings.TrimSpace(s.Room)
	}}
	Reaction = Schema[ReactionSchema]{Name: "reaction", Normalize: func(s *ReactionSchema) {
		s.Room = strings.TrimSpace(s.Room)
		s.Emoji = strings.TrimSpace(SanitizeText(s.Emoji))
	}}
	Status = Schema[StatusSchema]{Name: "status", Normalize: func(s *StatusSchema) {
		s.Status = strings.ToLower(strings.TrimSpace(s.Status))
	}}
	History = Schema[HistorySchema]{Name: "history", Normalize: func(s *HistorySchema) {
		s.Room = strings.TrimSpace(s.Room)
	}}
	Search = Schema[SearchSchema]{Name: "search", Normalize: func(s *SearchSchema) {
		s.Room = strings.TrimSpace(s.Room)
	}}
)

var unknownFieldPattern = regexp.MustCompile(`unknown field "([^"]*)"`)

// Validate decodes payload into T, normalizes it and checks its tags. It
// never panics; a failure anywhere yields a rejected Result.
func Validate[T any](schema Schema[T], payload map[string]any) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: newFieldError("payload", "internal", fmt.Sprintf("%s payload could not be processed", schema.Name))}
		}
	}()

	var value T
	if payload != nil {
		if verr := decodeStrict(payload, &value); verr != nil {
			return Result[T]{Err: verr}
		}
	}
	if schema.Normalize != nil {
		schema.Normalize(&value)
	}
	if verr := ValidateStruct(&value); verr != nil {
		return Result[T]{Err: verr}
	}
	return Result[T]{Value: value}
}

// jsonFieldPath maps a dotted Go field path reported by the decoder onto
// the json names of t. A leading type name is dropped and segments that
// are not Go field names are kept as they are.
func jsonFieldPath(t reflect.Type, path string) string {
	if path == "" {
		return ""
	}
	var out []string
	for i, part := range strings.Split(path, ".") {
		for t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t == nil || t.Kind() != reflect.Struct {
			out = append(out, part)
			t = nil
			continue
		}
		if i == 0 && part == t.Name() {
			continue
		}
		f, ok := t.FieldByName(part)
		if !ok {
			out = append(out, part)
			t = nil
			continue
		}
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			name = f.Name
		}
		out = append(out, name)
		t = f.Type
	}
	return strings.Join(out, ".")
}

func decodeStrict(payload map[string]any, out any) *RequestValidationError {
	raw, err := json.Marshal(payload)
	if err != nil {
		return newFieldError("payload", "json", "payload is not serializable")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := jsonFieldPath(reflect.TypeOf(out), typeErr.Field)
			if field == "" {
				field = "payload"
			}
			return newFieldError(field, "type", fmt.Sprintf("%s has the wrong type", field))
		}
		if m := unknownFieldPattern.FindStringSubmatch(err.Error()); m != nil {
			return newFieldError(m[1], "unknown", fmt.Sprintf("%s is not an accepted field", m[1]))
		}
		return newFieldError("payload", "json", "payload is malformed")
	}
	return nil
}
