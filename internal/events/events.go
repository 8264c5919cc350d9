// Package events defines the wire protocol spoken over a chat connection:
// event names, the JSON envelope, inbound payloads and outbound payloads.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/roomcast/internal/domain"
)

// Client to server events.
const (
	JoinRoom   = "join-room"
	LeaveRoom  = "leave-room"
	Message    = "message"
	Typing     = "typing"
	StopTyping = "stop-typing"
)

// Server to client events. Message is shared with the inbound set.
const (
	MessageHistory    = "message-history"
	RoomUsers         = "room-users"
	UserJoined        = "user-joined"
	UserLeft          = "user-left"
	UserTyping        = "user-typing"
	UserStoppedTyping = "user-stopped-typing"
	PresenceUpdate    = "presence-update"
	Notification      = "notification"
	Error             = "error"
)

// Inbound lists every event a client may send.
var Inbound = []string{JoinRoom, LeaveRoom, Message, Typing, StopTyping}

// ErrMalformed is returned for frames that are not a valid envelope.
var ErrMalformed = fmt.Errorf("%w: malformed event", domain.ErrValidation)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame is an encoded envelope ready to be written to a connection.
type Frame []byte

// Encode marshals an outbound event.
func Encode(event string, data any) (Frame, error) {
	out := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	return Frame(b), nil
}

// MustEncode is Encode for payloads that can not fail to marshal.
func MustEncode(event string, data any) Frame {
	f, err := Encode(event, data)
	if err != nil {
		panic(err)
	}
	return f
}

// Decode parses a raw client frame.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrMalformed
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", domain.ErrValidation)
	}
	return &env, nil
}

// RoomPayload carries the target room of join-room, leave-room, typing and stop-typing.
type RoomPayload struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

// MessagePayload is the body of an inbound message event. Text rules are
// enforced by the message pipeline.
type MessagePayload struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
	Text   string `json:"text"`
}

// Bind decodes env's data into a T and validates it.
func Bind[T any](env *Envelope) (*T, error) {
	var v T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("%w: malformed %s payload", domain.ErrValidation, env.Event)
		}
	}
	if err := domain.Validator().Struct(&v); err != nil {
		return nil, validationError(err)
	}
	return &v, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	fe := verrs[0]
	if fe.Field() == "RoomID" && fe.Tag() == "required" {
		return domain.ErrMissingRoom
	}
	return fmt.Errorf("%w: invalid %s", domain.ErrValidation, fe.Field())
}

// UserInfo is the display metadata of a user.
type UserInfo struct {
	UserID string  `json:"userId"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
}

// UserInfoFrom builds display metadata from a profile, falling back to the raw id.
func UserInfoFrom(id string, u *domain.User) UserInfo {
	if u == nil {
		return UserInfo{UserID: id, Name: id}
	}
	return UserInfo{UserID: id, Name: u.DisplayName(), Avatar: u.AvatarURL}
}

// ChatMessage is a persisted message decorated with its author's display metadata.
type ChatMessage struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"roomId"`
	UserID    string     `json:"userId"`
	Name      string     `json:"name"`
	Avatar    *string    `json:"avatar,omitempty"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

// NewChatMessage decorates m with author.
func NewChatMessage(m *domain.Message, author UserInfo) ChatMessage {
	return ChatMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.AuthorID,
		Name:      author.Name,
		Avatar:    author.Avatar,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}
}

// MessageHistoryPayload replays recent messages, oldest first.
type MessageHistoryPayload struct {
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

// RoomUsersPayload is the roster of a room at join time.
type RoomUsersPayload struct {
	RoomID string     `json:"roomId"`
	Users  []UserInfo `json:"users"`
}

// MembershipPayload announces a user entering or leaving a room.
type MembershipPayload struct {
	RoomID string `json:"roomId"`
	UserInfo
}

// TypingPayload announces typing activity.
type TypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Status is the online state carried by presence-update.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// PresencePayload announces a user's online/offline transition.
type PresencePayload struct {
	UserID string `json:"userId"`
	Status Status `json:"status"`
}

// ErrorPayload is sent for rejected client events.
type ErrorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// ErrorFrame encodes an error event for err. Only validation and membership
// errors keep their text; anything else is reported generically.
func ErrorFrame(event, roomID string, err error) Frame {
	return MustEncode(Error, ErrorPayload{Message: domain.PublicMessage(err), Event: event, RoomID: roomID})
}
