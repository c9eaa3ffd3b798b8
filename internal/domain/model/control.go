package model

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

// ------------------- DIRECT CHAT WIRE TYPES -------------------
const (
	TypeInvite  = "invite_received"
	TypeAccept  = "invite_accepted"
	TypeReject  = "invite_rejected"
	TypeMessage = "message"
)

// ControlMessage is the closed set of handshake messages sent to control/<user>.
type ControlMessage interface {
	controlMessage()
}

var (
	_ ControlMessage = (*InviteRequest)(nil)
	_ ControlMessage = (*InviteAccept)(nil)
	_ ControlMessage = (*InviteReject)(nil)
)

type InviteRequest struct {
	Type      string    `json:"type"`
	From      string    `json:"from" validate:"required"`
	RequestID string    `json:"requestId" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

type InviteAccept struct {
	Type      string    `json:"type"`
	From      string    `json:"from" validate:"required"`
	To        string    `json:"to"`
	ChatTopic string    `json:"chatTopic"`
	RequestID string    `json:"requestId" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

type InviteReject struct {
	Type      string    `json:"type"`
	From      string    `json:"from" validate:"required"`
	To        string    `json:"to"`
	RequestID string    `json:"requestId" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

func (*InviteRequest) controlMessage() {}
func (*InviteAccept) controlMessage()  {}
func (*InviteReject) controlMessage()  {}

// ChatMessage is published on chat/<a>_<b>.
type ChatMessage struct {
	Type      string    `json:"type"`
	From      string    `json:"from" validate:"required"`
	Content   string    `json:"content"`
	MessageID string    `json:"messageId" validate:"required"`
	ChatTopic string    `json:"chatTopic"`
	Timestamp time.Time `json:"timestamp"`
}

// envelope reads the discriminant before the full decode.
type envelope struct {
	Type string `json:"type"`
}

func peekType(what string, payload []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", apperr.ProtocolParse(what, err)
	}
	return env.Type, nil
}

// validate checks decoded wire messages for the fields their handlers rely on.
var validate = validator.New()

func decode[T any](what string, payload []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(payload, v); err != nil {
		return nil, apperr.ProtocolParse(what, err)
	}
	if err := validate.Struct(v); err != nil {
		return nil, apperr.ProtocolParse(what, err)
	}
	return v, nil
}

// ParseControlMessage decodes a handshake message. Malformed JSON yields a
// ProtocolParse error, an unknown discriminant an UnknownMessage error.
func ParseControlMessage(payload []byte) (ControlMessage, error) {
	const what = "control message"
	typ, err := peekType(what, payload)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeInvite:
		return decode[InviteRequest](what, payload)
	case TypeAccept:
		return decode[InviteAccept](what, payload)
	case TypeReject:
		return decode[InviteReject](what, payload)
	default:
		return nil, apperr.UnknownMessage(what, typ)
	}
}

// ParseChatMessage decodes a direct chat message.
func ParseChatMessage(payload []byte) (*ChatMessage, error) {
	const what = "chat message"
	typ, err := peekType(what, payload)
	if err != nil {
		return nil, err
	}
	if typ != TypeMessage {
		return nil, apperr.UnknownMessage(what, typ)
	}
	return decode[ChatMessage](what, payload)
}
