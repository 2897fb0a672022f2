package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the discriminator carried in the "type" field of every
// frame the chat socket delivers.
type EventType string

const (
	TypeConnected        EventType = "connected"
	TypeNewMessage       EventType = "new_message"
	TypeMessageDeleted   EventType = "message_deleted"
	TypeUserTyping       EventType = "user_typing"
	TypeUserDisconnected EventType = "user_disconnected"
	TypeError            EventType = "error"

	// Outbound frame sent by the client.
	TypeTyping EventType = "typing"
)

// ErrMalformedEvent is returned by DecodeEvent for frames that are not JSON
// or lack the fields their tag requires.
var ErrMalformedEvent = errors.New("malformed event")

// Event is one decoded inbound socket frame. The concrete type is one of
// Connected, NewMessage, MessageDeleted, UserTyping, UserDisconnected,
// ServerError or Unknown.
type Event interface {
	Type() EventType
	isEvent()
}

type Connected struct {
	GroupID int64
	UserID  string
}

type NewMessage struct {
	Message Message
}

type MessageDeleted struct {
	MessageID string
}

type UserTyping struct {
	UserID   string
	UserName string
}

type UserDisconnected struct {
	UserID string
}

// ServerError is an error frame pushed by the server, usually in reply to a
// client frame it could not parse.
type ServerError struct {
	Message string
}

// Unknown carries a frame whose tag this client does not recognize.
type Unknown struct {
	Tag string
	Raw json.RawMessage
}

func (Connected) Type() EventType        { return TypeConnected }
func (NewMessage) Type() EventType       { return TypeNewMessage }
func (MessageDeleted) Type() EventType   { return TypeMessageDeleted }
func (UserTyping) Type() EventType       { return TypeUserTyping }
func (UserDisconnected) Type() EventType { return TypeUserDisconnected }
func (ServerError) Type() EventType      { return TypeError }
func (u Unknown) Type() EventType        { return EventType(u.Tag) }

func (Connected) isEvent()        {}
func (NewMessage) isEvent()       {}
func (MessageDeleted) isEvent()   {}
func (UserTyping) isEvent()       {}
func (UserDisconnected) isEvent() {}
func (ServerError) isEvent()      {}
func (Unknown) isEvent()          {}

// frame is the wire envelope. Only the fields relevant to the tag are set.
type frame struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"message_id,omitempty"`
	GroupID   int64     `json:"group_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	UserName  string    `json:"user_name,omitempty"`

	// "message" is an object for new_message and a string for error.
	RawMessage json.RawMessage `json:"message,omitempty"`
}

// DecodeEvent decodes one inbound frame into its Event variant.
func DecodeEvent(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch f.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)

	case TypeConnected:
		return Connected{GroupID: f.GroupID, UserID: f.UserID}, nil

	case TypeNewMessage:
		if len(f.RawMessage) == 0 {
			return nil, fmt.Errorf("%w: new_message without message", ErrMalformedEvent)
		}
		var msg Message
		if err := json.Unmarshal(f.RawMessage, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if msg.ID == "" {
			return nil, fmt.Errorf("%w: new_message without message_id", ErrMalformedEvent)
		}
		return NewMessage{Message: msg}, nil

	case TypeMessageDeleted:
		if f.MessageID == "" {
			return nil, fmt.Errorf("%w: message_deleted without message_id", ErrMalformedEvent)
		}
		return MessageDeleted{MessageID: f.MessageID}, nil

	case TypeUserTyping:
		return UserTyping{UserID: f.UserID, UserName: f.UserName}, nil

	case TypeUserDisconnected:
		return UserDisconnected{UserID: f.UserID}, nil

	case TypeError:
		var text string
		if len(f.RawMessage) > 0 {
			_ = json.Unmarshal(f.RawMessage, &text)
		}
		return ServerError{Message: text}, nil

	default:
		return Unknown{Tag: string(f.Type), Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// TypingFrame is the outbound typing notification.
type TypingFrame struct {
	Type EventType `json:"type"`
}

func NewTypingFrame() TypingFrame {
	return TypingFrame{Type: TypeTyping}
}
