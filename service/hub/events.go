package hub

import (
	"encoding/json"
	"fmt"
)

// Outbound event set. This is a closed union: every server-to-client frame
// is one Event with exactly one payload variant matching Type. No
// name-string dispatch, no reflection.
type EventType string

const (
	EventReceiveMessage   EventType = "ReceiveMessage"
	EventMessageDelivered EventType = "MessageDelivered"
	EventMessageRead      EventType = "MessageRead"
	EventTypingUpdate     EventType = "TypingUpdate"
	EventPresenceChanged  EventType = "PresenceChanged"
	EventError            EventType = "Error"
)

const (
	StatusOnline  = "Online"
	StatusOffline = "Offline"
)

// ReceiveMessage fans a persisted message out to the conversation group.
// Payload is the opaque blob exactly as the sender supplied it.
type ReceiveMessage struct {
	ConversationID  string `json:"conversationId"`
	Payload         []byte `json:"payload"`
	SenderID        string `json:"senderId"`
	Timestamp       int64  `json:"timestamp"` // unix millis, server-assigned
	ServerMessageID string `json:"serverMessageId"`
	ClientMessageID string `json:"clientMessageId"`
}

// MessageDelivered is the sender-only acknowledgment carrying the caller's
// clientMessageId so the optimistic local copy can be reconciled.
type MessageDelivered struct {
	ConversationID  string `json:"conversationId"`
	MessageID       string `json:"messageId"`
	ClientMessageID string `json:"clientMessageId"`
}

type MessageRead struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ReadBy         string `json:"readBy"`
}

type TypingUpdate struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type PresenceChanged struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"` // Online | Offline
	LastSeen int64  `json:"lastSeen"`
}

type ErrorEvent struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// Event is the tagged envelope. Exactly one pointer is non-nil and it
// matches Type.
type Event struct {
	Type             EventType         `json:"type"`
	ReceiveMessage   *ReceiveMessage   `json:"receiveMessage,omitempty"`
	MessageDelivered *MessageDelivered `json:"messageDelivered,omitempty"`
	MessageRead      *MessageRead      `json:"messageRead,omitempty"`
	TypingUpdate     *TypingUpdate     `json:"typingUpdate,omitempty"`
	PresenceChanged  *PresenceChanged  `json:"presenceChanged,omitempty"`
	Error            *ErrorEvent       `json:"error,omitempty"`
}

func NewReceiveMessage(p ReceiveMessage) Event {
	return Event{Type: EventReceiveMessage, ReceiveMessage: &p}
}

func NewMessageDelivered(p MessageDelivered) Event {
	return Event{Type: EventMessageDelivered, MessageDelivered: &p}
}

func NewMessageRead(p MessageRead) Event {
	return Event{Type: EventMessageRead, MessageRead: &p}
}

func NewTypingUpdate(p TypingUpdate) Event {
	return Event{Type: EventTypingUpdate, TypingUpdate: &p}
}

func NewPresenceChanged(p PresenceChanged) Event {
	return Event{Type: EventPresenceChanged, PresenceChanged: &p}
}

func NewError(code int, message string) Event {
	return Event{Type: EventError, Error: &ErrorEvent{Code: code, Message: message}}
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses raw and checks the tag/payload pairing.
func DecodeEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := e.check(); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (e Event) check() error {
	var ok bool
	switch e.Type {
	case EventReceiveMessage:
		ok = e.ReceiveMessage != nil
	case EventMessageDelivered:
		ok = e.MessageDelivered != nil
	case EventMessageRead:
		ok = e.MessageRead != nil
	case EventTypingUpdate:
		ok = e.TypingUpdate != nil
	case EventPresenceChanged:
		ok = e.PresenceChanged != nil
	case EventError:
		ok = e.Error != nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if !ok {
		return fmt.Errorf("event %q missing payload", e.Type)
	}
	return nil
}
