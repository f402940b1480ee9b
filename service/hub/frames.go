package hub

import (
	"encoding/json"
	"fmt"

	"RelayIM/tools/errs"
)

// Inbound operation set, mirrored by the client package.
type Op string

const (
	OpSendMessage Op = "SendMessage"
	OpMarkRead    Op = "MarkRead"
	OpStartTyping Op = "StartTyping"
	OpStopTyping  Op = "StopTyping"
	OpSetOnline   Op = "SetOnline"
)

// Frame is one caller-to-server operation. Payload travels base64 inside
// JSON; the relay never looks inside it.
type Frame struct {
	Op              Op       `json:"op"`
	ConversationID  string   `json:"conversationId,omitempty"`
	Payload         []byte   `json:"payload,omitempty"`
	ClientMessageID string   `json:"clientMessageId,omitempty"`
	ContentType     string   `json:"contentType,omitempty"`
	MessageID       string   `json:"messageId,omitempty"`
	MessageIDs      []string `json:"messageIds,omitempty"` // batch read marks
}

// Content-type hints the relay accepts. The hint routes rendering on the
// client; it says nothing about the blob itself.
var contentTypes = map[string]bool{
	"Text":  true,
	"Image": true,
	"File":  true,
	"Audio": true,
	"Video": true,
	"Poll":  true,
}

func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	return &f, nil
}

// Validate rejects malformed operations before anything touches the
// directory or the gateway.
func (f *Frame) Validate() error {
	switch f.Op {
	case OpSendMessage:
		if f.ConversationID == "" {
			return errs.ErrValidation.WithDetail("conversationId required")
		}
		if len(f.Payload) == 0 {
			return errs.ErrValidation.WithDetail("empty payload")
		}
		if f.ContentType == "" {
			f.ContentType = "Text"
		}
		if !contentTypes[f.ContentType] {
			return errs.ErrValidation.WithDetail("unknown content type " + f.ContentType)
		}
	case OpMarkRead:
		if f.ConversationID == "" {
			return errs.ErrValidation.WithDetail("conversationId required")
		}
		if f.MessageID == "" && len(f.MessageIDs) == 0 {
			return errs.ErrValidation.WithDetail("messageId required")
		}
	case OpStartTyping, OpStopTyping:
		if f.ConversationID == "" {
			return errs.ErrValidation.WithDetail("conversationId required")
		}
	case OpSetOnline:
		// No parameters.
	default:
		return errs.ErrValidation.WithDetail(fmt.Sprintf("unknown op %q", f.Op))
	}
	return nil
}

// ReadIDs collapses the single and batch forms of a MarkRead frame.
func (f *Frame) ReadIDs() []string {
	if len(f.MessageIDs) > 0 {
		return f.MessageIDs
	}
	if f.MessageID != "" {
		return []string{f.MessageID}
	}
	return nil
}
