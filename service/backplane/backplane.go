package backplane

import (
	"context"
	"encoding/json"
)

// Envelope is one fanned-out event crossing instance boundaries. The event
// body is carried pre-encoded; the receiving hub writes it to matching
// connections as-is. Delivery is at-least-once: a recipient with connections
// on two instances may see the event twice, and collapsing duplicates is a
// client concern (clientMessageId / server message id).
type Envelope struct {
	Origin         string          `json:"origin"`                // publishing node id
	ConversationID string          `json:"conversationId"`        // target group
	ExcludeUser    string          `json:"excludeUser,omitempty"` // skip this user's connections
	Event          json.RawMessage `json:"event"`                 // encoded hub event
}

// Handler consumes envelopes published by other instances. The hub drops
// envelopes whose Origin equals its own node id.
type Handler func(Envelope)

// Backplane relays group fan-out between relay instances behind one load
// balancer.
type Backplane interface {
	Publish(ctx context.Context, env Envelope) error
	Start(ctx context.Context, h Handler) error
	Close() error
}

// Noop is the single-instance backplane: publishes vanish, nothing arrives.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) Publish(context.Context, Envelope) error { return nil }
func (*Noop) Start(context.Context, Handler) error    { return nil }
func (*Noop) Close() error                            { return nil }
