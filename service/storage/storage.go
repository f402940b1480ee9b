package storage

import (
	"context"
	"time"
)

// Message is immutable once the gateway has assigned id and timestamp. The
// hub never mutates one after creation.
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	SenderID       string    `bson:"sender_id" json:"senderId"`
	Payload        []byte    `bson:"payload" json:"payload"`
	ContentType    string    `bson:"content_type" json:"contentType"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
}

// Directory resolves conversation membership. Consulted at connect time for
// the group snapshot and again on every send/read/typing call, so membership
// changes between connects are honored.
type Directory interface {
	GroupsFor(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	Members(ctx context.Context, conversationID string) ([]string, error)
}

// Gateway is the durable store behind the hub. PersistMessage must complete
// before any fan-out of the message happens.
type Gateway interface {
	PersistMessage(ctx context.Context, conversationID, senderID string, payload []byte, contentType string) (Message, error)
	UpsertReceipt(ctx context.Context, messageID, userID string, deliveredAt, readAt *time.Time) error
	RecentMessages(ctx context.Context, conversationID, beforeID string, limit int64) ([]Message, error)
}

// PresenceStore persists lastSeenAt across sessions. The online/offline flag
// itself is never stored; it is derived from live connections.
type PresenceStore interface {
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// TokenStore owns refresh credentials. Rotate atomically invalidates the
// presented token and issues a replacement; a second Rotate with the same
// token must fail.
type TokenStore interface {
	Issue(ctx context.Context, userID string, ttl time.Duration) (refreshToken string, err error)
	Rotate(ctx context.Context, refreshToken string, ttl time.Duration) (userID, newRefreshToken string, err error)
	Revoke(ctx context.Context, refreshToken string) error
}
