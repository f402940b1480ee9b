package storage

import (
	"context"
	"time"

	pkgerr "github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"RelayIM/tools/errs"
	"RelayIM/tools/ids"
)

const (
	collMessages = "messages"
	collReceipts = "receipts"
	collMembers  = "conversation_members"
)

// MongoConfig mirrors the connection knobs we actually use.
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

// MongoStore implements Gateway and Directory on a mongo database.
// Messages and receipts are relay-owned collections; conversation_members is
// written by the conversation service and read-only here.
type MongoStore struct {
	db    *mongo.Database
	clock func() time.Time
}

func DialMongo(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, pkgerr.New("mongo uri is required")
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, pkgerr.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		return nil, pkgerr.Wrap(err, "mongo ping")
	}
	return &MongoStore{db: cli.Database(cfg.Database), clock: time.Now}, nil
}

func (s *MongoStore) PersistMessage(ctx context.Context, conversationID, senderID string, payload []byte, contentType string) (Message, error) {
	msg := Message{
		ID:             ids.GenerateString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Payload:        payload,
		ContentType:    contentType,
		CreatedAt:      s.clock().UTC(),
	}
	if _, err := s.db.Collection(collMessages).InsertOne(ctx, msg); err != nil {
		return Message{}, errs.ErrPersistence.WithDetail(err.Error())
	}
	return msg, nil
}

// UpsertReceipt sets the timestamps only where they are still null. An
// already-set delivered_at or read_at is never overwritten, which keeps both
// monotonic no matter how calls interleave.
func (s *MongoStore) UpsertReceipt(ctx context.Context, messageID, userID string, deliveredAt, readAt *time.Time) error {
	set := bson.M{
		"message_id": messageID,
		"user_id":    userID,
	}
	if deliveredAt != nil {
		set["delivered_at"] = bson.M{"$ifNull": bson.A{"$delivered_at", deliveredAt.UTC()}}
	}
	if readAt != nil {
		set["read_at"] = bson.M{"$ifNull": bson.A{"$read_at", readAt.UTC()}}
	}
	_, err := s.db.Collection(collReceipts).UpdateOne(ctx,
		bson.M{"message_id": messageID, "user_id": userID},
		mongo.Pipeline{{{Key: "$set", Value: set}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errs.ErrPersistence.WithDetail(err.Error())
	}
	return nil
}

func (s *MongoStore) RecentMessages(ctx context.Context, conversationID, beforeID string, limit int64) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	filter := bson.M{"conversation_id": conversationID}
	if beforeID != "" {
		filter["_id"] = bson.M{"$lt": beforeID}
	}
	cur, err := s.db.Collection(collMessages).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, pkgerr.Wrap(err, "recent messages")
	}
	defer cur.Close(ctx)

	var out []Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, pkgerr.Wrap(err, "decode messages")
	}
	return out, nil
}

func (s *MongoStore) GroupsFor(ctx context.Context, userID string) ([]string, error) {
	raw, err := s.db.Collection(collMembers).Distinct(ctx, "conversation_id", bson.M{"user_id": userID})
	if err != nil {
		return nil, pkgerr.Wrap(err, "groups for user")
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MongoStore) Members(ctx context.Context, conversationID string) ([]string, error) {
	raw, err := s.db.Collection(collMembers).Distinct(ctx, "user_id", bson.M{"conversation_id": conversationID})
	if err != nil {
		return nil, pkgerr.Wrap(err, "conversation members")
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MongoStore) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	n, err := s.db.Collection(collMembers).CountDocuments(ctx,
		bson.M{"conversation_id": conversationID, "user_id": userID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, pkgerr.Wrap(err, "membership check")
	}
	return n > 0, nil
}
