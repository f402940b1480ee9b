package backplane

import (
	"context"
	"encoding/json"
	"sync"

	pkgerr "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"RelayIM/logger"
)

// Redis relays envelopes over one pub/sub channel shared by all relay
// instances.
type Redis struct {
	rdb     *redis.Client
	channel string

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRedis(rdb *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = "im:backplane"
	}
	return &Redis{rdb: rdb, channel: channel}
}

func (b *Redis) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return pkgerr.Wrap(err, "marshal envelope")
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return pkgerr.Wrap(err, "publish envelope")
	}
	return nil
}

func (b *Redis) Start(ctx context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return pkgerr.New("backplane already started")
	}
	b.pubsub = b.rdb.Subscribe(ctx, b.channel)
	// Force the subscription before returning, so a publish issued right
	// after Start is not lost.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.pubsub = nil
		return pkgerr.Wrap(err, "subscribe backplane")
	}
	ch := b.pubsub.Channel()
	go func() {
		for msg := range ch {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warnf("[Backplane] drop undecodable envelope: %v", err)
				continue
			}
			h(env)
		}
	}()
	return nil
}

func (b *Redis) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
