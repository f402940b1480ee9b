package storage

import (
	"context"
	"strconv"
	"time"

	pkgerr "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// lastSeen key: im:lastseen:<user>
// Value: unix millis of the most recent disconnect.
func lastSeenKey(user string) string { return "im:lastseen:" + user }

// RedisPresence keeps lastSeenAt in redis. It deliberately does not store
// an online flag; liveness is owned by the hub's connection table.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func (p *RedisPresence) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	if err := p.rdb.Set(ctx, lastSeenKey(userID), at.UnixMilli(), 0).Err(); err != nil {
		return pkgerr.Wrap(err, "touch last seen")
	}
	return nil
}

func (p *RedisPresence) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	val, err := p.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, pkgerr.Wrap(err, "get last seen")
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, pkgerr.Wrap(err, "parse last seen")
	}
	return time.UnixMilli(ms), true, nil
}
