package storage

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	pkgerr "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"RelayIM/tools/errs"
)

// refresh key: im:refresh:<token>
// Value: user id, TTL is the refresh window.
func refreshKey(token string) string { return "im:refresh:" + token }

// Atomic rotation: consume the presented token and install the replacement
// in one round trip, so a replayed refresh can never mint a second pair.
// KEYS[1] = old refresh key
// KEYS[2] = new refresh key
// ARGV[1] = ttl seconds
// Returns the user id, or false when the old token is unknown/expired.
const luaRotate = `
local uid = redis.call("GET", KEYS[1])
if not uid then
  return false
end
redis.call("DEL", KEYS[1])
redis.call("SET", KEYS[2], uid, "EX", tonumber(ARGV[1]))
return uid
`

// RedisTokens implements TokenStore on redis with rotating opaque tokens.
type RedisTokens struct {
	rdb    *redis.Client
	rotate *redis.Script
}

func NewRedisTokens(rdb *redis.Client) *RedisTokens {
	return &RedisTokens{rdb: rdb, rotate: redis.NewScript(luaRotate)}
}

func (t *RedisTokens) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := t.rdb.Set(ctx, refreshKey(token), userID, ttl).Err(); err != nil {
		return "", pkgerr.Wrap(err, "issue refresh token")
	}
	return token, nil
}

func (t *RedisTokens) Rotate(ctx context.Context, refreshToken string, ttl time.Duration) (string, string, error) {
	next, err := newOpaqueToken()
	if err != nil {
		return "", "", err
	}
	res, err := t.rotate.Run(ctx, t.rdb,
		[]string{refreshKey(refreshToken), refreshKey(next)},
		int64(ttl/time.Second),
	).Result()
	if err == redis.Nil {
		return "", "", errs.ErrCredentialExpired.WithDetail("refresh token unknown")
	}
	if err != nil {
		return "", "", pkgerr.Wrap(err, "rotate refresh token")
	}
	userID, ok := res.(string)
	if !ok || userID == "" {
		return "", "", errs.ErrCredentialExpired.WithDetail("refresh token unknown")
	}
	return userID, next, nil
}

func (t *RedisTokens) Revoke(ctx context.Context, refreshToken string) error {
	if err := t.rdb.Del(ctx, refreshKey(refreshToken)).Err(); err != nil {
		return pkgerr.Wrap(err, "revoke refresh token")
	}
	return nil
}

func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", pkgerr.Wrap(err, "token entropy")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
