package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// inflightGuard is a token-owned Redis lock that expires on its own if the
// holder never releases it.
type inflightGuard struct {
	client redis.Cmdable
	script *redis.Script
}

func newInflightGuard(client redis.Cmdable) *inflightGuard {
	return &inflightGuard{client: client, script: redis.NewScript(releaseScript)}
}

func (g *inflightGuard) acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (g *inflightGuard) release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return g.script.Run(ctx, g.client, []string{key}, token).Err()
}
