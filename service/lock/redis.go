package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viant/overseer/internal/idgen"
	"github.com/viant/overseer/internal/log"
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process pointed at the same server.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// TryLock implements Locker with SET NX PX and a random token.
func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := idgen.New()
	redisKey := r.prefix + key
	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := releaseScript.Run(context.Background(), r.client, []string{redisKey}, token).Err(); err != nil {
			log.With("lock").WithError(err).Warnf("failed to release %s", redisKey)
		}
	}, true, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error { return r.client.Close() }

// NewRedis creates a redis backed locker. ttl bounds how long a crashed
// holder can keep a key.
func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: "overseer:lock:task:",
		ttl:    ttl,
	}
}
