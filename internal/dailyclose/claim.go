package dailyclose

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReleaseFunc gives up a held claim.
type ReleaseFunc func(ctx context.Context) error

// Claimer grants exclusive, expiring claims on a key.
type Claimer interface {
	// Acquire returns ErrCloseInProgress when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired claim re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer implements Claimer with SET NX PX.
type RedisClaimer struct {
	client *redis.Client
}

// NewRedisClaimer wraps a redis client.
func NewRedisClaimer(client *redis.Client) *RedisClaimer {
	return &RedisClaimer{client: client}
}

// Acquire claims key for ttl.
func (c *RedisClaimer) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if ttl <= 0 {
		return nil, errors.New("dailyclose: claim ttl must be positive")
	}
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, transient("acquire claim", err)
	}
	if !ok {
		return nil, ErrCloseInProgress
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("dailyclose: release claim %s: %w", key, err)
		}
		return nil
	}, nil
}
