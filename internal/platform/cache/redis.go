package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 5 * time.Second

// New connects to addr. timeout bounds dialing and every read and write,
// and per-call context deadlines are honoured on top of it.
func New(ctx context.Context, addr string, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(options(addr, timeout))

	ctx, cancel := context.WithTimeout(ctx, client.Options().DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}

	return client, nil
}

func options(addr string, timeout time.Duration) *redis.Options {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &redis.Options{
		Addr:                  addr,
		DialTimeout:           timeout,
		ReadTimeout:           timeout,
		WriteTimeout:          timeout,
		ContextTimeoutEnabled: true,
	}
}
