package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginGuard разрешает действие один раз за окно ttl для каждого ключа.
type LoginGuard struct {
	client *redis.Client
	prefix string
}

// NewLoginGuard создаёт guard поверх существующего клиента.
func NewLoginGuard(client *redis.Client) *LoginGuard {
	return &LoginGuard{client: client, prefix: defaultPrefix + "merge:"}
}

// Acquire возвращает true, если ключ захвачен впервые за окно ttl.
func (g *LoginGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire guard %s: %w", key, err)
	}
	return ok, nil
}

// Release снимает захват ключа.
func (g *LoginGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("release guard %s: %w", key, err)
	}
	return nil
}
