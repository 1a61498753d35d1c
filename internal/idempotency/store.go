// Package idempotency remembers processor results by correlation token so a
// replayed checkout attempt can be answered without a second remote call.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds serialized results keyed by correlation token.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// DefaultTTL matches how long PayPal honours a PayPal-Request-Id for order
// creation (6 hours).
const DefaultTTL = 6 * time.Hour

type RedisStore struct {
	client      *redis.Client
	serviceName string
	ttl         time.Duration
}

func NewRedisStore(addr, serviceName string, ttl time.Duration) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), serviceName, ttl)
}

func NewRedisStoreWithClient(client *redis.Client, serviceName string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, serviceName: serviceName, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.GenerateKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get %s: %w", key, err)
	}
	return val, true, nil
}

// Put keeps the first value stored for a key.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.SetNX(ctx, s.GenerateKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) GenerateKey(key string) string {
	return fmt.Sprintf("%s:create-order:%s", s.serviceName, key)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
