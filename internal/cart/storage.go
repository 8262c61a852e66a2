package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/imrishuroy/bitsmart-orderflow/internal/redis"
)

// StorageNamespace prefixes every persisted cart key.
const StorageNamespace = "bitsmart_cart"

// StorageKey is the durable key of a buyer's cart.
func StorageKey(buyerID string) string {
	return StorageNamespace + ":" + buyerID
}

// Storage persists raw cart state per buyer.
type Storage interface {
	Load(ctx context.Context, buyerID string) (raw string, found bool, err error)
	Save(ctx context.Context, buyerID, raw string) error
	Delete(ctx context.Context, buyerID string) error
}

type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisStorage keeps carts in Redis with a sliding TTL.
type RedisStorage struct {
	client redisStore
	ttl    time.Duration
}

func NewRedisStorage(client redisStore, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

func (s *RedisStorage) Load(ctx context.Context, buyerID string) (string, bool, error) {
	raw, err := s.client.Get(ctx, StorageKey(buyerID))
	if errors.Is(err, redis.ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}

func (s *RedisStorage) Save(ctx context.Context, buyerID, raw string) error {
	return s.client.Set(ctx, StorageKey(buyerID), raw, s.ttl)
}

func (s *RedisStorage) Delete(ctx context.Context, buyerID string) error {
	return s.client.Del(ctx, StorageKey(buyerID))
}

// MemoryStorage is a process-local Storage for local runs and tests.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: map[string]string{}}
}

func (s *MemoryStorage) Load(_ context.Context, buyerID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[StorageKey(buyerID)]
	return raw, ok, nil
}

func (s *MemoryStorage) Save(_ context.Context, buyerID, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[StorageKey(buyerID)] = raw
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, buyerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, StorageKey(buyerID))
	return nil
}
