package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia/cls/internal/domain/interfaces"
)

// RedisDedupeStore remembers processed webhook delivery ids in redis so
// duplicate deliveries are dropped across process restarts and replicas.
type RedisDedupeStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisDedupeStore(rdb redis.UniversalClient, ttl time.Duration) *RedisDedupeStore {
	return &RedisDedupeStore{
		rdb: rdb,
		ttl: ttl,
	}
}

func dedupeKey(id string) string {
	return fmt.Sprintf("webhook:delivery:%s", id)
}

func (s *RedisDedupeStore) Seen(ctx context.Context, id string) (bool, error) {
	// SET NX is the atomic mark-and-test: false means another delivery
	// already claimed the id.
	ok, err := s.rdb.SetNX(ctx, dedupeKey(id), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delivery id: %w", err)
	}
	return !ok, nil
}

func (s *RedisDedupeStore) Forget(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, dedupeKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to release delivery id: %w", err)
	}
	return nil
}

// MemoryDedupeStore is the in-process fallback, used in tests and when
// redis is not configured.
type MemoryDedupeStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDedupeStore() *MemoryDedupeStore {
	return &MemoryDedupeStore{
		seen: make(map[string]struct{}),
	}
}

func (s *MemoryDedupeStore) Seen(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return true, nil
	}
	s.seen[id] = struct{}{}
	return false, nil
}

func (s *MemoryDedupeStore) Forget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, id)
	return nil
}

var _ interfaces.DedupeStore = (*RedisDedupeStore)(nil)
var _ interfaces.DedupeStore = (*MemoryDedupeStore)(nil)
