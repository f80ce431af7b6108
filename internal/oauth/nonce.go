package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore remembers consumed state nonces so a callback URL works only once.
type NonceStore interface {
	// Consume marks nonce as used. It reports false if the nonce was seen before.
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// RedisNonceStore shares consumed nonces across API replicas.
type RedisNonceStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisNonceStore(client redis.UniversalClient, keyPrefix string) *RedisNonceStore {
	if keyPrefix == "" {
		keyPrefix = "oauth_state:"
	}
	return &RedisNonceStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisNonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.keyPrefix+nonce, 1, ttl).Result()
}

// MemoryNonceStore is the single-process fallback when no Redis is configured.
type MemoryNonceStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	now   func() time.Time
	sweep time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryNonceStore) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.After(s.sweep) {
		for k, exp := range s.seen {
			if !now.Before(exp) {
				delete(s.seen, k)
			}
		}
		s.sweep = now.Add(time.Minute)
	}
	if exp, ok := s.seen[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[nonce] = now.Add(ttl)
	return true, nil
}
