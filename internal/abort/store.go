package abort

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// Store is the backing record for abort flags. The coordinator keeps its own
// in-process cache on top of whichever Store was selected at startup.
type Store interface {
	Set(ctx context.Context, sessionID string, ttl time.Duration) error
	// Touch reports whether the flag exists and extends its expiry when it does.
	Touch(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore keeps flags inside the process. Cancellation works within one
// process only.
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Set(_ context.Context, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[sessionID] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, sessionID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[sessionID]
	if !ok {
		return false, nil
	}
	now := s.now()
	if !now.Before(exp) {
		delete(s.expires, sessionID)
		return false, nil
	}
	s.expires[sessionID] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, sessionID)
	return nil
}

// RedisStore shares flags across processes through keys "abort:{session}".
type RedisStore struct {
	client *redisv9.Client
}

func NewRedisStore(client *redisv9.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Set(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set abort flag failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	key := s.key(sessionID)
	_, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redisv9.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get abort flag failed: %w", err)
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return true, fmt.Errorf("redis refresh abort flag failed: %w", err)
	}
	return true, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete abort flag failed: %w", err)
	}
	return nil
}

func (s *RedisStore) key(sessionID string) string {
	return "abort:" + sessionID
}
