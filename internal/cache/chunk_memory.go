package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const DefaultUsedChunksTTL = 30 * time.Minute

// RedisChunkMemory remembers which chunk ids answered the previous turn of a
// session, so a follow-up question can bring them back.
type RedisChunkMemory struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewRedisChunkMemory(client *redisv9.Client, ttl time.Duration) *RedisChunkMemory {
	if ttl <= 0 {
		ttl = DefaultUsedChunksTTL
	}
	return &RedisChunkMemory{client: client, ttl: ttl}
}

func (m *RedisChunkMemory) UsedChunkIDs(ctx context.Context, sessionID string) ([]string, error) {
	raw, err := m.client.Get(ctx, usedChunksKey(sessionID)).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get used chunks failed: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal used chunks failed: %w", err)
	}
	return ids, nil
}

// AddUsedChunkIDs unions ids into the stored set and refreshes the TTL.
func (m *RedisChunkMemory) AddUsedChunkIDs(ctx context.Context, sessionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	existing, err := m.UsedChunkIDs(ctx, sessionID)
	if err != nil {
		existing = nil
	}
	payload, err := json.Marshal(union(existing, ids))
	if err != nil {
		return fmt.Errorf("marshal used chunks failed: %w", err)
	}
	if err := m.client.Set(ctx, usedChunksKey(sessionID), payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set used chunks failed: %w", err)
	}
	return nil
}

func (m *RedisChunkMemory) ClearUsedChunkIDs(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, usedChunksKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete used chunks failed: %w", err)
	}
	return nil
}

func usedChunksKey(sessionID string) string {
	return "rag:used_chunks:" + sessionID
}

// LocalChunkMemory is the in-process variant used when redis is disabled.
type LocalChunkMemory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]localEntry
	now     func() time.Time
}

type localEntry struct {
	ids     []string
	expires time.Time
}

func NewLocalChunkMemory(ttl time.Duration) *LocalChunkMemory {
	if ttl <= 0 {
		ttl = DefaultUsedChunksTTL
	}
	return &LocalChunkMemory{ttl: ttl, entries: make(map[string]localEntry), now: time.Now}
}

func (m *LocalChunkMemory) UsedChunkIDs(_ context.Context, sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok || !m.now().Before(e.expires) {
		delete(m.entries, sessionID)
		return nil, nil
	}
	return append([]string(nil), e.ids...), nil
}

func (m *LocalChunkMemory) AddUsedChunkIDs(ctx context.Context, sessionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	existing, _ := m.UsedChunkIDs(ctx, sessionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = localEntry{ids: union(existing, ids), expires: m.now().Add(m.ttl)}
	return nil
}

func (m *LocalChunkMemory) ClearUsedChunkIDs(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
