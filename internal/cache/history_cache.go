package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"docchat/internal/model"
)

// HistoryCache keeps a short-lived copy of a session's message history.
// Writers invalidate it and leave a dirty marker so readers skip the cache
// until the persist worker has caught up.
type HistoryCache struct {
	client   *redisv9.Client
	ttl      time.Duration
	dirtyTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, ttl, dirtyTTL time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if dirtyTTL <= 0 {
		dirtyTTL = 5 * time.Second
	}
	return &HistoryCache{client: client, ttl: ttl, dirtyTTL: dirtyTTL}
}

// Get returns the cached history; hit is false when absent or dirty.
func (c *HistoryCache) Get(ctx context.Context, sessionID string) ([]model.Message, bool, error) {
	var getCmd *redisv9.StringCmd
	var dirtyCmd *redisv9.IntCmd
	_, err := c.client.Pipelined(ctx, func(p redisv9.Pipeliner) error {
		getCmd = p.Get(ctx, historyKey(sessionID))
		dirtyCmd = p.Exists(ctx, dirtyKey(sessionID))
		return nil
	})
	if err != nil && !errors.Is(err, redisv9.Nil) {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}
	if dirtyCmd.Val() > 0 {
		return nil, false, nil
	}
	raw, err := getCmd.Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

func (c *HistoryCache) Set(ctx context.Context, sessionID string, messages []model.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, historyKey(sessionID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached copy and marks the session dirty.
func (c *HistoryCache) Invalidate(ctx context.Context, sessionID string) error {
	_, err := c.client.TxPipelined(ctx, func(p redisv9.Pipeliner) error {
		p.Del(ctx, historyKey(sessionID))
		p.Set(ctx, dirtyKey(sessionID), "1", c.dirtyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate history failed: %w", err)
	}
	return nil
}

func historyKey(sessionID string) string {
	return "chat:history:" + sessionID
}

func dirtyKey(sessionID string) string {
	return "chat:history:dirty:" + sessionID
}
