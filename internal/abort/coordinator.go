// Package abort tracks cooperative per-session cancellation of answer streams.
package abort

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docchat/internal/metrics"
)

const (
	DefaultTTL = 30 * time.Minute

	storeTimeout = 500 * time.Millisecond
)

// Coordinator answers "was this session aborted?" for the streaming path.
// The local flag is checked first. The Store is touched on every poll: a
// record there forces the local flag on and has its expiry extended. Any
// error from the Store degrades to local-only behaviour.
type Coordinator struct {
	mu     sync.RWMutex
	flags  map[string]bool
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewCoordinator(store Store, ttl time.Duration, logger *slog.Logger) *Coordinator {
	if store == nil {
		store = NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		flags:  make(map[string]bool),
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Signal raises the abort flag. Safe to call repeatedly and concurrently.
func (c *Coordinator) Signal(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	metrics.AbortSignals.Inc()

	storeCtx, cancel := c.storeContext(ctx)
	defer cancel()
	if err := c.store.Set(storeCtx, sessionID, c.ttl); err != nil {
		c.swallow("set", sessionID, err)
	}

	c.mu.Lock()
	c.flags[sessionID] = true
	c.mu.Unlock()
}

// Reset clears the flag. Call only after the previous stream has drained.
func (c *Coordinator) Reset(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	storeCtx, cancel := c.storeContext(ctx)
	defer cancel()
	if err := c.store.Delete(storeCtx, sessionID); err != nil {
		c.swallow("delete", sessionID, err)
	}

	c.mu.Lock()
	delete(c.flags, sessionID)
	c.mu.Unlock()
}

// IsAborted is polled once per generated fragment.
func (c *Coordinator) IsAborted(ctx context.Context, sessionID string) bool {
	if sessionID == "" {
		return false
	}

	c.mu.RLock()
	local := c.flags[sessionID]
	c.mu.RUnlock()

	storeCtx, cancel := c.storeContext(ctx)
	defer cancel()
	present, err := c.store.Touch(storeCtx, sessionID, c.ttl)
	if err != nil {
		c.swallow("touch", sessionID, err)
	}
	if local {
		return true
	}
	if !present {
		return false
	}

	c.mu.Lock()
	c.flags[sessionID] = true
	c.mu.Unlock()
	return true
}

func (c *Coordinator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// The store call must not inherit a cancelled request context: abort is
	// usually signalled exactly when the client goes away.
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

func (c *Coordinator) swallow(op, sessionID string, err error) {
	metrics.SharedStoreErrors.WithLabelValues("abort", op).Inc()
	c.logger.Warn("abort store unavailable, using local flag", "op", op, "session_id", sessionID, "error", err)
}
