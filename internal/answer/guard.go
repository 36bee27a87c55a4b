package answer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"docchat/internal/metrics"
)

var ErrRateLimited = errors.New("remote generation rate limited")

// RateLimitedError is distinct from a generation failure and carries a
// retry hint for the client.
type RateLimitedError struct {
	Reason     string
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %s (retry after %s)", ErrRateLimited, e.Reason, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds the hint up, never below one second.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return max(1, int(math.Ceil(e.RetryAfter.Seconds())))
}

// Guard protects a remote generation backend: a one-minute request budget
// and a cap on concurrently open streams. It rejects rather than queues.
//
// The budget is a token bucket holding perMinute tokens and refilling at
// perMinute per minute, so any sixty-second window admits at most
// 2*perMinute requests and a sustained client gets perMinute.
type Guard struct {
	provider string
	limiter  *rate.Limiter
	streams  *semaphore.Weighted

	mu   sync.Mutex
	open int
	now  func() time.Time
}

func NewGuard(provider string, perMinute, maxStreams int) *Guard {
	if perMinute <= 0 {
		perMinute = 30
	}
	if maxStreams <= 0 {
		maxStreams = 2
	}
	return &Guard{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		streams:  semaphore.NewWeighted(int64(maxStreams)),
		now:      time.Now,
	}
}

// Acquire reserves one request and one stream slot. The returned release
// must be called when the stream closes.
func (g *Guard) Acquire() (release func(), err error) {
	if !g.streams.TryAcquire(1) {
		metrics.RateLimited.WithLabelValues("concurrency").Inc()
		return nil, &RateLimitedError{Reason: "too many concurrent streams", Provider: g.provider, RetryAfter: 5 * time.Second}
	}

	r := g.limiter.ReserveN(g.now(), 1)
	if delay := r.DelayFrom(g.now()); !r.OK() || delay > 0 {
		if !r.OK() {
			delay = time.Minute
		}
		r.CancelAt(g.now())
		g.streams.Release(1)
		metrics.RateLimited.WithLabelValues("requests_per_minute").Inc()
		return nil, &RateLimitedError{Reason: "request budget exhausted", Provider: g.provider, RetryAfter: delay}
	}

	g.mu.Lock()
	g.open++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.open--
			g.mu.Unlock()
			g.streams.Release(1)
		})
	}, nil
}

// Open is the number of streams currently holding a slot.
func (g *Guard) Open() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}
