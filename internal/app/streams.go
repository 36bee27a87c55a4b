package app

import (
	"context"
	"sync"
)

// Streams counts answer streams in flight per session so the abort flag is
// only reset once every stream that could observe it has drained.
type Streams struct {
	mu      sync.Mutex
	flights map[string]*flight
}

type flight struct {
	n       int
	drained chan struct{}
}

func NewStreams() *Streams {
	return &Streams{flights: make(map[string]*flight)}
}

// Begin registers a stream; the returned func must be called exactly once.
func (s *Streams) Begin(sessionID string) (end func()) {
	s.mu.Lock()
	f, ok := s.flights[sessionID]
	if !ok {
		f = &flight{drained: make(chan struct{})}
		s.flights[sessionID] = f
	}
	f.n++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			f.n--
			if f.n == 0 {
				close(f.drained)
				delete(s.flights, sessionID)
			}
		})
	}
}

func (s *Streams) Active(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.flights[sessionID]
	return ok
}

// Wait blocks until the session has no stream in flight or ctx ends. It
// reports whether the session drained.
func (s *Streams) Wait(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	f, ok := s.flights[sessionID]
	s.mu.Unlock()
	if !ok {
		return true
	}
	select {
	case <-f.drained:
		return true
	case <-ctx.Done():
		return false
	}
}
