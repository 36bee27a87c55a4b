package answer

import (
	"context"
	"sync"
	"testing"
	"time"

	"docchat/internal/ai"
	"docchat/internal/retrieval"
)

type fakeGenerator struct {
	fragments []string
	err       error
	remote    bool
	provider  string

	mu       sync.Mutex
	requests []ai.GenerateRequest
}

func (g *fakeGenerator) Model() string    { return "fake-model" }
func (g *fakeGenerator) Provider() string { return g.provider }
func (g *fakeGenerator) Remote() bool     { return g.remote }

func (g *fakeGenerator) Stream(ctx context.Context, req ai.GenerateRequest, onFragment func(string) error) error {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	for _, f := range g.fragments {
		if err := onFragment(f); err != nil {
			if err == ai.ErrStopped {
				return nil
			}
			return err
		}
	}
	return nil
}

type fakeAborts struct {
	mu      sync.Mutex
	aborted map[string]bool
	checks  int
}

func newFakeAborts() *fakeAborts { return &fakeAborts{aborted: map[string]bool{}} }

func (a *fakeAborts) IsAborted(_ context.Context, s string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks++
	return a.aborted[s]
}

func (a *fakeAborts) Signal(s string) {
	a.mu.Lock()
	a.aborted[s] = true
	a.mu.Unlock()
}

type exchange struct{ session, question, answer string }

type fakeHistory struct {
	recent []string
	saved  []exchange
}

func (h *fakeHistory) RecentUserQuestions(context.Context, string, int) ([]string, error) {
	return h.recent, nil
}

func (h *fakeHistory) SaveExchange(_ context.Context, s, q, a string) error {
	h.saved = append(h.saved, exchange{s, q, a})
	return nil
}

type fakeRetriever struct {
	chunks []retrieval.Chunk
	err    error
	reqs   []retrieval.Request
}

func (r *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) ([]retrieval.Chunk, error) {
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	if !req.Scope.Valid() {
		return nil, retrieval.ErrMissingScope
	}
	return append(append([]retrieval.Chunk{}, req.Carried...), r.chunks...), nil
}

type fakeMemory struct {
	ids   map[string][]string
	added []string
}

func (m *fakeMemory) UsedChunkIDs(_ context.Context, s string) ([]string, error) {
	return m.ids[s], nil
}

func (m *fakeMemory) AddUsedChunkIDs(_ context.Context, _ string, ids []string) error {
	m.added = append(m.added, ids...)
	return nil
}

type fakeLoader struct{ byID map[string]retrieval.Chunk }

func (l *fakeLoader) GetByIDs(_ context.Context, _ retrieval.Scope, ids []string) ([]retrieval.Chunk, error) {
	var out []retrieval.Chunk
	for _, id := range ids {
		if c, ok := l.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// sink records every emitted unit, split into raw text and events.
type sink struct {
	lines  []string
	text   []string
	events []string
	onText func(n int)
}

func (s *sink) emit(line string) error {
	s.lines = append(s.lines, line)
	if IsEvent(line) {
		s.events = append(s.events, line)
		return nil
	}
	s.text = append(s.text, line)
	if s.onText != nil {
		s.onText(len(s.text))
	}
	return nil
}

type fakeStats struct {
	err   error
	panic bool
	// release, when set, blocks RecordRetrieval until it is closed.
	release chan struct{}
	calls   chan RetrievalStat
}

func newFakeStats() *fakeStats {
	return &fakeStats{calls: make(chan RetrievalStat, 8)}
}

func (s *fakeStats) RecordRetrieval(_ context.Context, stat RetrievalStat) error {
	s.calls <- stat
	if s.release != nil {
		<-s.release
	}
	if s.panic {
		panic("stats table missing")
	}
	return s.err
}

func (s *fakeStats) next(t *testing.T) RetrievalStat {
	t.Helper()
	select {
	case stat := <-s.calls:
		return stat
	case <-time.After(time.Second):
		t.Fatal("retrieval stat was not recorded")
		return RetrievalStat{}
	}
}
