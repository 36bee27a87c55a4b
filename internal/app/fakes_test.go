package app

import (
	"context"
	"errors"
	"strings"
	"sync"

	"docchat/internal/abort"
	"docchat/internal/answer"
	"docchat/internal/ingest"
	"docchat/internal/job"
	"docchat/internal/model"
)

type fakeBindings struct {
	mu   sync.Mutex
	rows map[string]model.ActiveDocument
	err  error
}

func newFakeBindings() *fakeBindings {
	return &fakeBindings{rows: make(map[string]model.ActiveDocument)}
}

func (b *fakeBindings) Upsert(_ context.Context, doc *model.ActiveDocument) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[doc.SessionID] = *doc
	return nil
}

func (b *fakeBindings) GetBySessionID(_ context.Context, sessionID string) (*model.ActiveDocument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.rows[sessionID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (b *fakeBindings) DeleteBySessionID(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rows, sessionID)
	return nil
}

type fakeAnswerer struct {
	mu      sync.Mutex
	turns   []answer.Turn
	started chan struct{}
	release chan struct{}
	aborts  *abort.Coordinator
}

func (a *fakeAnswerer) Answer(ctx context.Context, turn answer.Turn, emit answer.Emit) answer.Result {
	a.mu.Lock()
	a.turns = append(a.turns, turn)
	a.mu.Unlock()
	if a.started != nil {
		a.started <- struct{}{}
	}
	if a.release != nil {
		<-a.release
	}
	if a.aborts != nil && a.aborts.IsAborted(ctx, turn.SessionID) {
		_ = emit(answer.ErrorEvent(answer.MsgAborted).Encode())
		return answer.Result{Outcome: answer.OutcomeAborted}
	}
	_ = emit("answer")
	return answer.Result{Outcome: answer.OutcomeCompleted}
}

func (a *fakeAnswerer) lastTurn() answer.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turns[len(a.turns)-1]
}

type fakeMessages struct {
	mu      sync.Mutex
	created []model.Message
	deleted []string
}

func (m *fakeMessages) Create(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, *msg)
	return nil
}

func (m *fakeMessages) ListBySessionID(_ context.Context, sessionID string, _ int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.created {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *fakeMessages) ListRecentUserQuestions(_ context.Context, sessionID string, limit int) ([]string, error) {
	msgs, _ := m.ListBySessionID(context.Background(), sessionID, 0)
	var out []string
	for _, msg := range msgs {
		if msg.Role == model.RoleUser {
			out = append(out, msg.Content)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *fakeMessages) DeleteBySessionID(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, sessionID)
	return nil
}

type fakePublisher struct {
	published []model.Message
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, msg model.Message) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

type fakeRevisions struct{ next string }

func (r fakeRevisions) NextRevision(context.Context, string) (string, error) {
	return r.next, nil
}

type fakeIndexer struct {
	req  ingest.Request
	err  error
	runs int
	// during runs once, inside the first Run.
	during func()
}

func (f *fakeIndexer) Run(_ context.Context, req ingest.Request, progress ingest.Progress) (ingest.Result, error) {
	f.req = req
	f.runs++
	if hook := f.during; hook != nil {
		f.during = nil
		hook()
	}
	if f.err != nil {
		return ingest.Result{}, f.err
	}
	progress(50, "halfway")
	return ingest.Result{Chunks: 4}, nil
}

type fakeMemory struct {
	mu      sync.Mutex
	cleared []string
}

func (m *fakeMemory) ClearUsedChunkIDs(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, sessionID)
	return nil
}

type lines struct {
	mu  sync.Mutex
	out []string
}

func (l *lines) emit(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out, line)
	return nil
}

func (l *lines) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.out, "")
}

func newTracker(aborts *abort.Coordinator, bindings *fakeBindings) *job.Tracker {
	return job.NewTracker(aborts, bindings, nil)
}

var errBoom = errors.New("boom")

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]model.Session
}

func newFakeSessions(rows ...model.Session) *fakeSessions {
	s := &fakeSessions{rows: make(map[string]model.Session)}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *fakeSessions) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[session.ID] = *session
	return nil
}

func (s *fakeSessions) Claim(_ context.Context, id, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		s.rows[id] = model.Session{ID: id, Owner: owner, Title: "New Chat"}
		return true, nil
	}
	return r.Owner == owner, nil
}

func (s *fakeSessions) ListByOwner(_ context.Context, owner string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Session
	for _, r := range s.rows {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeSessions) GetByIDAndOwner(_ context.Context, id, owner string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.Owner != owner {
		return nil, nil
	}
	return &r, nil
}

func (s *fakeSessions) DeleteByIDAndOwner(_ context.Context, id, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

type fakeFeedbackStore struct {
	mu       sync.Mutex
	feedback []model.RetrievalFeedback
	stats    []model.RetrievalStat
	err      error
}

func (f *fakeFeedbackStore) CreateFeedback(_ context.Context, fb *model.RetrievalFeedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.feedback = append(f.feedback, *fb)
	return nil
}

func (f *fakeFeedbackStore) CreateStat(_ context.Context, st *model.RetrievalStat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stats = append(f.stats, *st)
	return nil
}
