package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"docchat/internal/answer"
	"docchat/internal/job"
	"docchat/internal/model"
	"docchat/internal/retrieval"
)

const (
	MsgDocumentProcessing = "Document is being processed. Please wait."
	MsgStreamBusy         = "Another answer is still streaming for this session. Try again shortly."

	defaultDrainTimeout = 5 * time.Second
)

type AbortController interface {
	Signal(ctx context.Context, sessionID string)
	Reset(ctx context.Context, sessionID string)
	IsAborted(ctx context.Context, sessionID string) bool
}

type JobSource interface {
	ForSession(sessionID string) (job.Job, bool)
}

type BindingReader interface {
	GetBySessionID(ctx context.Context, sessionID string) (*model.ActiveDocument, error)
}

type Answerer interface {
	Answer(ctx context.Context, turn answer.Turn, emit answer.Emit) answer.Result
}

type ChatService struct {
	jobs         JobSource
	bindings     BindingReader
	sessions     SessionAccess
	aborts       AbortController
	streams      *Streams
	answers      Answerer
	history      *ChatHistory
	drainTimeout time.Duration
	logger       *slog.Logger
}

func NewChatService(
	jobs JobSource,
	bindings BindingReader,
	sessions SessionAccess,
	aborts AbortController,
	streams *Streams,
	answers Answerer,
	history *ChatHistory,
	logger *slog.Logger,
) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	if streams == nil {
		streams = NewStreams()
	}
	return &ChatService{
		jobs:         jobs,
		bindings:     bindings,
		sessions:     sessions,
		aborts:       aborts,
		streams:      streams,
		answers:      answers,
		history:      history,
		drainTimeout: defaultDrainTimeout,
		logger:       logger,
	}
}

type StreamInput struct {
	Owner     string
	SessionID string
	Question  string
	Mode      answer.Mode
}

// Stream answers one question, writing every unit through emit. Only input
// and ownership errors are returned; everything after them becomes stream
// content. The session is created for the owner on first use.
func (s *ChatService) Stream(ctx context.Context, input StreamInput, emit answer.Emit) error {
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return ErrInvalidInput
	}
	if err := claimSession(ctx, s.sessions, input.Owner, sessionID); err != nil {
		return err
	}
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return emit(answer.SystemMessage(answer.MsgEmptyQuestion).Encode())
	}

	if !s.claim(ctx, sessionID) {
		return emit(answer.SystemMessage(MsgStreamBusy).Encode())
	}
	end := s.streams.Begin(sessionID)
	defer end()

	scope, gate, ok := s.resolveScope(ctx, sessionID)
	if !ok {
		return emit(gate.Encode())
	}

	res := s.answers.Answer(ctx, answer.Turn{
		SessionID: sessionID,
		Question:  question,
		Mode:      input.Mode,
		Scope:     scope,
	}, emit)
	s.logger.Info("chat turn finished",
		"session_id", sessionID,
		"outcome", res.Outcome,
		"intent", res.Intent,
		"chunks", len(res.Chunks),
		"confidence", res.Confidence.Score,
	)
	return nil
}

// claim makes sure no earlier stream for the session is still running, then
// clears any abort flag left by it. A running stream is asked to stop and
// given drainTimeout to finish.
func (s *ChatService) claim(ctx context.Context, sessionID string) bool {
	if s.streams.Active(sessionID) {
		s.aborts.Signal(ctx, sessionID)
		waitCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
		drained := s.streams.Wait(waitCtx, sessionID)
		cancel()
		if !drained {
			s.logger.Warn("previous stream did not drain", "session_id", sessionID)
			return false
		}
	}
	s.aborts.Reset(ctx, sessionID)
	return true
}

// resolveScope gates the turn on the session's ingestion job. ok is false
// when gate must be sent instead of an answer. A zero scope means the
// session has no document.
func (s *ChatService) resolveScope(ctx context.Context, sessionID string) (retrieval.Scope, answer.Event, bool) {
	j, found := s.jobs.ForSession(sessionID)
	if !found {
		j, found = s.recover(ctx, sessionID)
	}
	if !found {
		return retrieval.Scope{}, answer.Event{}, true
	}

	switch j.Status {
	case job.StatusWaitForMetadata:
		return retrieval.Scope{}, answer.RequestMetadata(answer.FieldsForKeys(j.Missing)), false
	case job.StatusProcessing:
		return retrieval.Scope{}, answer.SystemMessage(MsgDocumentProcessing), false
	case job.StatusError:
		return retrieval.Scope{}, answer.ErrorEvent("Document processing failed: " + j.Error), false
	}
	return retrieval.Scope{DocumentID: j.DocumentID(), Revision: j.Revision()}, answer.Event{}, true
}

// recover rebuilds a READY snapshot from the durable binding, covering a
// restart that lost the in-memory job table.
func (s *ChatService) recover(ctx context.Context, sessionID string) (job.Job, bool) {
	if s.bindings == nil {
		return job.Job{}, false
	}
	b, err := s.bindings.GetBySessionID(ctx, sessionID)
	if err != nil {
		s.logger.Warn("load active document failed", "session_id", sessionID, "error", err)
		return job.Job{}, false
	}
	if b == nil {
		return job.Job{}, false
	}
	return job.NewRecovered(sessionID, b.DocumentID, b.Revision, b.Filename, b.UpdatedAt), true
}

func (s *ChatService) Abort(ctx context.Context, owner, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	if err := ownSession(ctx, s.sessions, owner, sessionID); err != nil {
		return err
	}
	s.aborts.Signal(ctx, sessionID)
	return nil
}

// ResetAbort refuses while a stream is still running, since that stream
// would otherwise miss the abort.
func (s *ChatService) ResetAbort(ctx context.Context, owner, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	if err := ownSession(ctx, s.sessions, owner, sessionID); err != nil {
		return err
	}
	if s.streams.Active(sessionID) {
		return ErrStreamInFlight
	}
	s.aborts.Reset(ctx, sessionID)
	return nil
}

type AbortStatus struct {
	SessionID string `json:"session_id"`
	Aborted   bool   `json:"aborted"`
	Streaming bool   `json:"streaming"`
}

func (s *ChatService) AbortStatus(ctx context.Context, owner, sessionID string) (AbortStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return AbortStatus{}, ErrInvalidInput
	}
	if err := ownSession(ctx, s.sessions, owner, sessionID); err != nil {
		return AbortStatus{}, err
	}
	return AbortStatus{
		SessionID: sessionID,
		Aborted:   s.aborts.IsAborted(ctx, sessionID),
		Streaming: s.streams.Active(sessionID),
	}, nil
}

func (s *ChatService) History(ctx context.Context, owner, sessionID string, limit int) ([]model.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidInput
	}
	if err := ownSession(ctx, s.sessions, owner, sessionID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, sessionID, limit)
}
