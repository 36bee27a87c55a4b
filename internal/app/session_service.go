package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"docchat/internal/job"
	"docchat/internal/model"
)

type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	ListByOwner(ctx context.Context, owner string) ([]model.Session, error)
	GetByIDAndOwner(ctx context.Context, sessionID, owner string) (*model.Session, error)
	DeleteByIDAndOwner(ctx context.Context, sessionID, owner string) error
}

type SessionJobs interface {
	Get(idOrSession string) (job.Job, bool)
	ClearSession(ctx context.Context, sessionID string)
}

type BindingDeleter interface {
	DeleteBySessionID(ctx context.Context, sessionID string) error
}

type SessionService struct {
	sessions SessionStore
	jobs     SessionJobs
	bindings BindingDeleter
	memory   UsedChunkClearer
	history  *ChatHistory
	aborts   AbortController
	streams  *Streams
	logger   *slog.Logger
}

func NewSessionService(
	sessions SessionStore,
	jobs SessionJobs,
	bindings BindingDeleter,
	memory UsedChunkClearer,
	history *ChatHistory,
	aborts AbortController,
	streams *Streams,
	logger *slog.Logger,
) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	if streams == nil {
		streams = NewStreams()
	}
	return &SessionService{
		sessions: sessions,
		jobs:     jobs,
		bindings: bindings,
		memory:   memory,
		history:  history,
		aborts:   aborts,
		streams:  streams,
		logger:   logger,
	}
}

func (s *SessionService) Create(ctx context.Context, owner, title string) (*model.Session, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrInvalidInput
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}
	session := &model.Session{ID: uuid.NewString(), Owner: owner, Title: title}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) List(ctx context.Context, owner string) ([]model.Session, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrInvalidInput
	}
	return s.sessions.ListByOwner(ctx, owner)
}

// Delete stops any running stream, then drops the session's job, binding,
// chunk memory and history. The abort flag is reset last, once the stream
// has drained.
func (s *SessionService) Delete(ctx context.Context, owner, sessionID string) error {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	session, err := s.sessions.GetByIDAndOwner(ctx, sessionID, owner)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}

	if s.streams.Active(sessionID) {
		s.aborts.Signal(ctx, sessionID)
		waitCtx, cancel := context.WithTimeout(ctx, defaultDrainTimeout)
		drained := s.streams.Wait(waitCtx, sessionID)
		cancel()
		if !drained {
			return ErrStreamInFlight
		}
	}

	s.jobs.ClearSession(ctx, sessionID)
	if err := s.bindings.DeleteBySessionID(ctx, sessionID); err != nil {
		return err
	}
	if s.memory != nil {
		if err := s.memory.ClearUsedChunkIDs(ctx, sessionID); err != nil {
			s.logger.Warn("clear used chunk ids failed", "session_id", sessionID, "error", err)
		}
	}
	if s.history != nil {
		if err := s.history.Delete(ctx, sessionID); err != nil {
			return err
		}
	}
	if err := s.sessions.DeleteByIDAndOwner(ctx, sessionID, owner); err != nil {
		return err
	}
	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// Job resolves a job id or a session id. Jobs of other owners read as not
// found.
func (s *SessionService) Job(ctx context.Context, owner, idOrSession string) (job.Job, error) {
	if strings.TrimSpace(owner) == "" {
		return job.Job{}, ErrInvalidInput
	}
	j, ok := s.jobs.Get(strings.TrimSpace(idOrSession))
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}
	session, err := s.sessions.GetByIDAndOwner(ctx, j.SessionID, owner)
	if err != nil {
		return job.Job{}, err
	}
	if session == nil {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, nil
}
