package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"docchat/internal/answer"
	"docchat/internal/model"
)

var feedbackLabels = []string{
	model.FeedbackCorrect,
	model.FeedbackPartial,
	model.FeedbackIncorrect,
	model.FeedbackHallucination,
	model.FeedbackMissingContext,
}

type FeedbackStore interface {
	CreateFeedback(ctx context.Context, feedback *model.RetrievalFeedback) error
	CreateStat(ctx context.Context, stat *model.RetrievalStat) error
}

type FeedbackInput struct {
	SessionID  string
	JobID      string
	DocumentID string
	Revision   string
	Question   string
	Answer     string
	Label      string
	Score      *int
	Comment    string
	ChunkIDs   []string
}

// FeedbackService records user verdicts on answers. Only input and
// ownership problems are reported; a failed write is logged and dropped so
// feedback never breaks the caller.
type FeedbackService struct {
	store    FeedbackStore
	sessions SessionAccess
	logger   *slog.Logger
}

func NewFeedbackService(store FeedbackStore, sessions SessionAccess, logger *slog.Logger) *FeedbackService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackService{store: store, sessions: sessions, logger: logger}
}

func (s *FeedbackService) Submit(ctx context.Context, owner string, input FeedbackInput) error {
	documentID := strings.TrimSpace(input.DocumentID)
	revision := strings.TrimSpace(input.Revision)
	if documentID == "" || revision == "" {
		return fmt.Errorf("%w: company_document_id and revision_number are required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Question) == "" || strings.TrimSpace(input.Answer) == "" {
		return fmt.Errorf("%w: question and answer are required", ErrInvalidInput)
	}
	label := strings.ToLower(strings.TrimSpace(input.Label))
	if !slices.Contains(feedbackLabels, label) {
		return fmt.Errorf("%w: unknown feedback label %q", ErrInvalidInput, input.Label)
	}
	if input.Score != nil && (*input.Score < 1 || *input.Score > 5) {
		return fmt.Errorf("%w: feedback_score must be between 1 and 5", ErrInvalidInput)
	}

	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID != "" {
		if err := ownSession(ctx, s.sessions, owner, sessionID); err != nil {
			return err
		}
	}

	if s.store == nil {
		return nil
	}
	feedback := &model.RetrievalFeedback{
		SessionID:  sessionID,
		JobID:      strings.TrimSpace(input.JobID),
		DocumentID: documentID,
		Revision:   revision,
		Question:   input.Question,
		Answer:     input.Answer,
		Label:      label,
		Score:      input.Score,
		Comment:    strings.TrimSpace(input.Comment),
		ChunkIDs:   input.ChunkIDs,
	}
	if err := s.store.CreateFeedback(context.WithoutCancel(ctx), feedback); err != nil {
		s.logger.Warn("save retrieval feedback failed", "session_id", sessionID, "label", label, "error", err)
	}
	return nil
}

// RetrievalStats persists answer.RetrievalStat rows.
type RetrievalStats struct {
	store FeedbackStore
}

func NewRetrievalStats(store FeedbackStore) *RetrievalStats {
	return &RetrievalStats{store: store}
}

func (r *RetrievalStats) RecordRetrieval(ctx context.Context, stat answer.RetrievalStat) error {
	if !stat.Scope.Valid() {
		return nil
	}
	return r.store.CreateStat(ctx, &model.RetrievalStat{
		SessionID:       stat.SessionID,
		DocumentID:      stat.Scope.DocumentID,
		Revision:        stat.Scope.Revision,
		Question:        stat.Question,
		ChunkCount:      stat.ChunkCount,
		ChunkTypes:      stat.ChunkTypes,
		Sections:        stat.Sections,
		AvgScore:        stat.AvgScore,
		MaxScore:        stat.MaxScore,
		Confidence:      stat.Confidence.Score,
		ConfidenceLevel: string(stat.Confidence.Level),
		LatencyMS:       stat.Latency.Milliseconds(),
	})
}
