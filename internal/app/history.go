package app

import (
	"context"
	"log/slog"
	"time"

	"docchat/internal/model"
)

type MessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type MessageStore interface {
	Create(ctx context.Context, message *model.Message) error
	ListBySessionID(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
	ListRecentUserQuestions(ctx context.Context, sessionID string, limit int) ([]string, error)
	DeleteBySessionID(ctx context.Context, sessionID string) error
}

type HistoryCache interface {
	Get(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	Set(ctx context.Context, sessionID string, messages []model.Message) error
	Invalidate(ctx context.Context, sessionID string) error
}

// ChatHistory persists exchanges through the message queue when one is
// configured, writing straight to the database otherwise or when the
// publish fails. Reads go through the cache.
type ChatHistory struct {
	messages  MessageStore
	publisher MessagePublisher
	cache     HistoryCache
	logger    *slog.Logger
	now       func() time.Time
}

func NewChatHistory(messages MessageStore, publisher MessagePublisher, cache HistoryCache, logger *slog.Logger) *ChatHistory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHistory{messages: messages, publisher: publisher, cache: cache, logger: logger, now: time.Now}
}

func (h *ChatHistory) RecentUserQuestions(ctx context.Context, sessionID string, limit int) ([]string, error) {
	return h.messages.ListRecentUserQuestions(ctx, sessionID, limit)
}

func (h *ChatHistory) SaveExchange(ctx context.Context, sessionID, question, answer string) error {
	h.invalidate(ctx, sessionID)
	now := h.now()
	for i, m := range []model.Message{
		{SessionID: sessionID, Role: model.RoleUser, Content: question},
		{SessionID: sessionID, Role: model.RoleAssistant, Content: answer},
	} {
		m.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		if err := h.save(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (h *ChatHistory) save(ctx context.Context, m model.Message) error {
	if h.publisher != nil {
		err := h.publisher.Publish(ctx, m)
		if err == nil {
			return nil
		}
		h.logger.Warn("enqueue message failed, writing directly", "session_id", m.SessionID, "role", m.Role, "error", err)
	}
	return h.messages.Create(ctx, &m)
}

// List returns up to limit messages, oldest first.
func (h *ChatHistory) List(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	if h.cache != nil {
		cached, hit, err := h.cache.Get(ctx, sessionID)
		if err != nil {
			h.logger.Warn("read history cache failed", "session_id", sessionID, "error", err)
		}
		if hit {
			return trimMessages(cached, limit), nil
		}
	}

	messages, err := h.messages.ListBySessionID(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, sessionID, messages); err != nil {
			h.logger.Warn("write history cache failed", "session_id", sessionID, "error", err)
		}
	}
	return messages, nil
}

func (h *ChatHistory) Delete(ctx context.Context, sessionID string) error {
	h.invalidate(ctx, sessionID)
	return h.messages.DeleteBySessionID(ctx, sessionID)
}

func (h *ChatHistory) invalidate(ctx context.Context, sessionID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, sessionID); err != nil {
		h.logger.Warn("invalidate history cache failed", "session_id", sessionID, "error", err)
	}
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
