package repository

import (
	"context"
	"fmt"
	"slices"

	"gorm.io/gorm"

	"docchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListBySessionID(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var messages []model.Message
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC, id ASC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentUserQuestions returns the latest user questions, oldest first.
func (r *MessageRepository) ListRecentUserQuestions(ctx context.Context, sessionID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	var contents []string
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("session_id = ? AND role = ?", sessionID, model.RoleUser).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Pluck("content", &contents).Error
	if err != nil {
		return nil, fmt.Errorf("list recent user messages failed: %w", err)
	}
	slices.Reverse(contents)
	return contents, nil
}

func (r *MessageRepository) DeleteBySessionID(ctx context.Context, sessionID string) error {
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages failed: %w", err)
	}
	return nil
}
