package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"docchat/internal/model"
)

// FeedbackRepository stores answer feedback and retrieval telemetry.
type FeedbackRepository struct {
	db *gorm.DB
}

func NewFeedbackRepository(db *gorm.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

func (r *FeedbackRepository) CreateFeedback(ctx context.Context, feedback *model.RetrievalFeedback) error {
	if err := r.db.WithContext(ctx).Create(feedback).Error; err != nil {
		return fmt.Errorf("create retrieval feedback failed: %w", err)
	}
	return nil
}

func (r *FeedbackRepository) CreateStat(ctx context.Context, stat *model.RetrievalStat) error {
	if err := r.db.WithContext(ctx).Create(stat).Error; err != nil {
		return fmt.Errorf("create retrieval stat failed: %w", err)
	}
	return nil
}

// ListRecentStats returns the newest stats for one document revision.
func (r *FeedbackRepository) ListRecentStats(ctx context.Context, documentID, revision string, limit int) ([]model.RetrievalStat, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var stats []model.RetrievalStat
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND revision = ?", documentID, revision).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("list retrieval stats failed: %w", err)
	}
	return stats, nil
}
