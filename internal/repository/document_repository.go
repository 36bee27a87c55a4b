package repository

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"docchat/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// NextRevision returns one more than the highest numeric revision stored for
// the document, or "1". Non-numeric revisions are ignored.
func (r *DocumentRepository) NextRevision(ctx context.Context, documentID string) (string, error) {
	var revisions []string
	if err := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("document_id = ?", documentID).
		Pluck("revision", &revisions).Error; err != nil {
		return "", fmt.Errorf("list document revisions failed: %w", err)
	}
	highest := 0
	for _, rev := range revisions {
		if n, err := strconv.Atoi(rev); err == nil && n > highest {
			highest = n
		}
	}
	return strconv.Itoa(highest + 1), nil
}
