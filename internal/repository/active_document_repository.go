package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/internal/model"
)

type ActiveDocumentRepository struct {
	db *gorm.DB
}

func NewActiveDocumentRepository(db *gorm.DB) *ActiveDocumentRepository {
	return &ActiveDocumentRepository{db: db}
}

// Upsert relies on the session_id primary key; no in-process locking.
func (r *ActiveDocumentRepository) Upsert(ctx context.Context, doc *model.ActiveDocument) error {
	doc.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document_id", "revision", "filename", "updated_at"}),
	}).Create(doc).Error
	if err != nil {
		return fmt.Errorf("upsert active document failed: %w", err)
	}
	return nil
}

func (r *ActiveDocumentRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.ActiveDocument, error) {
	var doc model.ActiveDocument
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active document failed: %w", err)
	}
	return &doc, nil
}

func (r *ActiveDocumentRepository) DeleteBySessionID(ctx context.Context, sessionID string) error {
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.ActiveDocument{}).Error; err != nil {
		return fmt.Errorf("delete active document failed: %w", err)
	}
	return nil
}
