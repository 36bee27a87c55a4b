package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docchat/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

// Claim creates the session row for owner on first use and bumps updated_at
// otherwise. It reports false when the id belongs to another owner.
func (r *SessionRepository) Claim(ctx context.Context, sessionID, owner string) (bool, error) {
	session := model.Session{ID: sessionID, Owner: owner, Title: "New Chat"}
	if err := r.db.WithContext(ctx).Where(model.Session{ID: sessionID}).FirstOrCreate(&session).Error; err != nil {
		return false, fmt.Errorf("claim session failed: %w", err)
	}
	if session.Owner != owner {
		return false, nil
	}
	err := r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND owner = ?", sessionID, owner).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	if err != nil {
		return false, fmt.Errorf("claim session failed: %w", err)
	}
	return true, nil
}

func (r *SessionRepository) ListByOwner(ctx context.Context, owner string) ([]model.Session, error) {
	var sessions []model.Session
	if err := r.db.WithContext(ctx).Where("owner = ?", owner).Order("updated_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) GetByIDAndOwner(ctx context.Context, sessionID, owner string) (*model.Session, error) {
	var session model.Session
	if err := r.db.WithContext(ctx).Where("id = ? AND owner = ?", sessionID, owner).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) DeleteByIDAndOwner(ctx context.Context, sessionID, owner string) error {
	if err := r.db.WithContext(ctx).Where("id = ? AND owner = ?", sessionID, owner).Delete(&model.Session{}).Error; err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}
