package app

import (
	"context"
	"strings"

	"docchat/internal/model"
)

// SessionAccess checks that a session belongs to the caller. Claim creates
// the session for owner on first use and reports false when another owner
// already holds the id.
type SessionAccess interface {
	GetByIDAndOwner(ctx context.Context, sessionID, owner string) (*model.Session, error)
	Claim(ctx context.Context, sessionID, owner string) (bool, error)
}

// claimSession is used by operations that may open a session implicitly.
func claimSession(ctx context.Context, sessions SessionAccess, owner, sessionID string) error {
	if strings.TrimSpace(owner) == "" {
		return ErrInvalidInput
	}
	ok, err := sessions.Claim(ctx, sessionID, owner)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// ownSession requires an existing session held by owner.
func ownSession(ctx context.Context, sessions SessionAccess, owner, sessionID string) error {
	if strings.TrimSpace(owner) == "" {
		return ErrInvalidInput
	}
	session, err := sessions.GetByIDAndOwner(ctx, sessionID, owner)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	return nil
}
