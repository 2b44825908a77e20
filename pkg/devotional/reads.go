package devotional

import (
	"context"
	"errors"
	"fmt"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"gorm.io/gorm"
)

// Current returns the couple's unfinished session, or nil when there is none
// or the user is not paired.
func (s *Service) Current(ctx context.Context, userID string) (*SessionView, error) {
	tx := s.db.WithContext(ctx)
	coupleID, err := coupleOf(tx, userID)
	if err != nil {
		return nil, err
	}
	if coupleID == "" {
		return nil, nil
	}
	session, ok, err := s.activeSession(tx, coupleID)
	if err != nil || !ok {
		return nil, err
	}
	v, err := s.view(ctx, tx, session, userID)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Service) Get(ctx context.Context, sessionID, userID string) (SessionView, error) {
	tx := s.db.WithContext(ctx)
	session, err := s.loadSession(tx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if err := s.requireMember(tx, session.CoupleID, userID); err != nil {
		return SessionView{}, err
	}
	return s.view(ctx, tx, session, userID)
}

// History lists the couple's completed sessions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]SessionView, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	tx := s.db.WithContext(ctx)
	coupleID, err := coupleOf(tx, userID)
	if err != nil {
		return nil, err
	}
	out := []SessionView{}
	if coupleID == "" {
		return out, nil
	}

	var sessions []db.DevotionalSession
	if err := tx.Where("couple_id = ? AND status = ?", coupleID, db.StatusCompleted).
		Order("completed_at DESC").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	for _, session := range sessions {
		v, err := s.view(ctx, tx, session, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) loadSession(tx *gorm.DB, sessionID string) (db.DevotionalSession, error) {
	var session db.DevotionalSession
	err := tx.First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.DevotionalSession{}, apperr.NotFound("session not found")
	}
	if err != nil {
		return db.DevotionalSession{}, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}
