package devotional

import (
	"context"
	"errors"
	"fmt"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Notes returns every member's note on the session in plaintext.
func (s *Service) Notes(ctx context.Context, sessionID, userID string) ([]NoteView, error) {
	tx := s.db.WithContext(ctx)
	session, err := s.loadSession(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(tx, session.CoupleID, userID); err != nil {
		return nil, err
	}
	key, err := s.coupleKey(tx, session.CoupleID)
	if err != nil {
		return nil, err
	}

	var notes []db.Note
	if err := tx.Where("session_id = ?", sessionID).Order("created_at, user_id").Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	out := make([]NoteView, 0, len(notes))
	for _, n := range notes {
		out = append(out, s.noteView(n, key, userID))
	}
	return out, nil
}

// UpdateMyNote replaces the user's own note. The couple key is provisioned on
// the first non-empty write.
func (s *Service) UpdateMyNote(ctx context.Context, sessionID, userID, plaintext string) (NoteView, error) {
	tx := s.db.WithContext(ctx)
	session, err := s.loadSession(tx, sessionID)
	if err != nil {
		return NoteView{}, err
	}
	if err := s.requireMember(tx, session.CoupleID, userID); err != nil {
		return NoteView{}, err
	}

	key, err := s.coupleKey(tx, session.CoupleID)
	if err != nil {
		return NoteView{}, err
	}
	stored := ""
	if plaintext != "" {
		if s.env == nil {
			return NoteView{}, errors.New("note encryption is not configured")
		}
		wrapped, err := s.env.EnsureCoupleKey(ctx, s.db, session.CoupleID, key)
		if err != nil {
			return NoteView{}, err
		}
		key = &wrapped
		if stored, err = s.env.EncryptNote(plaintext, wrapped); err != nil {
			return NoteView{}, fmt.Errorf("encrypt note: %w", err)
		}
	}

	now := s.now().UTC()
	note := db.Note{SessionID: sessionID, UserID: userID, Content: stored, UpdatedAt: now}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(&note).Error; err != nil {
		return NoteView{}, fmt.Errorf("save note: %w", err)
	}

	var saved db.Note
	if err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&saved).Error; err != nil {
		return NoteView{}, fmt.Errorf("reload note: %w", err)
	}
	return s.noteView(saved, key, userID), nil
}

func (s *Service) coupleKey(tx *gorm.DB, coupleID string) (*string, error) {
	var couple db.Couple
	err := tx.Select("id", "encryption_key").First(&couple, "id = ?", coupleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("couple not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load couple key: %w", err)
	}
	return couple.EncryptionKey, nil
}

func (s *Service) noteView(n db.Note, key *string, userID string) NoteView {
	content := n.Content
	if s.env != nil && key != nil {
		content = s.env.DecryptNote(n.Content, *key)
	}
	return NoteView{
		ID:        n.ID,
		SessionID: n.SessionID,
		UserID:    n.UserID,
		Content:   content,
		Mine:      n.UserID == userID,
		UpdatedAt: n.UpdatedAt,
	}
}
