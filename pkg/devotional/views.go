package devotional

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/couple-devotional/pkg/content"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/progress"
	"gorm.io/gorm"
)

type ProgressView struct {
	UserID      string           `json:"userId"`
	Name        string           `json:"name"`
	Status      db.SessionStatus `json:"status"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

type SessionView struct {
	ID          string             `json:"id"`
	CoupleID    string             `json:"coupleId"`
	TemplateID  *string            `json:"templateId,omitempty"`
	PlanDayID   *string            `json:"planDayId,omitempty"`
	Status      db.SessionStatus   `json:"status"`
	StartedBy   string             `json:"startedBy"`
	CreatedAt   time.Time          `json:"createdAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	Devotional  content.Devotional `json:"devotional"`
	Progress    []ProgressView     `json:"progress"`
	MyStatus    db.SessionStatus   `json:"myStatus,omitempty"`
}

// Completion is the outcome of CompleteMyPart. Reward and Week are set only
// by the call that completed the session.
type Completion struct {
	Session          SessionView           `json:"session"`
	AlreadyCompleted bool                  `json:"alreadyCompleted"`
	SessionCompleted bool                  `json:"sessionCompleted"`
	Reward           *progress.LevelResult `json:"reward,omitempty"`
	Week             *progress.WeekView    `json:"week,omitempty"`
	DayMarked        bool                  `json:"dayMarked"`
}

type NoteView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Mine      bool      `json:"mine"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Aggregate derives the session status from its members' progress.
func Aggregate(completed, total int) db.SessionStatus {
	switch {
	case total > 0 && completed >= total:
		return db.StatusCompleted
	case completed > 0:
		return db.StatusWaitingPartner
	default:
		return db.StatusInProgress
	}
}

func (s *Service) view(ctx context.Context, tx *gorm.DB, session db.DevotionalSession, userID string) (SessionView, error) {
	v := SessionView{
		ID:          session.ID,
		CoupleID:    session.CoupleID,
		TemplateID:  session.TemplateID,
		PlanDayID:   session.PlanDayID,
		Status:      session.Status,
		StartedBy:   session.StartedBy,
		CreatedAt:   session.CreatedAt,
		CompletedAt: session.CompletedAt,
		Devotional: content.Devotional{
			ScriptureReference: session.ScriptureReference,
			Theme:              session.Theme,
			Questions:          []string{},
		},
		Progress: []ProgressView{},
	}

	if session.TemplateID != nil {
		var tpl db.DevotionalTemplate
		err := tx.WithContext(ctx).First(&tpl, "id = ?", *session.TemplateID).Error
		switch {
		case err == nil:
			v.Devotional = content.FromTemplate(tpl)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return SessionView{}, fmt.Errorf("load template: %w", err)
		}
	}

	var rows []db.SessionUserProgress
	if err := tx.WithContext(ctx).Where("session_id = ?", session.ID).Order("created_at, user_id").Find(&rows).Error; err != nil {
		return SessionView{}, fmt.Errorf("load session progress: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID)
	}
	names := map[string]string{}
	if len(ids) > 0 {
		var members []db.User
		if err := tx.WithContext(ctx).Select("id", "name").Where("id IN ?", ids).Find(&members).Error; err != nil {
			return SessionView{}, fmt.Errorf("load session members: %w", err)
		}
		for _, m := range members {
			names[m.ID] = m.Name
		}
	}
	for _, r := range rows {
		v.Progress = append(v.Progress, ProgressView{
			UserID:      r.UserID,
			Name:        names[r.UserID],
			Status:      r.Status,
			CompletedAt: r.CompletedAt,
		})
		if r.UserID == userID {
			v.MyStatus = r.Status
		}
	}
	return v, nil
}
