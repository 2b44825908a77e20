// pkg/db/models.go
package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SessionStatus string

const (
	StatusInProgress     SessionStatus = "IN_PROGRESS"
	StatusWaitingPartner SessionStatus = "WAITING_PARTNER"
	StatusCompleted      SessionStatus = "COMPLETED"
)

// Rank orders statuses along the forward-only lifecycle.
func (s SessionStatus) Rank() int {
	switch s {
	case StatusWaitingPartner:
		return 1
	case StatusCompleted:
		return 2
	default:
		return 0
	}
}

// ActiveStatuses are the non-terminal session statuses.
var ActiveStatuses = []SessionStatus{StatusInProgress, StatusWaitingPartner}

// WeekDays is the Monday-first completion vector of a week.
type WeekDays [7]bool

// NewWeekDaysJSON wraps days for storage in WeeklyProgress.DaysCompleted.
func NewWeekDaysJSON(days WeekDays) datatypes.JSONType[WeekDays] {
	return datatypes.NewJSONType(days)
}

func newID() string {
	return uuid.NewString()
}

type User struct {
	ID                string `gorm:"primaryKey;type:text"`
	Email             string `gorm:"uniqueIndex;size:320;not null"`
	Name              string `gorm:"size:120"`
	PasswordHash      string `gorm:"size:255;not null"`
	EmailVerifiedAt   *time.Time
	VerificationToken *string `gorm:"type:text;uniqueIndex"`
	CoupleID          *string `gorm:"type:text;index"`
	PushToken         string  `gorm:"size:255;not null;default:''"` // Telegram chat id
	LastSeenAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = newID()
	}
	return nil
}

type Couple struct {
	ID              string  `gorm:"primaryKey;type:text"`
	Code            string  `gorm:"uniqueIndex;size:16;not null"`
	EncryptionKey   *string `gorm:"type:text"` // wrapped under the master key
	XP              int     `gorm:"not null;default:0"`
	Level           int     `gorm:"not null;default:1"`
	LastGeneratedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Members []User `gorm:"foreignKey:CoupleID"`
}

func (c *Couple) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Level < 1 {
		c.Level = 1
	}
	return nil
}

type DevotionalTemplate struct {
	ID                   string         `gorm:"primaryKey;type:text"`
	ScriptureReference   string         `gorm:"uniqueIndex;size:120;not null"`
	Theme                string         `gorm:"not null;default:''"`
	CulturalContext      string         `gorm:"type:text;not null;default:''"`
	LiteraryContext      string         `gorm:"type:text;not null;default:''"`
	ChristConnection     string         `gorm:"type:text;not null;default:''"`
	ApplicationQuestions datatypes.JSON `gorm:"not null"`
	CentralTruth         string         `gorm:"type:text;not null;default:''"`
	KeyTerms             string         `gorm:"type:text;not null;default:''"`
	Commentary           string         `gorm:"type:text;not null;default:''"`
	ScriptureText        *string        `gorm:"type:text"`
	CreatedAt            time.Time
}

func (t *DevotionalTemplate) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}

type DevotionalSession struct {
	ID                 string        `gorm:"primaryKey;type:text"`
	CoupleID           string        `gorm:"type:text;not null;index:idx_session_couple_status"`
	TemplateID         *string       `gorm:"type:text;index"`
	PlanDayID          *string       `gorm:"type:text;index"`
	ScriptureReference string        `gorm:"size:120;not null;default:''"`
	Theme              string        `gorm:"not null;default:''"`
	Status             SessionStatus `gorm:"size:20;not null;default:IN_PROGRESS;index:idx_session_couple_status"`
	StartedBy          string        `gorm:"type:text;not null"`
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Template *DevotionalTemplate   `gorm:"foreignKey:TemplateID"`
	Progress []SessionUserProgress `gorm:"foreignKey:SessionID"`
}

func (s *DevotionalSession) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = newID()
	}
	return nil
}

type SessionUserProgress struct {
	ID          string        `gorm:"primaryKey;type:text"`
	SessionID   string        `gorm:"type:text;not null;uniqueIndex:idx_progress_session_user"`
	UserID      string        `gorm:"type:text;not null;uniqueIndex:idx_progress_session_user"`
	Status      SessionStatus `gorm:"size:20;not null;default:IN_PROGRESS"`
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SessionUserProgress) TableName() string {
	return "session_user_progress"
}

func (p *SessionUserProgress) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = newID()
	}
	return nil
}

type Note struct {
	ID        string `gorm:"primaryKey;type:text"`
	SessionID string `gorm:"type:text;not null;uniqueIndex:idx_note_session_user"`
	UserID    string `gorm:"type:text;not null;uniqueIndex:idx_note_session_user"`
	Content   string `gorm:"type:text;not null;default:''"` // ciphertext
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (n *Note) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = newID()
	}
	return nil
}

type WeeklyProgress struct {
	ID                string                       `gorm:"primaryKey;type:text"`
	CoupleID          string                       `gorm:"type:text;not null;uniqueIndex:idx_weekly_couple_week"`
	WeekStart         time.Time                    `gorm:"not null;uniqueIndex:idx_weekly_couple_week"`
	DaysCompleted     datatypes.JSONType[WeekDays] `gorm:"not null"`
	SpiritualGrowthXP int                          `gorm:"not null;default:0"` // Deprecated: superseded by Couple.XP
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (WeeklyProgress) TableName() string {
	return "weekly_progress"
}

func (w *WeeklyProgress) BeforeCreate(*gorm.DB) error {
	if w.ID == "" {
		w.ID = newID()
	}
	return nil
}

// DevotionalPlan is a premium multi-day reading plan owned by a couple.
type DevotionalPlan struct {
	ID          string `gorm:"primaryKey;type:text"`
	CoupleID    string `gorm:"type:text;not null;index"`
	Title       string `gorm:"not null;default:''"`
	Description string `gorm:"type:text;not null;default:''"`
	Duration    int    `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Days []PlanDay `gorm:"foreignKey:PlanID"`
}

func (p *DevotionalPlan) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = newID()
	}
	return nil
}

type PlanDay struct {
	ID                 string `gorm:"primaryKey;type:text"`
	PlanID             string `gorm:"type:text;not null;uniqueIndex:idx_plan_day_number"`
	DayNumber          int    `gorm:"not null;uniqueIndex:idx_plan_day_number"`
	Title              string `gorm:"not null;default:''"`
	Theme              string `gorm:"not null;default:''"`
	ScriptureReference string `gorm:"size:120;not null"`
	IsCompleted        bool   `gorm:"not null;default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Sessions []DevotionalSession `gorm:"foreignKey:PlanDayID"`
}

func (d *PlanDay) BeforeCreate(*gorm.DB) error {
	if d.ID == "" {
		d.ID = newID()
	}
	return nil
}

type Subscription struct {
	ID        string    `gorm:"primaryKey;type:text"`
	UserID    string    `gorm:"type:text;not null;index"`
	StartsAt  time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = newID()
	}
	return nil
}

// AllModels lists every table managed by Migrate.
func AllModels() []any {
	return []any{
		&User{},
		&Couple{},
		&DevotionalTemplate{},
		&DevotionalSession{},
		&SessionUserProgress{},
		&Note{},
		&WeeklyProgress{},
		&Subscription{},
		&DevotionalPlan{},
		&PlanDay{},
	}
}
