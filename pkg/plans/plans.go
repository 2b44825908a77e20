// Package plans manages the premium multi-day devotional plans of a couple.
package plans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/content"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"gorm.io/gorm"
)

const (
	MinDuration = 1
	MaxDuration = 30
)

type PremiumChecker interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}

type SessionRef struct {
	ID     string           `json:"id"`
	Status db.SessionStatus `json:"status"`
}

type DayView struct {
	ID                 string       `json:"id"`
	DayNumber          int          `json:"dayNumber"`
	Title              string       `json:"title"`
	Theme              string       `json:"theme"`
	ScriptureReference string       `json:"scriptureReference"`
	IsCompleted        bool         `json:"isCompleted"`
	Sessions           []SessionRef `json:"sessions"`
}

type PlanView struct {
	ID          string    `json:"id"`
	CoupleID    string    `json:"coupleId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Duration    int       `json:"duration"`
	CreatedAt   time.Time `json:"createdAt"`
	Days        []DayView `json:"days"`
}

func viewOf(p db.DevotionalPlan) PlanView {
	v := PlanView{
		ID:          p.ID,
		CoupleID:    p.CoupleID,
		Title:       p.Title,
		Description: p.Description,
		Duration:    p.Duration,
		CreatedAt:   p.CreatedAt,
		Days:        make([]DayView, 0, len(p.Days)),
	}
	for _, d := range p.Days {
		day := DayView{
			ID:                 d.ID,
			DayNumber:          d.DayNumber,
			Title:              d.Title,
			Theme:              d.Theme,
			ScriptureReference: d.ScriptureReference,
			IsCompleted:        d.IsCompleted,
			Sessions:           make([]SessionRef, 0, len(d.Sessions)),
		}
		for _, s := range d.Sessions {
			day.Sessions = append(day.Sessions, SessionRef{ID: s.ID, Status: s.Status})
		}
		v.Days = append(v.Days, day)
	}
	return v
}

type Service struct {
	db      *gorm.DB
	planner content.PlanGenerator
	premium PremiumChecker
}

func NewService(gdb *gorm.DB, planner content.PlanGenerator, premium PremiumChecker) *Service {
	if planner == nil {
		planner = content.FallbackPlanner{}
	}
	return &Service{db: gdb, planner: planner, premium: premium}
}

// Create drafts a plan of duration days around description and stores it for
// the user's couple.
func (s *Service) Create(ctx context.Context, userID, description string, duration int) (PlanView, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return PlanView{}, apperr.Validation("a plan description is required")
	}
	if duration < MinDuration || duration > MaxDuration {
		return PlanView{}, apperr.Validation(fmt.Sprintf("duration must be between %d and %d days", MinDuration, MaxDuration))
	}
	coupleID, err := s.premiumCouple(ctx, userID)
	if err != nil {
		return PlanView{}, err
	}

	draft, err := s.planner.GeneratePlan(ctx, description, duration)
	if err != nil {
		logger.Error("failed to generate plan", "couple_id", coupleID, "error", err)
		return PlanView{}, err
	}
	if len(draft.Days) == 0 {
		return PlanView{}, apperr.New(apperr.KindUpstreamUnavailable, "plan generator returned no days")
	}

	plan := db.DevotionalPlan{
		CoupleID:    coupleID,
		Title:       strings.TrimSpace(draft.Title),
		Description: description,
		Duration:    duration,
		Days:        make([]db.PlanDay, 0, len(draft.Days)),
	}
	for _, d := range draft.Days {
		plan.Days = append(plan.Days, db.PlanDay{
			DayNumber:          d.Day,
			Title:              strings.TrimSpace(d.Title),
			Theme:              strings.TrimSpace(d.Theme),
			ScriptureReference: strings.TrimSpace(d.ScriptureReference),
		})
	}
	if err := s.db.WithContext(ctx).Create(&plan).Error; err != nil {
		return PlanView{}, fmt.Errorf("create plan: %w", err)
	}
	logger.Info("devotional plan created", "plan_id", plan.ID, "couple_id", coupleID, "days", len(plan.Days))
	return s.Get(ctx, userID, plan.ID)
}

// List returns the couple's plans, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]PlanView, error) {
	coupleID, err := s.premiumCouple(ctx, userID)
	if err != nil {
		return nil, err
	}
	var rows []db.DevotionalPlan
	if err := withDays(s.db.WithContext(ctx)).
		Where("couple_id = ?", coupleID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	out := make([]PlanView, 0, len(rows))
	for _, p := range rows {
		out = append(out, viewOf(p))
	}
	return out, nil
}

// Get returns one plan of the user's couple. Plans of other couples are
// reported as missing.
func (s *Service) Get(ctx context.Context, userID, planID string) (PlanView, error) {
	coupleID, err := s.premiumCouple(ctx, userID)
	if err != nil {
		return PlanView{}, err
	}
	var plan db.DevotionalPlan
	err = withDays(s.db.WithContext(ctx)).First(&plan, "id = ? AND couple_id = ?", planID, coupleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PlanView{}, apperr.NotFound("plan not found")
	}
	if err != nil {
		return PlanView{}, fmt.Errorf("load plan: %w", err)
	}
	return viewOf(plan), nil
}

// Delete removes a plan and its days. Sessions started from it are kept in
// the couple's history.
func (s *Service) Delete(ctx context.Context, userID, planID string) error {
	coupleID, err := coupleOf(s.db.WithContext(ctx), userID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan db.DevotionalPlan
		err := db.ForUpdate(tx).Select("id").First(&plan, "id = ? AND couple_id = ?", planID, coupleID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("plan not found")
		}
		if err != nil {
			return fmt.Errorf("lock plan: %w", err)
		}
		days := tx.Model(&db.PlanDay{}).Select("id").Where("plan_id = ?", planID)
		if err := tx.Model(&db.DevotionalSession{}).Where("plan_day_id IN (?)", days).Update("plan_day_id", nil).Error; err != nil {
			return fmt.Errorf("detach sessions: %w", err)
		}
		if err := tx.Where("plan_id = ?", planID).Delete(&db.PlanDay{}).Error; err != nil {
			return fmt.Errorf("delete plan days: %w", err)
		}
		if err := tx.Delete(&db.DevotionalPlan{}, "id = ?", planID).Error; err != nil {
			return fmt.Errorf("delete plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("devotional plan deleted", "plan_id", planID, "user_id", userID)
	return nil
}

// premiumCouple returns the user's couple when any member holds a live
// subscription.
func (s *Service) premiumCouple(ctx context.Context, userID string) (string, error) {
	gdb := s.db.WithContext(ctx)
	coupleID, err := coupleOf(gdb, userID)
	if err != nil {
		return "", err
	}
	var members []db.User
	if err := gdb.Select("id").Where("couple_id = ?", coupleID).Find(&members).Error; err != nil {
		return "", fmt.Errorf("load members: %w", err)
	}
	if s.premium != nil {
		for _, m := range members {
			ok, err := s.premium.IsPremium(ctx, m.ID)
			if err != nil {
				return "", err
			}
			if ok {
				return coupleID, nil
			}
		}
	}
	return "", apperr.PremiumRequired("devotional plans need a premium subscription")
}

func coupleOf(gdb *gorm.DB, userID string) (string, error) {
	var user db.User
	err := gdb.Select("id", "couple_id").First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.NotFound("user not found")
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if user.CoupleID == nil {
		return "", apperr.Forbidden("pair with your partner before using plans")
	}
	return *user.CoupleID, nil
}

func withDays(gdb *gorm.DB) *gorm.DB {
	return gdb.
		Preload("Days", func(tx *gorm.DB) *gorm.DB { return tx.Order("day_number") }).
		Preload("Days.Sessions", func(tx *gorm.DB) *gorm.DB {
			return tx.Select("id", "plan_day_id", "status", "created_at").Order("created_at")
		})
}
