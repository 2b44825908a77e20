// Package devotional runs the shared study session of a couple: starting it,
// tracking each member's completion, rewarding the couple when both finish and
// keeping the members' encrypted notes.
package devotional

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/envelope"
	"github.com/smith3v/couple-devotional/pkg/gate"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"github.com/smith3v/couple-devotional/pkg/notify"
	"github.com/smith3v/couple-devotional/pkg/progress"
	"gorm.io/gorm"
)

const (
	DefaultReward        = 10
	defaultNotifyTimeout = 10 * time.Second
	defaultHistoryLimit  = 20
	maxHistoryLimit      = 100
)

// StreakLedger records completed days inside the completing transaction.
type StreakLedger interface {
	MarkTodayCompleted(ctx context.Context, tx *gorm.DB, coupleID string, now time.Time) (progress.WeekView, bool, error)
}

// TemplateResolver finds or generates the study for a reference or topic.
type TemplateResolver interface {
	Resolve(ctx context.Context, input, theme string, premium bool) (db.DevotionalTemplate, error)
}

// SlotGate rations generation to one attempt per couple per local day. A slot
// is released again when no session came out of it.
type SlotGate interface {
	Claim(ctx context.Context, coupleID string, now time.Time) (gate.Slot, bool, error)
	Release(ctx context.Context, slot gate.Slot) error
}

type PremiumChecker interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}

type Deps struct {
	Envelope *envelope.Envelope
	Ledger   StreakLedger
	Library  TemplateResolver
	Gate     SlotGate
	Premium  PremiumChecker
	Notifier notify.Notifier

	// Reward is the couple XP granted when a session completes.
	Reward        int
	NotifyTimeout time.Duration
	Now           func() time.Time
}

type Service struct {
	db            *gorm.DB
	env           *envelope.Envelope
	ledger        StreakLedger
	library       TemplateResolver
	gate          SlotGate
	premium       PremiumChecker
	notifier      notify.Notifier
	reward        int
	notifyTimeout time.Duration
	now           func() time.Time
	pending       sync.WaitGroup
}

func NewService(gdb *gorm.DB, deps Deps) *Service {
	s := &Service{
		db:            gdb,
		env:           deps.Envelope,
		ledger:        deps.Ledger,
		library:       deps.Library,
		gate:          deps.Gate,
		premium:       deps.Premium,
		notifier:      deps.Notifier,
		reward:        deps.Reward,
		notifyTimeout: deps.NotifyTimeout,
		now:           deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.reward <= 0 {
		s.reward = DefaultReward
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = defaultNotifyTimeout
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	return s
}

// Wait blocks until in-flight partner notifications have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// StartSession opens a session for the couple with one progress row and one
// empty note per member. A couple has at most one unfinished session; a
// second start returns the existing one inside the conflict error. A non-empty
// planDayID links the session to a day of one of the couple's plans.
func (s *Service) StartSession(ctx context.Context, coupleID, userID, templateID, planDayID string) (SessionView, error) {
	var out SessionView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var couple db.Couple
		err := db.ForUpdate(tx).Select("id").First(&couple, "id = ?", coupleID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("couple not found")
		}
		if err != nil {
			return fmt.Errorf("lock couple: %w", err)
		}

		var members []db.User
		if err := tx.Select("id").Where("couple_id = ?", coupleID).Order("created_at").Find(&members).Error; err != nil {
			return fmt.Errorf("load members: %w", err)
		}
		if !containsUser(members, userID) {
			return apperr.Forbidden("not a member of this couple")
		}

		if active, ok, err := s.activeSession(tx, coupleID); err != nil {
			return err
		} else if ok {
			view, err := s.view(ctx, tx, active, userID)
			if err != nil {
				return err
			}
			return apperr.Conflict(apperr.ReasonActiveSessionExists, "couple already has an active session", view)
		}

		session := db.DevotionalSession{
			CoupleID:  coupleID,
			Status:    db.StatusInProgress,
			StartedBy: userID,
		}
		if templateID != "" {
			var tpl db.DevotionalTemplate
			err := tx.Select("id", "scripture_reference", "theme").First(&tpl, "id = ?", templateID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("template not found")
			}
			if err != nil {
				return fmt.Errorf("load template: %w", err)
			}
			session.TemplateID = &tpl.ID
			session.ScriptureReference = tpl.ScriptureReference
			session.Theme = tpl.Theme
		}
		if planDayID != "" {
			day, err := loadPlanDay(tx, planDayID, coupleID)
			if err != nil {
				return err
			}
			session.PlanDayID = &day.ID
			if session.TemplateID == nil {
				session.ScriptureReference = day.ScriptureReference
				session.Theme = day.Theme
			}
		}
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		for _, m := range members {
			row := db.SessionUserProgress{SessionID: session.ID, UserID: m.ID, Status: db.StatusInProgress}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create progress: %w", err)
			}
			note := db.Note{SessionID: session.ID, UserID: m.ID}
			if err := tx.Create(&note).Error; err != nil {
				return fmt.Errorf("create note: %w", err)
			}
		}

		out, err = s.view(ctx, tx, session, userID)
		return err
	})
	if err != nil {
		return SessionView{}, err
	}
	logger.Info("devotional session started", "session_id", out.ID, "couple_id", coupleID, "user_id", userID)
	return out, nil
}

// CompleteMyPart marks the user's part done and advances the session. The
// session row lock serializes partners, so exactly one call observes the
// move to COMPLETED and applies the streak and XP rewards.
func (s *Service) CompleteMyPart(ctx context.Context, sessionID, userID string) (Completion, error) {
	var (
		out      Completion
		notifyTo []string
	)
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if err := s.requireMember(tx, session.CoupleID, userID); err != nil {
			return err
		}

		var mine db.SessionUserProgress
		err = tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&mine).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("no progress for this user on this session")
		}
		if err != nil {
			return fmt.Errorf("load progress: %w", err)
		}

		if mine.Status == db.StatusCompleted {
			out.AlreadyCompleted = true
			out.Session, err = s.view(ctx, tx, session, userID)
			return err
		}

		if err := tx.Model(&db.SessionUserProgress{}).
			Where("id = ?", mine.ID).
			Updates(map[string]any{"status": db.StatusCompleted, "completed_at": now}).Error; err != nil {
			return fmt.Errorf("stamp progress: %w", err)
		}

		var total, completed int64
		if err := tx.Model(&db.SessionUserProgress{}).Where("session_id = ?", sessionID).Count(&total).Error; err != nil {
			return fmt.Errorf("count progress: %w", err)
		}
		if err := tx.Model(&db.SessionUserProgress{}).
			Where("session_id = ? AND status = ?", sessionID, db.StatusCompleted).
			Count(&completed).Error; err != nil {
			return fmt.Errorf("count completed progress: %w", err)
		}

		previous := session.Status
		next := Aggregate(int(completed), int(total))
		if next.Rank() < previous.Rank() {
			next = previous
		}
		if next != previous {
			updates := map[string]any{"status": next}
			if next == db.StatusCompleted {
				updates["completed_at"] = now
				session.CompletedAt = &now
			}
			if err := tx.Model(&db.DevotionalSession{}).Where("id = ?", sessionID).Updates(updates).Error; err != nil {
				return fmt.Errorf("update session status: %w", err)
			}
			session.Status = next
		}

		if previous != db.StatusCompleted && next == db.StatusCompleted {
			out.SessionCompleted = true
			if s.ledger != nil {
				week, marked, err := s.ledger.MarkTodayCompleted(ctx, tx, session.CoupleID, now)
				if err != nil {
					return err
				}
				out.Week, out.DayMarked = &week, marked
			}
			reward, err := progress.AddXP(ctx, tx, session.CoupleID, s.reward)
			if err != nil {
				return err
			}
			out.Reward = &reward

			if session.PlanDayID != nil {
				if err := tx.Model(&db.PlanDay{}).Where("id = ?", *session.PlanDayID).Update("is_completed", true).Error; err != nil {
					return fmt.Errorf("complete plan day: %w", err)
				}
			}
		}

		if next == db.StatusWaitingPartner {
			var partners []db.User
			if err := tx.Select("id").Where("couple_id = ? AND id <> ?", session.CoupleID, userID).Find(&partners).Error; err != nil {
				return fmt.Errorf("load partners: %w", err)
			}
			for _, p := range partners {
				notifyTo = append(notifyTo, p.ID)
			}
		}

		out.Session, err = s.view(ctx, tx, session, userID)
		return err
	})
	if err != nil {
		return Completion{}, err
	}

	if out.SessionCompleted {
		logger.Info("devotional session completed", "session_id", sessionID, "couple_id", out.Session.CoupleID,
			"xp_gained", out.Reward.XPGained, "level", out.Reward.NewLevel, "leveled_up", out.Reward.LeveledUp)
	}
	if len(notifyTo) > 0 {
		s.notifyPartners(ctx, userID, notifyTo)
	}
	return out, nil
}

func (s *Service) notifyPartners(ctx context.Context, userID string, partnerIDs []string) {
	title := "Seu parceiro"
	var me db.User
	if err := s.db.WithContext(ctx).Select("id", "name").First(&me, "id = ?", userID).Error; err == nil && me.Name != "" {
		title = me.Name
	}
	const body = "Acabei de terminar o devocional de hoje. Vem comigo?"

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		for _, id := range partnerIDs {
			if err := s.notifier.Notify(nctx, id, title, body); err != nil {
				logger.Warn("failed to notify partner", "user_id", id, "error", err)
			}
		}
	}()
}

// DeleteSession removes a session with its progress rows and notes.
func (s *Service) DeleteSession(ctx context.Context, sessionID, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if err := s.requireMember(tx, session.CoupleID, userID); err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&db.SessionUserProgress{}).Error; err != nil {
			return fmt.Errorf("delete progress: %w", err)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&db.Note{}).Error; err != nil {
			return fmt.Errorf("delete notes: %w", err)
		}
		if err := tx.Delete(&db.DevotionalSession{}, "id = ?", sessionID).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("devotional session deleted", "session_id", sessionID, "user_id", userID)
	return nil
}

func (s *Service) lockSession(tx *gorm.DB, sessionID string) (db.DevotionalSession, error) {
	var session db.DevotionalSession
	err := db.ForUpdate(tx).First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.DevotionalSession{}, apperr.NotFound("session not found")
	}
	if err != nil {
		return db.DevotionalSession{}, fmt.Errorf("lock session: %w", err)
	}
	return session, nil
}

func (s *Service) activeSession(tx *gorm.DB, coupleID string) (db.DevotionalSession, bool, error) {
	var session db.DevotionalSession
	err := tx.Where("couple_id = ? AND status IN ?", coupleID, db.ActiveStatuses).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.DevotionalSession{}, false, nil
	}
	if err != nil {
		return db.DevotionalSession{}, false, fmt.Errorf("load active session: %w", err)
	}
	return session, true, nil
}

// coupleOf returns the user's couple id, or "" when unpaired.
func coupleOf(tx *gorm.DB, userID string) (string, error) {
	var user db.User
	err := tx.Select("id", "couple_id").First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.NotFound("user not found")
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if user.CoupleID == nil {
		return "", nil
	}
	return *user.CoupleID, nil
}

// loadPlanDay returns the plan day if it belongs to one of the couple's plans.
func loadPlanDay(tx *gorm.DB, planDayID, coupleID string) (db.PlanDay, error) {
	var day db.PlanDay
	err := tx.Joins("JOIN devotional_plans ON devotional_plans.id = plan_days.plan_id").
		Where("plan_days.id = ? AND devotional_plans.couple_id = ?", planDayID, coupleID).
		First(&day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.PlanDay{}, apperr.NotFound("plan day not found")
	}
	if err != nil {
		return db.PlanDay{}, fmt.Errorf("load plan day: %w", err)
	}
	return day, nil
}

func (s *Service) requireMember(tx *gorm.DB, coupleID, userID string) error {
	mine, err := coupleOf(tx, userID)
	if err != nil {
		return err
	}
	if mine == "" || mine != coupleID {
		return apperr.Forbidden("session belongs to another couple")
	}
	return nil
}

func containsUser(users []db.User, id string) bool {
	for _, u := range users {
		if u.ID == id {
			return true
		}
	}
	return false
}
