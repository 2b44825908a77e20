// Package pairing creates couples from join codes and dissolves them.
package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"github.com/smith3v/couple-devotional/pkg/progress"
	"github.com/smith3v/couple-devotional/pkg/users"
	"gorm.io/gorm"
)

const (
	maxMembers      = 2
	maxCodeAttempts = 10
)

// CredentialVerifier re-checks a user's password before destructive actions.
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, userID, password string) error
}

type Registry struct {
	db       *gorm.DB
	verifier CredentialVerifier
	newCode  func() (string, error)
}

func NewRegistry(gdb *gorm.DB, verifier CredentialVerifier) *Registry {
	return &Registry{db: gdb, verifier: verifier, newCode: NewCode}
}

type CoupleView struct {
	ID          string             `json:"id"`
	Code        string             `json:"code,omitempty"`
	Joinable    bool               `json:"joinable"`
	Members     []users.PublicUser `json:"members"`
	Level       int                `json:"level"`
	XP          int                `json:"xp"`
	NextLevelAt int                `json:"nextLevelAt"`
}

func viewOf(c db.Couple) CoupleView {
	v := CoupleView{
		ID:          c.ID,
		Joinable:    len(c.Members) < maxMembers,
		Members:     make([]users.PublicUser, 0, len(c.Members)),
		Level:       c.Level,
		XP:          c.XP,
		NextLevelAt: progress.LevelThreshold(c.Level),
	}
	if v.Joinable {
		v.Code = c.Code
	}
	for _, m := range c.Members {
		v.Members = append(v.Members, users.Public(m))
	}
	return v
}

// GenerateJoinCode creates a couple with userID as its only member.
func (r *Registry) GenerateJoinCode(ctx context.Context, userID string) (CoupleView, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return CoupleView{}, fmt.Errorf("generate join code: %w", err)
		}
		couple, err := r.createCouple(ctx, userID, code)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Warn("join code collision, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return CoupleView{}, err
		}
		logger.Info("couple created", "couple_id", couple.ID, "user_id", userID)
		return viewOf(couple), nil
	}
	return CoupleView{}, fmt.Errorf("no unique join code after %d attempts", maxCodeAttempts)
}

func (r *Registry) createCouple(ctx context.Context, userID, code string) (db.Couple, error) {
	var couple db.Couple
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if user.CoupleID != nil {
			return apperr.Conflict(apperr.ReasonAlreadyPaired, "user already belongs to a couple", *user.CoupleID)
		}

		couple = db.Couple{Code: code}
		if err := tx.Create(&couple).Error; err != nil {
			return err
		}
		if err := attach(tx, &user, couple.ID); err != nil {
			return err
		}
		couple.Members = []db.User{user}
		return nil
	})
	return couple, err
}

// RedeemJoinCode attaches userID as the second member of the couple that owns code.
func (r *Registry) RedeemJoinCode(ctx context.Context, userID, code string) (CoupleView, error) {
	code = NormalizeCode(code)
	if code == "" {
		return CoupleView{}, apperr.Validation("code is required")
	}

	var couple db.Couple
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if user.CoupleID != nil {
			return apperr.Conflict(apperr.ReasonAlreadyPaired, "user already belongs to a couple", *user.CoupleID)
		}

		err = db.ForUpdate(tx).Where("code = ?", code).First(&couple).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("join code not found")
		}
		if err != nil {
			return fmt.Errorf("load couple by code: %w", err)
		}
		if err := tx.Where("couple_id = ?", couple.ID).Order("created_at").Find(&couple.Members).Error; err != nil {
			return fmt.Errorf("load couple members: %w", err)
		}
		if len(couple.Members) >= maxMembers {
			return apperr.Conflict(apperr.ReasonCoupleFull, "couple already has two members", couple.ID)
		}
		for _, m := range couple.Members {
			if m.ID == userID {
				return apperr.Conflict(apperr.ReasonSelfRedeem, "cannot redeem your own code", couple.ID)
			}
		}

		if err := attach(tx, &user, couple.ID); err != nil {
			return err
		}
		couple.Members = append(couple.Members, user)
		return nil
	})
	if err != nil {
		return CoupleView{}, err
	}
	logger.Info("couple joined", "couple_id", couple.ID, "user_id", userID)
	return viewOf(couple), nil
}

// Disband dissolves the couple after re-verifying the requester's password.
// Sessions, progress, notes and weekly progress go with it.
func (r *Registry) Disband(ctx context.Context, coupleID, userID, password string) error {
	if err := r.verifier.VerifyPassword(ctx, userID, password); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var couple db.Couple
		err := db.ForUpdate(tx).First(&couple, "id = ?", coupleID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("couple not found")
		}
		if err != nil {
			return fmt.Errorf("load couple: %w", err)
		}

		var member int64
		if err := tx.Model(&db.User{}).Where("id = ? AND couple_id = ?", userID, coupleID).Count(&member).Error; err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if member == 0 {
			return apperr.Forbidden("not a member of this couple")
		}

		sessions := tx.Model(&db.DevotionalSession{}).Select("id").Where("couple_id = ?", coupleID)
		steps := []struct {
			what string
			run  func() error
		}{
			{"progress", func() error {
				return tx.Where("session_id IN (?)", sessions).Delete(&db.SessionUserProgress{}).Error
			}},
			{"notes", func() error { return tx.Where("session_id IN (?)", sessions).Delete(&db.Note{}).Error }},
			{"sessions", func() error { return tx.Where("couple_id = ?", coupleID).Delete(&db.DevotionalSession{}).Error }},
			{"weekly progress", func() error { return tx.Where("couple_id = ?", coupleID).Delete(&db.WeeklyProgress{}).Error }},
			{"plan days", func() error {
				plans := tx.Model(&db.DevotionalPlan{}).Select("id").Where("couple_id = ?", coupleID)
				return tx.Where("plan_id IN (?)", plans).Delete(&db.PlanDay{}).Error
			}},
			{"plans", func() error { return tx.Where("couple_id = ?", coupleID).Delete(&db.DevotionalPlan{}).Error }},
			{"members", func() error {
				return tx.Model(&db.User{}).Where("couple_id = ?", coupleID).Update("couple_id", nil).Error
			}},
			{"couple", func() error { return tx.Delete(&db.Couple{}, "id = ?", coupleID).Error }},
		}
		for _, step := range steps {
			if err := step.run(); err != nil {
				return fmt.Errorf("disband %s: %w", step.what, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("couple disbanded", "couple_id", coupleID, "user_id", userID)
	return nil
}

// View returns the requester's couple with its members and level.
func (r *Registry) View(ctx context.Context, userID string) (CoupleView, error) {
	var user db.User
	err := r.db.WithContext(ctx).Select("id", "couple_id").First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CoupleView{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return CoupleView{}, fmt.Errorf("load user: %w", err)
	}
	if user.CoupleID == nil {
		return CoupleView{}, apperr.NotFound("user has no couple")
	}

	var couple db.Couple
	err = r.db.WithContext(ctx).
		Preload("Members", func(q *gorm.DB) *gorm.DB { return q.Order("created_at") }).
		First(&couple, "id = ?", *user.CoupleID).Error
	if err != nil {
		return CoupleView{}, fmt.Errorf("load couple: %w", err)
	}
	return viewOf(couple), nil
}

func lockUser(tx *gorm.DB, userID string) (db.User, error) {
	var user db.User
	err := db.ForUpdate(tx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return db.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// attach sets the user's couple only if it is still unset.
func attach(tx *gorm.DB, user *db.User, coupleID string) error {
	res := tx.Model(&db.User{}).
		Where("id = ? AND couple_id IS NULL", user.ID).
		Update("couple_id", coupleID)
	if res.Error != nil {
		return fmt.Errorf("attach user to couple: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict(apperr.ReasonAlreadyPaired, "user already belongs to a couple", nil)
	}
	user.CoupleID = &coupleID
	return nil
}
