// Package users manages accounts, credentials and premium subscriptions.
package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLength    = 8
	subscriptionDuration = 1 // years
)

// PublicUser is the projection of a user that leaves the service. It never
// carries credential material.
type PublicUser struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	CoupleID   *string    `json:"coupleId"`
	Verified   bool       `json:"verified"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

func Public(u db.User) PublicUser {
	return PublicUser{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		CoupleID:   u.CoupleID,
		Verified:   u.EmailVerifiedAt != nil,
		LastSeenAt: u.LastSeenAt,
	}
}

// VerificationSender delivers the email verification token of a new account.
type VerificationSender interface {
	SendVerification(ctx context.Context, user PublicUser, token string) error
}

// LogVerificationSender writes the verification link to the log. It stands in
// until an outbound mail transport is configured.
type LogVerificationSender struct{}

func (LogVerificationSender) SendVerification(_ context.Context, user PublicUser, token string) error {
	logger.Info("email verification pending", "user_id", user.ID, "link", "/api/auth/verify?token="+token)
	return nil
}

type Service struct {
	db       *gorm.DB
	now      func() time.Time
	cost     int
	verifier VerificationSender
}

func NewService(gdb *gorm.DB, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: gdb, now: now, cost: bcrypt.DefaultCost, verifier: LogVerificationSender{}}
}

// WithVerificationSender replaces the default log-only delivery.
func (s *Service) WithVerificationSender(sender VerificationSender) *Service {
	if sender != nil {
		s.verifier = sender
	}
	return s
}

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, email, name, password string) (PublicUser, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return PublicUser{}, apperr.Validation("a valid email is required")
	}
	if len(password) < minPasswordLength {
		return PublicUser{}, apperr.Validation(fmt.Sprintf("password must have at least %d characters", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return PublicUser{}, fmt.Errorf("hash password: %w", err)
	}
	token := uuid.NewString()
	user := db.User{
		Email:             email,
		Name:              strings.TrimSpace(name),
		PasswordHash:      string(hash),
		VerificationToken: &token,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return PublicUser{}, apperr.Conflict(apperr.ReasonEmailTaken, "email already registered", nil)
		}
		return PublicUser{}, fmt.Errorf("create user: %w", err)
	}
	logger.Info("user registered", "user_id", user.ID)
	public := Public(user)
	if err := s.verifier.SendVerification(ctx, public, token); err != nil {
		logger.Warn("failed to send verification token", "user_id", user.ID, "error", err)
	}
	return public, nil
}

// VerifyEmail consumes a verification token and marks its account verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (PublicUser, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return PublicUser{}, apperr.Validation("token is required")
	}
	var user db.User
	err := s.db.WithContext(ctx).Where("verification_token = ?", token).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PublicUser{}, apperr.Validation("invalid or expired token")
	}
	if err != nil {
		return PublicUser{}, fmt.Errorf("load user: %w", err)
	}

	verifiedAt := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&db.User{}).
		Where("id = ? AND verification_token = ?", user.ID, token).
		Updates(map[string]any{"email_verified_at": verifiedAt, "verification_token": nil})
	if res.Error != nil {
		return PublicUser{}, fmt.Errorf("verify email: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return PublicUser{}, apperr.Validation("invalid or expired token")
	}
	user.EmailVerifiedAt = &verifiedAt
	user.VerificationToken = nil
	logger.Info("email verified", "user_id", user.ID)
	return Public(user), nil
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (PublicUser, error) {
	var user db.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PublicUser{}, apperr.Unauthorized("invalid credentials")
		}
		return PublicUser{}, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return PublicUser{}, apperr.Unauthorized("invalid credentials")
	}
	return Public(user), nil
}

// VerifyPassword re-checks the credential of an already identified user.
func (s *Service) VerifyPassword(ctx context.Context, userID, password string) error {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return apperr.Unauthorized("invalid credentials")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, userID string) (db.User, error) {
	var user db.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.User{}, apperr.NotFound("user not found")
		}
		return db.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *Service) Heartbeat(ctx context.Context, userID string) error {
	return s.update(ctx, userID, "last_seen_at", s.now().UTC())
}

// SetPushToken stores the chat id notifications are delivered to.
func (s *Service) SetPushToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Validation("token is required")
	}
	return s.update(ctx, userID, "push_token", token)
}

func (s *Service) update(ctx context.Context, userID, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", userID).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("update user %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

// ActivateSubscription grants a one-year premium subscription starting now.
func (s *Service) ActivateSubscription(ctx context.Context, userID string) (db.Subscription, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return db.Subscription{}, err
	}
	start := s.now().UTC()
	sub := db.Subscription{
		UserID:    userID,
		StartsAt:  start,
		ExpiresAt: start.AddDate(subscriptionDuration, 0, 0),
	}
	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return db.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	logger.Info("subscription activated", "user_id", userID, "expires_at", sub.ExpiresAt)
	return sub, nil
}

// IsPremium reports whether the user holds an unexpired subscription.
func (s *Service) IsPremium(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&db.Subscription{}).
		Where("user_id = ? AND starts_at <= ? AND expires_at > ?", userID, s.now().UTC(), s.now().UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return count > 0, nil
}
