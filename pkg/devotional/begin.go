package devotional

import (
	"context"
	"errors"
	"strings"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/gate"
	"github.com/smith3v/couple-devotional/pkg/logger"
)

// Begin turns a reference or topic into a new shared session. Free users
// spend the couple's daily generation slot; an unfinished session is
// reported before the slot is touched, and the slot is handed back when no
// session comes out of it.
func (s *Service) Begin(ctx context.Context, userID, input, theme string) (SessionView, error) {
	if strings.TrimSpace(input) == "" {
		return SessionView{}, apperr.Validation("a scripture reference or topic is required")
	}
	coupleID, err := s.pairedCouple(ctx, userID)
	if err != nil {
		return SessionView{}, err
	}
	return s.begin(ctx, coupleID, userID, input, theme, "")
}

// BeginPlanDay starts the session for one day of the couple's plan, studying
// the day's scripture under its theme.
func (s *Service) BeginPlanDay(ctx context.Context, userID, planDayID string) (SessionView, error) {
	coupleID, err := s.pairedCouple(ctx, userID)
	if err != nil {
		return SessionView{}, err
	}
	day, err := loadPlanDay(s.db.WithContext(ctx), planDayID, coupleID)
	if err != nil {
		return SessionView{}, err
	}
	return s.begin(ctx, coupleID, userID, day.ScriptureReference, day.Theme, day.ID)
}

func (s *Service) pairedCouple(ctx context.Context, userID string) (string, error) {
	coupleID, err := coupleOf(s.db.WithContext(ctx), userID)
	if err != nil {
		return "", err
	}
	if coupleID == "" {
		return "", apperr.Forbidden("pair with your partner before starting a devotional")
	}
	return coupleID, nil
}

func (s *Service) begin(ctx context.Context, coupleID, userID, input, theme, planDayID string) (SessionView, error) {
	if s.library == nil {
		return SessionView{}, errors.New("template library is not configured")
	}

	tx := s.db.WithContext(ctx)
	if active, ok, err := s.activeSession(tx, coupleID); err != nil {
		return SessionView{}, err
	} else if ok {
		view, err := s.view(ctx, tx, active, userID)
		if err != nil {
			return SessionView{}, err
		}
		return SessionView{}, apperr.Conflict(apperr.ReasonActiveSessionExists, "couple already has an active session", view)
	}

	premium := false
	if s.premium != nil {
		var err error
		if premium, err = s.premium.IsPremium(ctx, userID); err != nil {
			return SessionView{}, err
		}
	}

	var (
		slot    gate.Slot
		claimed bool
	)
	if !premium && s.gate != nil {
		var err error
		slot, claimed, err = s.gate.Claim(ctx, coupleID, s.now())
		if err != nil {
			return SessionView{}, err
		}
		if !claimed {
			return SessionView{}, apperr.RateLimited(apperr.ReasonAlreadyGenerated, "today's devotional was already generated")
		}
	}

	view, err := s.resolveAndStart(ctx, coupleID, userID, input, theme, planDayID, premium)
	if err != nil && claimed {
		if rerr := s.gate.Release(context.WithoutCancel(ctx), slot); rerr != nil {
			logger.Error("failed to release daily generation slot", "couple_id", coupleID, "error", rerr)
		}
	}
	return view, err
}

func (s *Service) resolveAndStart(ctx context.Context, coupleID, userID, input, theme, planDayID string, premium bool) (SessionView, error) {
	tpl, err := s.library.Resolve(ctx, input, theme, premium)
	if err != nil {
		logger.Error("failed to resolve devotional template", "couple_id", coupleID, "input", input, "error", err)
		return SessionView{}, err
	}
	return s.StartSession(ctx, coupleID, userID, tpl.ID, planDayID)
}
