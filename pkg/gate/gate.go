// Package gate limits content generation to one attempt per couple per local
// calendar day.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"github.com/smith3v/couple-devotional/pkg/timezone"
	"gorm.io/gorm"
)

type Gate struct {
	db  *gorm.DB
	tz  timezone.Normalizer
	now func() time.Time
}

func New(gdb *gorm.DB, tz timezone.Normalizer, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{db: gdb, tz: tz, now: now}
}

// Slot is a claimed daily generation slot. Previous is the stamp it replaced.
type Slot struct {
	CoupleID  string
	ClaimedAt time.Time
	Previous  *time.Time
}

// TryConsume claims today's slot. It is a single conditional update, so of two
// racing callers on the same local day exactly one gets true.
func (g *Gate) TryConsume(ctx context.Context, coupleID string, now time.Time) (bool, error) {
	_, ok, err := g.Claim(ctx, coupleID, now)
	return ok, err
}

// Claim is TryConsume returning the slot so a failed generation can hand it
// back with Release.
func (g *Gate) Claim(ctx context.Context, coupleID string, now time.Time) (Slot, bool, error) {
	if now.IsZero() {
		now = g.now()
	}
	// Postgres keeps microseconds; Release matches on the stored value.
	claimedAt := now.UTC().Truncate(time.Microsecond)

	var couple db.Couple
	err := g.db.WithContext(ctx).Select("id", "last_generated_at").First(&couple, "id = ?", coupleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Slot{}, false, apperr.NotFound("couple not found")
	}
	if err != nil {
		return Slot{}, false, fmt.Errorf("load couple: %w", err)
	}

	dayStart := g.tz.DayStart(now)
	res := g.db.WithContext(ctx).
		Model(&db.Couple{}).
		Where("id = ? AND (last_generated_at IS NULL OR last_generated_at < ? OR last_generated_at >= ?)",
			coupleID, dayStart, dayStart.Add(24*time.Hour)).
		Update("last_generated_at", claimedAt)
	if res.Error != nil {
		return Slot{}, false, fmt.Errorf("consume daily slot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Slot{}, false, nil
	}
	return Slot{CoupleID: coupleID, ClaimedAt: claimedAt, Previous: couple.LastGeneratedAt}, true, nil
}

// Release restores the stamp a claim replaced. It is a no-op once the slot
// was claimed again.
func (g *Gate) Release(ctx context.Context, slot Slot) error {
	var previous any
	if slot.Previous != nil {
		previous = slot.Previous.UTC()
	}
	res := g.db.WithContext(ctx).
		Model(&db.Couple{}).
		Where("id = ? AND last_generated_at = ?", slot.CoupleID, slot.ClaimedAt).
		Update("last_generated_at", previous)
	if res.Error != nil {
		return fmt.Errorf("release daily slot: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		logger.Info("daily generation slot released", "couple_id", slot.CoupleID)
	}
	return nil
}

// Available reports whether TryConsume would succeed now, without claiming.
func (g *Gate) Available(ctx context.Context, coupleID string) (bool, error) {
	var couple db.Couple
	err := g.db.WithContext(ctx).Select("id", "last_generated_at").First(&couple, "id = ?", coupleID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, apperr.NotFound("couple not found")
		}
		return false, fmt.Errorf("load couple: %w", err)
	}
	if couple.LastGeneratedAt == nil {
		return true, nil
	}
	return !g.tz.SameDay(*couple.LastGeneratedAt, g.now()), nil
}
