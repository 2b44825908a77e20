package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"gorm.io/gorm"
)

const xpPerLevel = 20

// LevelThreshold is the XP needed to leave level.
func LevelThreshold(level int) int {
	return xpPerLevel * level
}

type LevelResult struct {
	PreviousLevel int  `json:"previousLevel"`
	PreviousXP    int  `json:"previousXp"`
	NewLevel      int  `json:"newLevel"`
	NewXP         int  `json:"newXp"`
	LeveledUp     bool `json:"leveledUp"`
	XPGained      int  `json:"xpGained"`
}

// Apply adds gained to xp and rolls over as many levels as the total covers.
func Apply(level, xp, gained int) LevelResult {
	if level < 1 {
		level = 1
	}
	if xp < 0 {
		xp = 0
	}
	res := LevelResult{
		PreviousLevel: level,
		PreviousXP:    xp,
		XPGained:      gained,
	}
	xp += gained
	for xp >= LevelThreshold(level) {
		xp -= LevelThreshold(level)
		level++
	}
	res.NewLevel = level
	res.NewXP = xp
	res.LeveledUp = level > res.PreviousLevel
	return res
}

// AddXP locks the couple row, applies gained and persists the new level.
// Call it with the transaction that owns the completion edge.
func AddXP(ctx context.Context, tx *gorm.DB, coupleID string, gained int) (LevelResult, error) {
	if gained < 0 {
		return LevelResult{}, apperr.Validation("xp gain must not be negative")
	}

	var couple db.Couple
	err := db.ForUpdate(tx.WithContext(ctx)).
		Select("id", "xp", "level").
		First(&couple, "id = ?", coupleID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LevelResult{}, apperr.NotFound("couple not found")
		}
		return LevelResult{}, fmt.Errorf("load couple level: %w", err)
	}

	res := Apply(couple.Level, couple.XP, gained)
	if gained == 0 {
		return res, nil
	}
	err = tx.WithContext(ctx).
		Model(&db.Couple{}).
		Where("id = ?", coupleID).
		Updates(map[string]any{"xp": res.NewXP, "level": res.NewLevel}).Error
	if err != nil {
		return LevelResult{}, fmt.Errorf("store couple level: %w", err)
	}
	return res, nil
}
