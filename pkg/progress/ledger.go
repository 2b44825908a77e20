package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/timezone"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	legacyXPPerDay      = 15
	legacyXPCap         = 100
	DefaultHistoryWeeks = 12
)

// Ledger tracks which local days of each week a couple completed a session.
type Ledger struct {
	db  *gorm.DB
	tz  timezone.Normalizer
	now func() time.Time
}

func NewLedger(gdb *gorm.DB, tz timezone.Normalizer, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{db: gdb, tz: tz, now: now}
}

type WeekView struct {
	CoupleID          string      `json:"coupleId"`
	WeekStart         time.Time   `json:"weekStart"`
	WeekEnd           time.Time   `json:"weekEnd"`
	DaysCompleted     db.WeekDays `json:"daysCompleted"`
	CompletedCount    int         `json:"completedCount"`
	SpiritualGrowthXP int         `json:"spiritualGrowthXp"`
}

func (l *Ledger) view(row db.WeeklyProgress) WeekView {
	days := row.DaysCompleted.Data()
	count := 0
	for _, done := range days {
		if done {
			count++
		}
	}
	return WeekView{
		CoupleID:          row.CoupleID,
		WeekStart:         row.WeekStart.UTC(),
		WeekEnd:           row.WeekStart.UTC().AddDate(0, 0, 7).Add(-time.Millisecond),
		DaysCompleted:     days,
		CompletedCount:    count,
		SpiritualGrowthXP: row.SpiritualGrowthXP,
	}
}

// MarkTodayCompleted flips today's slot of the current local week. The second
// return is false when the slot was already set.
func (l *Ledger) MarkTodayCompleted(ctx context.Context, tx *gorm.DB, coupleID string, now time.Time) (WeekView, bool, error) {
	if tx == nil {
		tx = l.db
	}
	if now.IsZero() {
		now = l.now()
	}
	weekStart, _ := l.tz.WeekBoundaries(now)
	idx := l.tz.TodayIndex(now)

	if err := ensureWeek(ctx, tx, coupleID, weekStart); err != nil {
		return WeekView{}, false, err
	}
	var row db.WeeklyProgress
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("couple_id = ? AND week_start = ?", coupleID, weekStart).
		First(&row).Error
	if err != nil {
		return WeekView{}, false, fmt.Errorf("load weekly progress: %w", err)
	}

	days := row.DaysCompleted.Data()
	if days[idx] {
		return l.view(row), false, nil
	}
	days[idx] = true
	row.DaysCompleted = db.NewWeekDaysJSON(days)
	row.SpiritualGrowthXP = min(row.SpiritualGrowthXP+legacyXPPerDay, legacyXPCap)

	err = tx.WithContext(ctx).
		Model(&db.WeeklyProgress{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"days_completed":      row.DaysCompleted,
			"spiritual_growth_xp": row.SpiritualGrowthXP,
		}).Error
	if err != nil {
		return WeekView{}, false, fmt.Errorf("store weekly progress: %w", err)
	}
	return l.view(row), true, nil
}

// Week returns the current local week, creating an empty row on first read.
func (l *Ledger) Week(ctx context.Context, coupleID string) (WeekView, error) {
	weekStart, _ := l.tz.WeekBoundaries(l.now())
	if err := ensureWeek(ctx, l.db, coupleID, weekStart); err != nil {
		return WeekView{}, err
	}
	var row db.WeeklyProgress
	err := l.db.WithContext(ctx).
		Where("couple_id = ? AND week_start = ?", coupleID, weekStart).
		First(&row).Error
	if err != nil {
		return WeekView{}, fmt.Errorf("load weekly progress: %w", err)
	}
	return l.view(row), nil
}

// History lists the couple's recorded weeks, newest first.
func (l *Ledger) History(ctx context.Context, coupleID string, weeks int) ([]WeekView, error) {
	if weeks <= 0 {
		weeks = DefaultHistoryWeeks
	}
	var rows []db.WeeklyProgress
	err := l.db.WithContext(ctx).
		Where("couple_id = ?", coupleID).
		Order("week_start DESC").
		Limit(weeks).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list weekly progress: %w", err)
	}
	out := make([]WeekView, 0, len(rows))
	for _, row := range rows {
		out = append(out, l.view(row))
	}
	return out, nil
}

func ensureWeek(ctx context.Context, tx *gorm.DB, coupleID string, weekStart time.Time) error {
	row := db.WeeklyProgress{
		CoupleID:      coupleID,
		WeekStart:     weekStart,
		DaysCompleted: db.NewWeekDaysJSON(db.WeekDays{}),
	}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "couple_id"}, {Name: "week_start"}},
			DoNothing: true,
		}).
		Create(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("create weekly progress: %w", err)
	}
	return nil
}
