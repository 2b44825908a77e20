// Package timezone computes local calendar boundaries for a fixed UTC offset.
// Offsets are not DST-aware; weeks start on Monday.
package timezone

import "time"

type Normalizer struct {
	offsetMinutes int
	loc           *time.Location
}

func New(offsetMinutes int) Normalizer {
	return Normalizer{
		offsetMinutes: offsetMinutes,
		loc:           time.FixedZone("app", offsetMinutes*60),
	}
}

func (n Normalizer) OffsetMinutes() int {
	return n.offsetMinutes
}

func (n Normalizer) location() *time.Location {
	if n.loc == nil {
		return time.UTC
	}
	return n.loc
}

// Local shifts t into the configured offset.
func (n Normalizer) Local(t time.Time) time.Time {
	return t.In(n.location())
}

// DayStart returns local midnight of t's local day, expressed in UTC.
func (n Normalizer) DayStart(t time.Time) time.Time {
	local := n.Local(t)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, n.location()).UTC()
}

func (n Normalizer) SameDay(a, b time.Time) bool {
	return n.DayStart(a).Equal(n.DayStart(b))
}

// TodayIndex returns the local weekday of t with Monday=0 and Sunday=6.
func (n Normalizer) TodayIndex(t time.Time) int {
	return (int(n.Local(t).Weekday()) + 6) % 7
}

// WeekBoundaries returns local Monday 00:00:00.000 and local Sunday
// 23:59:59.999 of t's week, both in UTC.
func (n Normalizer) WeekBoundaries(t time.Time) (time.Time, time.Time) {
	dayStart := n.DayStart(t).In(n.location())
	start := dayStart.AddDate(0, 0, -n.TodayIndex(t))
	end := start.AddDate(0, 0, 7).Add(-time.Millisecond)
	return start.UTC(), end.UTC()
}
