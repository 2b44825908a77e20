package timezone

import (
	"testing"
	"time"
)

func TestDayStartShiftsIntoOffset(t *testing.T) {
	n := New(-180)

	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "late evening local is still previous UTC day boundary",
			in:   time.Date(2025, 1, 6, 2, 59, 59, 0, time.UTC),
			want: time.Date(2025, 1, 5, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly local midnight",
			in:   time.Date(2025, 1, 6, 3, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 6, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "afternoon",
			in:   time.Date(2025, 1, 6, 18, 30, 0, 0, time.UTC),
			want: time.Date(2025, 1, 6, 3, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		got := n.DayStart(tc.in)
		if !got.Equal(tc.want) {
			t.Fatalf("%s: DayStart(%v) = %v, want %v", tc.name, tc.in, got, tc.want)
		}
		if got.Location() != time.UTC {
			t.Fatalf("%s: expected UTC result, got %v", tc.name, got.Location())
		}
	}
}

func TestSameDayAcrossOffsetBoundary(t *testing.T) {
	n := New(-180)
	beforeMidnight := time.Date(2025, 1, 6, 2, 59, 59, 999000000, time.UTC)
	atMidnight := time.Date(2025, 1, 6, 3, 0, 0, 0, time.UTC)
	earlierSameDay := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)

	if n.SameDay(beforeMidnight, atMidnight) {
		t.Fatal("expected the local midnight to split the days")
	}
	if !n.SameDay(beforeMidnight, earlierSameDay) {
		t.Fatal("expected both instants to fall on local Sunday")
	}
	if !New(0).SameDay(beforeMidnight, atMidnight) {
		t.Fatal("expected both instants to share a UTC day with a zero offset")
	}
}

func TestTodayIndexMondayFirst(t *testing.T) {
	n := New(-180)
	cases := []struct {
		in   time.Time
		want int
	}{
		{time.Date(2025, 1, 6, 3, 0, 0, 0, time.UTC), 0},   // local Monday 00:00
		{time.Date(2025, 1, 6, 2, 0, 0, 0, time.UTC), 6},   // local Sunday 23:00
		{time.Date(2025, 1, 8, 15, 0, 0, 0, time.UTC), 2},  // Wednesday
		{time.Date(2025, 1, 12, 23, 0, 0, 0, time.UTC), 6}, // Sunday
	}
	for _, tc := range cases {
		if got := n.TodayIndex(tc.in); got != tc.want {
			t.Fatalf("TodayIndex(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestWeekBoundaries(t *testing.T) {
	n := New(-180)

	start, end := n.WeekBoundaries(time.Date(2025, 1, 8, 15, 0, 0, 0, time.UTC))
	wantStart := time.Date(2025, 1, 6, 3, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 1, 13, 2, 59, 59, 999000000, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("week start = %v, want %v", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Fatalf("week end = %v, want %v", end, wantEnd)
	}

	// Local Sunday night belongs to the previous week.
	start, _ = n.WeekBoundaries(time.Date(2025, 1, 6, 2, 0, 0, 0, time.UTC))
	if want := time.Date(2024, 12, 30, 3, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Fatalf("sunday night week start = %v, want %v", start, want)
	}
}

func TestPositiveOffset(t *testing.T) {
	n := New(330)                                      // UTC+05:30
	in := time.Date(2025, 3, 2, 19, 0, 0, 0, time.UTC) // local Monday 00:30
	if got := n.TodayIndex(in); got != 0 {
		t.Fatalf("expected Monday, got %d", got)
	}
	if want := time.Date(2025, 3, 2, 18, 30, 0, 0, time.UTC); !n.DayStart(in).Equal(want) {
		t.Fatalf("DayStart = %v, want %v", n.DayStart(in), want)
	}
}
