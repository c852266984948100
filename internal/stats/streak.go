package stats

import (
	"context"
	"sort"
	"time"
)

// DefaultStreakWindowDays bounds how far back the calculator looks for a
// previous day. Anything older is a gap and resets the streak anyway.
const DefaultStreakWindowDays = 30

// PriorDayFunc returns the most recent day on or after since and on or before
// day that already has a row, with that row's streak. found is false when
// there is none.
type PriorDayFunc func(ctx context.Context, userID string, day, since time.Time) (prev time.Time, streak int, found bool, err error)

// DayOf converts a timestamp to its calendar date in loc, as midnight UTC.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the number of calendar days from a to b.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// NextStreak returns the streak to store for day given the most recent prior
// day with activity.
func NextStreak(day, prevDay time.Time, prevStreak int, found bool) int {
	if !found {
		return 1
	}
	switch daysBetween(prevDay, day) {
	case 0:
		// Same day: another contribution never changes the streak.
		if prevStreak < 1 {
			return 1
		}
		return prevStreak
	case 1:
		return prevStreak + 1
	default:
		return 1
	}
}

type StreakCalculator struct {
	WindowDays int
}

// StreakFor computes the streak for a row being created on day. Call it only
// when the row does not exist yet.
func (c StreakCalculator) StreakFor(ctx context.Context, prior PriorDayFunc, userID string, day time.Time) (int, error) {
	window := c.WindowDays
	if window <= 0 {
		window = DefaultStreakWindowDays
	}
	since := day.AddDate(0, 0, -window)

	prev, streak, found, err := prior(ctx, userID, day, since)
	if err != nil {
		return 0, err
	}
	return NextStreak(day, prev, streak, found), nil
}

// CurrentStreak walks a user's activity days backward from the most recent
// one and counts consecutive days.
func CurrentStreak(days []time.Time) int {
	if len(days) == 0 {
		return 0
	}
	sorted := make([]time.Time, len(days))
	copy(sorted, days)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].After(sorted[j]) })

	streak := 1
	last := sorted[0]
	for _, d := range sorted[1:] {
		switch daysBetween(d, last) {
		case 0:
			continue
		case 1:
			streak++
			last = d
		default:
			return streak
		}
	}
	return streak
}

// chronologicalStreaks assigns a streak to each distinct day, in order, using
// the same rules as the incremental path.
func chronologicalStreaks(days []time.Time) map[time.Time]int {
	sorted := make([]time.Time, len(days))
	copy(sorted, days)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	out := make(map[time.Time]int, len(sorted))
	var prev time.Time
	prevStreak, found := 0, false
	for _, d := range sorted {
		if _, ok := out[d]; ok {
			continue
		}
		s := NextStreak(d, prev, prevStreak, found)
		out[d] = s
		prev, prevStreak, found = d, s, true
	}
	return out
}
