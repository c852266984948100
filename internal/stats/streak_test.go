package stats

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextStreak(t *testing.T) {
	d := day("2024-01-10")
	tests := []struct {
		name       string
		prev       time.Time
		prevStreak int
		found      bool
		want       int
	}{
		{"no prior day", time.Time{}, 0, false, 1},
		{"yesterday", day("2024-01-09"), 4, true, 5},
		{"same day keeps streak", d, 4, true, 4},
		{"same day never below one", d, 0, true, 1},
		{"two day gap", day("2024-01-08"), 9, true, 1},
		{"long gap", day("2023-12-01"), 30, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextStreak(d, tt.prev, tt.prevStreak, tt.found); got != tt.want {
				t.Errorf("NextStreak = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNextStreak_AcrossMonthAndLeapDay(t *testing.T) {
	if got := NextStreak(day("2024-03-01"), day("2024-02-29"), 2, true); got != 3 {
		t.Errorf("Feb 29 -> Mar 1 = %d, want 3", got)
	}
	if got := NextStreak(day("2024-01-01"), day("2023-12-31"), 7, true); got != 8 {
		t.Errorf("Dec 31 -> Jan 1 = %d, want 8", got)
	}
}

func TestStreakCalculator_Window(t *testing.T) {
	var gotSince time.Time
	prior := func(_ context.Context, _ string, d, since time.Time) (time.Time, int, bool, error) {
		gotSince = since
		return d.AddDate(0, 0, -1), 6, true, nil
	}

	c := StreakCalculator{WindowDays: 14}
	streak, err := c.StreakFor(context.Background(), prior, "u1", day("2024-01-20"))
	if err != nil {
		t.Fatal(err)
	}
	if streak != 7 {
		t.Errorf("streak = %d, want 7", streak)
	}
	if gotSince != day("2024-01-06") {
		t.Errorf("since = %v, want 2024-01-06", gotSince)
	}

	StreakCalculator{}.StreakFor(context.Background(), prior, "u1", day("2024-01-31"))
	if gotSince != day("2024-01-01") {
		t.Errorf("default window since = %v, want 2024-01-01", gotSince)
	}
}

func TestStreakCalculator_MissingPriorIsNotAnError(t *testing.T) {
	prior := func(context.Context, string, time.Time, time.Time) (time.Time, int, bool, error) {
		return time.Time{}, 0, false, nil
	}
	streak, err := StreakCalculator{}.StreakFor(context.Background(), prior, "u1", day("2024-01-20"))
	if err != nil || streak != 1 {
		t.Errorf("StreakFor = %d, %v; want 1, nil", streak, err)
	}

	boom := errors.New("boom")
	failing := func(context.Context, string, time.Time, time.Time) (time.Time, int, bool, error) {
		return time.Time{}, 0, false, boom
	}
	if _, err := (StreakCalculator{}).StreakFor(context.Background(), failing, "u1", day("2024-01-20")); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestCurrentStreak(t *testing.T) {
	tests := []struct {
		name string
		days []string
		want int
	}{
		{"empty", nil, 0},
		{"single", []string{"2024-01-01"}, 1},
		{"run of three", []string{"2024-01-01", "2024-01-02", "2024-01-03"}, 3},
		{"unsorted", []string{"2024-01-03", "2024-01-01", "2024-01-02"}, 3},
		{"gap before latest", []string{"2024-01-01", "2024-01-02", "2024-01-05"}, 1},
		{"run after gap", []string{"2023-12-01", "2024-01-04", "2024-01-05"}, 2},
		{"duplicates", []string{"2024-01-02", "2024-01-02", "2024-01-01"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var days []time.Time
			for _, d := range tt.days {
				days = append(days, day(d))
			}
			if got := CurrentStreak(days); got != tt.want {
				t.Errorf("CurrentStreak = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestChronologicalStreaks(t *testing.T) {
	days := []time.Time{day("2024-01-05"), day("2024-01-01"), day("2024-01-02"), day("2024-01-02"), day("2024-01-06")}
	got := chronologicalStreaks(days)

	want := map[string]int{"2024-01-01": 1, "2024-01-02": 2, "2024-01-05": 1, "2024-01-06": 2}
	if len(got) != len(want) {
		t.Fatalf("got %d days, want %d", len(got), len(want))
	}
	for d, w := range want {
		if got[day(d)] != w {
			t.Errorf("%s streak = %d, want %d", d, got[day(d)], w)
		}
	}
}

func TestDayOf(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	ts := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)

	if got := DayOf(ts, time.UTC); got != day("2024-01-01") {
		t.Errorf("UTC day = %v", got)
	}
	if got := DayOf(ts, tokyo); got != day("2024-01-02") {
		t.Errorf("JST day = %v, want 2024-01-02", got)
	}
	if got := DayOf(ts, nil); got != day("2024-01-01") {
		t.Errorf("nil location day = %v", got)
	}
}
