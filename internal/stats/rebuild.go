package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/examstats/backend/internal/models"
)

// Projection is the full set of aggregate rows a user's event log produces.
type Projection struct {
	Summaries []models.DailySummary
	Daily     []models.UserDailyAggregate
	Lifetime  *models.UserLifetimeAggregate
}

type summaryKey struct {
	day     time.Time
	examKey string
}

// Project folds a user's event log into aggregate rows in one pass, with the
// same additive rules as the incremental path. Streaks are assigned per day in
// chronological order; days without events are gaps.
func Project(userID string, events []models.ExamAttemptEvent, study []models.StudyTimeEvent, loc *time.Location, examScoped bool, now time.Time) Projection {
	summaries := make(map[summaryKey]*models.DailySummary)
	daily := make(map[time.Time]*models.UserDailyAggregate)
	var lifetime *models.UserLifetimeAggregate

	summaryRow := func(k summaryKey) *models.DailySummary {
		row, ok := summaries[k]
		if !ok {
			row = &models.DailySummary{UserID: userID, Date: k.day, ExamKey: k.examKey, LastUpdated: now}
			summaries[k] = row
		}
		return row
	}
	dailyRow := func(day time.Time) *models.UserDailyAggregate {
		row, ok := daily[day]
		if !ok {
			row = &models.UserDailyAggregate{UserID: userID, Date: day, LastUpdated: now}
			daily[day] = row
		}
		return row
	}

	for i := range events {
		ev := &events[i]
		day := DayOf(ev.AttemptedAt, loc)
		k := summaryKey{day: day}
		if examScoped {
			k.examKey = ev.ExamKey()
		}
		c := examContribution(ev)
		c.addToSummary(summaryRow(k))
		c.addToDaily(dailyRow(day))
		if lifetime == nil {
			lifetime = &models.UserLifetimeAggregate{UserID: userID, LastUpdated: now}
		}
		c.addToLifetime(lifetime)
	}

	for i := range study {
		ev := &study[i]
		day := DayOf(ev.Day, time.UTC)
		c := contribution{StudySeconds: ev.Seconds}
		c.addToSummary(summaryRow(summaryKey{day: day}))
		c.addToDaily(dailyRow(day))
	}

	days := make([]time.Time, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	streaks := chronologicalStreaks(days)

	p := Projection{Lifetime: lifetime}
	for _, row := range summaries {
		row.Streak = streaks[row.Date]
		p.Summaries = append(p.Summaries, *row)
	}
	for _, row := range daily {
		row.Streak = streaks[row.Date]
		p.Daily = append(p.Daily, *row)
	}

	sort.Slice(p.Summaries, func(i, j int) bool {
		a, b := p.Summaries[i], p.Summaries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ExamKey < b.ExamKey
	})
	sort.Slice(p.Daily, func(i, j int) bool { return p.Daily[i].Date.Before(p.Daily[j].Date) })
	return p
}

// RebuildUserStatistics discards the user's aggregate rows and regenerates
// them from the full event log.
func (s *Service) RebuildUserStatistics(ctx context.Context, userID string) error {
	start := time.Now()
	var p Projection

	err := s.repo.InTx(ctx, func(tx Tx) error {
		if err := tx.LockUser(ctx, userID, true); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		events, err := tx.ListExamAttempts(ctx, userID)
		if err != nil {
			return fmt.Errorf("list exam attempts: %w", err)
		}
		study, err := tx.ListStudyTime(ctx, userID)
		if err != nil {
			return fmt.Errorf("list study time: %w", err)
		}

		if err := tx.DeleteUserAggregates(ctx, userID); err != nil {
			return fmt.Errorf("delete aggregates: %w", err)
		}

		p = Project(userID, events, study, s.loc, s.examScoped, s.now().UTC())

		if err := tx.InsertDailySummaries(ctx, p.Summaries); err != nil {
			return fmt.Errorf("insert daily summaries: %w", err)
		}
		if err := tx.InsertUserDailies(ctx, p.Daily); err != nil {
			return fmt.Errorf("insert user daily: %w", err)
		}
		if p.Lifetime != nil {
			if err := tx.InsertLifetime(ctx, p.Lifetime); err != nil {
				return fmt.Errorf("insert lifetime: %w", err)
			}
		}

		ids := make([]string, 0, len(events)+len(study))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		for _, ev := range study {
			ids = append(ids, ev.ID)
		}
		if err := tx.MarkEventsApplied(ctx, userID, ids); err != nil {
			return fmt.Errorf("mark events applied: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Printf("[stats] rebuild failed for user %s: %v", userID, err)
		return fmt.Errorf("rebuild user %s: %w", userID, err)
	}

	log.Printf("[stats] rebuilt user %s: %d summaries, %d daily rows in %v",
		userID, len(p.Summaries), len(p.Daily), time.Since(start))
	return nil
}

// VerifyUserStatistics compares the stored aggregates with a fresh projection
// of the event log without writing anything.
func (s *Service) VerifyUserStatistics(ctx context.Context, userID string) (*models.DriftReport, error) {
	var events []models.ExamAttemptEvent
	var study []models.StudyTimeEvent
	err := s.repo.InTx(ctx, func(tx Tx) error {
		var err error
		if events, err = tx.ListExamAttempts(ctx, userID); err != nil {
			return fmt.Errorf("list exam attempts: %w", err)
		}
		if study, err = tx.ListStudyTime(ctx, userID); err != nil {
			return fmt.Errorf("list study time: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	want := Project(userID, events, study, s.loc, s.examScoped, s.now().UTC())

	from, to := time.Time{}, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	summaries, err := s.repo.ListDailySummaries(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list daily summaries: %w", err)
	}
	daily, err := s.repo.ListUserDaily(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list user daily: %w", err)
	}
	lifetime, err := s.repo.GetLifetime(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get lifetime: %w", err)
	}

	report := &models.DriftReport{UserID: userID, Differences: []string{}}
	report.Differences = append(report.Differences, diffSummaries(summaries, want.Summaries)...)
	report.Differences = append(report.Differences, diffDaily(daily, want.Daily)...)
	report.Differences = append(report.Differences, diffLifetime(lifetime, want.Lifetime)...)
	report.Consistent = len(report.Differences) == 0
	if !report.Consistent {
		log.Printf("[stats] drift detected for user %s: %d differences", userID, len(report.Differences))
	}
	return report, nil
}

func diffSummaries(stored, want []models.DailySummary) []string {
	index := func(rows []models.DailySummary) map[summaryKey]models.DailySummary {
		m := make(map[summaryKey]models.DailySummary, len(rows))
		for _, r := range rows {
			m[summaryKey{day: DayOf(r.Date, time.UTC), examKey: r.ExamKey}] = r
		}
		return m
	}
	have, exp := index(stored), index(want)

	var out []string
	for k, w := range exp {
		label := fmt.Sprintf("daily summary %s %q", k.day.Format(models.DateLayout), k.examKey)
		h, ok := have[k]
		if !ok {
			out = append(out, label+": missing")
			continue
		}
		out = appendIntDiff(out, label, "attempt_count", h.AttemptCount, w.AttemptCount)
		out = appendIntDiff(out, label, "total_questions", h.TotalQuestions, w.TotalQuestions)
		out = appendIntDiff(out, label, "correct_questions", h.CorrectQuestions, w.CorrectQuestions)
		out = appendIntDiff(out, label, "study_time_seconds", h.StudyTimeSeconds, w.StudyTimeSeconds)
		out = appendIntDiff(out, label, "streak", h.Streak, w.Streak)
		if !SameSubjects(h.SubjectBreakdown, w.SubjectBreakdown) {
			out = append(out, label+": subject_breakdown differs")
		}
	}
	for k := range have {
		if _, ok := exp[k]; !ok {
			out = append(out, fmt.Sprintf("daily summary %s %q: unexpected row", k.day.Format(models.DateLayout), k.examKey))
		}
	}
	sort.Strings(out)
	return out
}

func diffDaily(stored, want []models.UserDailyAggregate) []string {
	index := func(rows []models.UserDailyAggregate) map[time.Time]models.UserDailyAggregate {
		m := make(map[time.Time]models.UserDailyAggregate, len(rows))
		for _, r := range rows {
			m[DayOf(r.Date, time.UTC)] = r
		}
		return m
	}
	have, exp := index(stored), index(want)

	var out []string
	for day, w := range exp {
		label := "user daily " + day.Format(models.DateLayout)
		h, ok := have[day]
		if !ok {
			out = append(out, label+": missing")
			continue
		}
		out = appendIntDiff(out, label, "solved_count", h.SolvedCount, w.SolvedCount)
		out = appendIntDiff(out, label, "correct_count", h.CorrectCount, w.CorrectCount)
		out = appendIntDiff(out, label, "study_time_seconds", h.StudyTimeSeconds, w.StudyTimeSeconds)
		out = appendIntDiff(out, label, "streak", h.Streak, w.Streak)
	}
	for day := range have {
		if _, ok := exp[day]; !ok {
			out = append(out, "user daily "+day.Format(models.DateLayout)+": unexpected row")
		}
	}
	sort.Strings(out)
	return out
}

func diffLifetime(stored, want *models.UserLifetimeAggregate) []string {
	switch {
	case stored == nil && want == nil:
		return nil
	case stored == nil:
		return []string{"lifetime: missing"}
	case want == nil:
		return []string{"lifetime: unexpected row"}
	}
	var out []string
	out = appendIntDiff(out, "lifetime", "total_attempts", stored.TotalAttempts, want.TotalAttempts)
	out = appendIntDiff(out, "lifetime", "total_questions", stored.TotalQuestions, want.TotalQuestions)
	out = appendIntDiff(out, "lifetime", "total_correct", stored.TotalCorrect, want.TotalCorrect)
	out = appendIntDiff(out, "lifetime", "average_score_percent", stored.AverageScorePercent, want.AverageScorePercent)
	if !SameSubjects(stored.SubjectBreakdown, want.SubjectBreakdown) {
		out = append(out, "lifetime: subject_breakdown differs")
	}
	return out
}

func appendIntDiff(out []string, label, field string, stored, want int) []string {
	if stored == want {
		return out
	}
	return append(out, fmt.Sprintf("%s: %s stored %d, expected %d", label, field, stored, want))
}

// SameSubjects reports whether two breakdowns hold the same counters. A nil
// breakdown equals an empty one.
func SameSubjects(a, b models.SubjectBreakdown) bool {
	if len(a) != len(b) {
		return false
	}
	for subject, x := range a {
		y, ok := b[subject]
		if !ok || x != y {
			return false
		}
	}
	return true
}
