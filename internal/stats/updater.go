package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/examstats/backend/internal/models"
)

// contribution is what one event adds to the aggregates it touches.
type contribution struct {
	Attempts     int
	Questions    int
	Correct      int
	StudySeconds int
	Subjects     models.SubjectBreakdown
}

func examContribution(ev *models.ExamAttemptEvent) contribution {
	return contribution{
		Attempts:  1,
		Questions: ev.TotalQuestions,
		Correct:   ev.CorrectCount,
		Subjects:  ev.SubjectBreakdown,
	}
}

func (c contribution) addToSummary(row *models.DailySummary) {
	row.AttemptCount += c.Attempts
	row.TotalQuestions += c.Questions
	row.CorrectQuestions += c.Correct
	row.StudyTimeSeconds += c.StudySeconds
	row.SubjectBreakdown = MergeSubjects(row.SubjectBreakdown, c.Subjects)
}

func (c contribution) addToDaily(row *models.UserDailyAggregate) {
	row.SolvedCount += c.Questions
	row.CorrectCount += c.Correct
	row.StudyTimeSeconds += c.StudySeconds
}

func (c contribution) addToLifetime(row *models.UserLifetimeAggregate) {
	row.TotalAttempts += c.Attempts
	row.TotalQuestions += c.Questions
	row.TotalCorrect += c.Correct
	row.AverageScorePercent = ScorePercent(row.TotalCorrect, row.TotalQuestions)
	row.SubjectBreakdown = MergeSubjects(row.SubjectBreakdown, c.Subjects)
}

func (s *Service) examKeyFor(ev *models.ExamAttemptEvent) string {
	if !s.examScoped {
		return ""
	}
	return ev.ExamKey()
}

// ApplyExamEvent merges one exam attempt into the day's summary row, the
// user's daily row and the lifetime row. Events already applied are skipped.
func (s *Service) ApplyExamEvent(ctx context.Context, ev *models.ExamAttemptEvent) error {
	day := DayOf(ev.AttemptedAt, s.loc)
	key := s.examKeyFor(ev)
	c := examContribution(ev)

	return s.repo.InTx(ctx, func(tx Tx) error {
		if err := tx.LockUser(ctx, ev.UserID, false); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		fresh, err := tx.MarkApplied(ctx, ev.ID, ev.UserID)
		if err != nil {
			return fmt.Errorf("mark applied: %w", err)
		}
		if !fresh {
			log.Printf("[stats] exam attempt %s already applied, skipping", ev.ID)
			return nil
		}

		now := s.now().UTC()
		if err := s.upsertDailySummary(ctx, tx, ev.UserID, day, key, c, now); err != nil {
			return err
		}
		if err := s.upsertUserDaily(ctx, tx, ev.UserID, day, c, now); err != nil {
			return err
		}
		return s.upsertLifetime(ctx, tx, ev.UserID, c, now)
	})
}

// ApplyStudyTime adds study seconds to the day's rows. Question counters and
// the lifetime row are untouched.
func (s *Service) ApplyStudyTime(ctx context.Context, ev *models.StudyTimeEvent) error {
	day := DayOf(ev.Day, time.UTC)
	c := contribution{StudySeconds: ev.Seconds}

	return s.repo.InTx(ctx, func(tx Tx) error {
		if err := tx.LockUser(ctx, ev.UserID, false); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		fresh, err := tx.MarkApplied(ctx, ev.ID, ev.UserID)
		if err != nil {
			return fmt.Errorf("mark applied: %w", err)
		}
		if !fresh {
			return nil
		}

		now := s.now().UTC()
		if err := s.upsertDailySummary(ctx, tx, ev.UserID, day, "", c, now); err != nil {
			return err
		}
		return s.upsertUserDaily(ctx, tx, ev.UserID, day, c, now)
	})
}

func (s *Service) upsertDailySummary(ctx context.Context, tx Tx, userID string, day time.Time, key string, c contribution, now time.Time) error {
	row, err := tx.LockDailySummary(ctx, userID, day, key)
	switch {
	case errors.Is(err, ErrNotFound):
		streak, err := s.streaks.StreakFor(ctx, tx.PriorDailySummary, userID, day)
		if err != nil {
			return fmt.Errorf("daily summary streak: %w", err)
		}
		row = &models.DailySummary{UserID: userID, Date: day, ExamKey: key, Streak: streak}
		c.addToSummary(row)
		row.LastUpdated = now

		err = tx.InsertDailySummary(ctx, row)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("insert daily summary: %w", err)
		}
		log.Printf("[stats] daily summary %s %s %q created concurrently, applying as update",
			userID, day.Format(models.DateLayout), key)
		if row, err = tx.LockDailySummary(ctx, userID, day, key); err != nil {
			return fmt.Errorf("lock daily summary after conflict: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lock daily summary: %w", err)
	}

	c.addToSummary(row)
	row.LastUpdated = now
	if err := tx.UpdateDailySummary(ctx, row); err != nil {
		return fmt.Errorf("update daily summary: %w", err)
	}
	return nil
}

func (s *Service) upsertUserDaily(ctx context.Context, tx Tx, userID string, day time.Time, c contribution, now time.Time) error {
	row, err := tx.LockUserDaily(ctx, userID, day)
	switch {
	case errors.Is(err, ErrNotFound):
		streak, err := s.streaks.StreakFor(ctx, tx.PriorUserDaily, userID, day)
		if err != nil {
			return fmt.Errorf("user daily streak: %w", err)
		}
		row = &models.UserDailyAggregate{UserID: userID, Date: day, Streak: streak}
		c.addToDaily(row)
		row.LastUpdated = now

		err = tx.InsertUserDaily(ctx, row)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("insert user daily: %w", err)
		}
		log.Printf("[stats] user daily %s %s created concurrently, applying as update",
			userID, day.Format(models.DateLayout))
		if row, err = tx.LockUserDaily(ctx, userID, day); err != nil {
			return fmt.Errorf("lock user daily after conflict: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lock user daily: %w", err)
	}

	c.addToDaily(row)
	row.LastUpdated = now
	if err := tx.UpdateUserDaily(ctx, row); err != nil {
		return fmt.Errorf("update user daily: %w", err)
	}
	return nil
}

func (s *Service) upsertLifetime(ctx context.Context, tx Tx, userID string, c contribution, now time.Time) error {
	row, err := tx.LockLifetime(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		row = &models.UserLifetimeAggregate{UserID: userID}
		c.addToLifetime(row)
		row.LastUpdated = now

		err = tx.InsertLifetime(ctx, row)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("insert lifetime: %w", err)
		}
		if row, err = tx.LockLifetime(ctx, userID); err != nil {
			return fmt.Errorf("lock lifetime after conflict: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lock lifetime: %w", err)
	}

	c.addToLifetime(row)
	row.LastUpdated = now
	if err := tx.UpdateLifetime(ctx, row); err != nil {
		return fmt.Errorf("update lifetime: %w", err)
	}
	return nil
}
