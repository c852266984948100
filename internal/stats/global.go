package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/examstats/backend/internal/models"
	"github.com/shopspring/decimal"
)

// averagePlaces is the number of decimal places kept on global averages.
const averagePlaces = 4

// GlobalTotals is one consistent scan of every user's aggregates.
type GlobalTotals struct {
	Users            int64
	StudyTimeSeconds int64
	Solved           int64
	Correct          int64
	// ActivityDays holds each user's days with a daily row.
	ActivityDays map[string][]time.Time
}

// ComputeGlobal derives the site-wide row from raw totals. Per-user streaks are
// re-walked from each user's daily history instead of read from stored rows.
func ComputeGlobal(t *GlobalTotals, now time.Time) *models.GlobalAggregate {
	g := &models.GlobalAggregate{
		AggregateType:         models.GlobalSummary,
		TotalUsers:            t.Users,
		TotalStudyTimeSeconds: t.StudyTimeSeconds,
		TotalSolved:           t.Solved,
		TotalCorrect:          t.Correct,
		LastUpdated:           now,
	}
	for _, days := range t.ActivityDays {
		g.TotalStreak += int64(CurrentStreak(days))
	}

	g.AvgStudyTime = ratio(g.TotalStudyTimeSeconds, g.TotalUsers)
	g.AvgSolvedCount = ratio(g.TotalSolved, g.TotalUsers)
	g.AvgCorrectRate = ratio(g.TotalCorrect, g.TotalSolved)
	g.AvgStreak = ratio(g.TotalStreak, g.TotalUsers)
	return g
}

func ratio(num, den int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), averagePlaces)
}

// RefreshGlobalStatistics recomputes the site-wide row and writes it with an
// optimistic version check, retrying the whole computation when another
// writer got there first.
func (s *Service) RefreshGlobalStatistics(ctx context.Context) (*models.GlobalAggregate, error) {
	var lastErr error
	for attempt := 1; attempt <= s.globalRetries; attempt++ {
		g, err := s.refreshGlobalOnce(ctx)
		if err == nil {
			log.Printf("[stats] global aggregate refreshed: version %d, %d users", g.Version, g.TotalUsers)
			s.cacheGlobal(ctx, g)
			return g, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		log.Printf("[stats] global aggregate version conflict (attempt %d/%d)", attempt, s.globalRetries)
	}
	return nil, fmt.Errorf("refresh global aggregate after %d attempts: %w", s.globalRetries, lastErr)
}

func (s *Service) refreshGlobalOnce(ctx context.Context) (*models.GlobalAggregate, error) {
	var expected int64
	current, err := s.repo.GetGlobal(ctx, models.GlobalSummary)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("get global aggregate: %w", err)
	default:
		expected = current.Version
	}

	totals, err := s.repo.ScanGlobalTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan global totals: %w", err)
	}

	g := ComputeGlobal(totals, s.now().UTC())
	g.Version = expected + 1
	if err := s.repo.WriteGlobal(ctx, g, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("write global aggregate: %w", err)
	}
	return g, nil
}
