package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/examstats/backend/internal/models"
	"github.com/google/uuid"
)

// MaxRangeDays caps the date range of a single daily statistics query.
const MaxRangeDays = 366

var ErrInvalidRange = errors.New("invalid date range")

// Repository is the persistence contract of the statistics core. Store is the
// Postgres implementation.
type Repository interface {
	// AppendExamAttempt stores the event; inserted is false when an event
	// with the same ID already exists.
	AppendExamAttempt(ctx context.Context, ev *models.ExamAttemptEvent) (inserted bool, err error)
	GetExamAttempt(ctx context.Context, id string) (*models.ExamAttemptEvent, error)
	AppendStudyTime(ctx context.Context, ev *models.StudyTimeEvent) (inserted bool, err error)

	InTx(ctx context.Context, fn func(tx Tx) error) error

	ListDailySummaries(ctx context.Context, userID string, from, to time.Time) ([]models.DailySummary, error)
	ListUserDaily(ctx context.Context, userID string, from, to time.Time) ([]models.UserDailyAggregate, error)
	GetLifetime(ctx context.Context, userID string) (*models.UserLifetimeAggregate, error)
	ListUsers(ctx context.Context) ([]string, error)

	GetGlobal(ctx context.Context, aggregateType string) (*models.GlobalAggregate, error)
	ScanGlobalTotals(ctx context.Context) (*GlobalTotals, error)
	// WriteGlobal replaces the global row only if its stored version still
	// equals expectedVersion (0 = row must not exist). Otherwise it returns
	// ErrVersionConflict.
	WriteGlobal(ctx context.Context, g *models.GlobalAggregate, expectedVersion int64) error
}

// Tx is the set of operations that run inside one aggregate transaction.
// Lock* methods return ErrNotFound when the row is absent; Insert* methods
// return ErrConflict when the row already exists.
type Tx interface {
	// LockUser serialises rebuilds (exclusive) against incremental updates
	// (shared) for one user.
	LockUser(ctx context.Context, userID string, exclusive bool) error
	MarkApplied(ctx context.Context, eventID, userID string) (fresh bool, err error)
	MarkEventsApplied(ctx context.Context, userID string, eventIDs []string) error

	LockDailySummary(ctx context.Context, userID string, day time.Time, examKey string) (*models.DailySummary, error)
	PriorDailySummary(ctx context.Context, userID string, day, since time.Time) (time.Time, int, bool, error)
	InsertDailySummary(ctx context.Context, row *models.DailySummary) error
	UpdateDailySummary(ctx context.Context, row *models.DailySummary) error

	LockUserDaily(ctx context.Context, userID string, day time.Time) (*models.UserDailyAggregate, error)
	PriorUserDaily(ctx context.Context, userID string, day, since time.Time) (time.Time, int, bool, error)
	InsertUserDaily(ctx context.Context, row *models.UserDailyAggregate) error
	UpdateUserDaily(ctx context.Context, row *models.UserDailyAggregate) error

	LockLifetime(ctx context.Context, userID string) (*models.UserLifetimeAggregate, error)
	InsertLifetime(ctx context.Context, row *models.UserLifetimeAggregate) error
	UpdateLifetime(ctx context.Context, row *models.UserLifetimeAggregate) error

	DeleteUserAggregates(ctx context.Context, userID string) error
	ListExamAttempts(ctx context.Context, userID string) ([]models.ExamAttemptEvent, error)
	ListStudyTime(ctx context.Context, userID string) ([]models.StudyTimeEvent, error)
	InsertDailySummaries(ctx context.Context, rows []models.DailySummary) error
	InsertUserDailies(ctx context.Context, rows []models.UserDailyAggregate) error
}

// GlobalCache holds the latest global aggregate outside the database.
type GlobalCache interface {
	Get(ctx context.Context, aggregateType string) (*models.GlobalAggregate, bool, error)
	Set(ctx context.Context, g *models.GlobalAggregate) error
}

// RebuildEnqueuer schedules an out-of-band rebuild for a user.
type RebuildEnqueuer interface {
	EnqueueRebuild(ctx context.Context, userID string) error
}

type Options struct {
	Location         *time.Location
	ExamScoped       bool
	StreakWindowDays int
	GlobalMaxRetries int
	Now              func() time.Time
}

type Service struct {
	repo          Repository
	loc           *time.Location
	examScoped    bool
	streaks       StreakCalculator
	globalRetries int
	now           func() time.Time

	cache    GlobalCache
	rebuilds RebuildEnqueuer
}

func NewService(repo Repository, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.GlobalMaxRetries < 1 {
		opts.GlobalMaxRetries = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:          repo,
		loc:           opts.Location,
		examScoped:    opts.ExamScoped,
		streaks:       StreakCalculator{WindowDays: opts.StreakWindowDays},
		globalRetries: opts.GlobalMaxRetries,
		now:           opts.Now,
	}
}

// SetCache injects the global aggregate cache.
func (s *Service) SetCache(c GlobalCache) {
	s.cache = c
}

// SetRebuildEnqueuer injects the job queue used to recover from failed
// incremental updates.
func (s *Service) SetRebuildEnqueuer(e RebuildEnqueuer) {
	s.rebuilds = e
}

// ── Recording ───────────────────────────────────────────

// RecordExamAttempt appends the event to the log and applies it to the
// aggregates. The event stays saved even when applying it fails; the error
// then wraps ErrStatisticsNotRecorded and a rebuild is scheduled.
func (s *Service) RecordExamAttempt(ctx context.Context, userID string, ev models.ExamAttemptEvent) (*models.ExamAttemptEvent, error) {
	now := s.now().UTC()
	ev.UserID = userID
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	} else if _, err := uuid.Parse(ev.ID); err != nil {
		return nil, fmt.Errorf("%w: event id must be a UUID", ErrInvalidEvent)
	}
	if ev.AttemptedAt.IsZero() {
		ev.AttemptedAt = now
	}
	if ev.ExamDate.IsZero() {
		ev.ExamDate = DayOf(ev.AttemptedAt, s.loc)
	}
	ev.ExamDate = DayOf(ev.ExamDate, time.UTC)
	ev.RecordedAt = now
	if err := ValidateExamAttempt(&ev); err != nil {
		return nil, err
	}

	inserted, err := s.repo.AppendExamAttempt(ctx, &ev)
	if err != nil {
		return nil, fmt.Errorf("append exam attempt: %w", err)
	}
	if !inserted {
		stored, err := s.repo.GetExamAttempt(ctx, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("get exam attempt %s: %w", ev.ID, err)
		}
		if stored.UserID != userID {
			return nil, fmt.Errorf("%w: event id already used", ErrInvalidEvent)
		}
		ev = *stored
	}

	if err := s.ApplyExamEvent(ctx, &ev); err != nil {
		log.Printf("[stats] failed to apply exam attempt %s for user %s: %v", ev.ID, userID, err)
		s.scheduleRebuild(ctx, userID)
		return &ev, fmt.Errorf("%w: %w", ErrStatisticsNotRecorded, err)
	}
	return &ev, nil
}

// RecordStudyTime logs a study-time report and applies it to the day's rows.
func (s *Service) RecordStudyTime(ctx context.Context, userID string, day time.Time, seconds int) (*models.StudyTimeEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidEvent)
	}
	if seconds <= 0 {
		return nil, fmt.Errorf("%w: seconds must be positive", ErrInvalidEvent)
	}
	now := s.now().UTC()
	if day.IsZero() {
		day = DayOf(now, s.loc)
	}
	ev := models.StudyTimeEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Day:        DayOf(day, time.UTC),
		Seconds:    seconds,
		RecordedAt: now,
	}

	if _, err := s.repo.AppendStudyTime(ctx, &ev); err != nil {
		return nil, fmt.Errorf("append study time: %w", err)
	}

	if err := s.ApplyStudyTime(ctx, &ev); err != nil {
		log.Printf("[stats] failed to apply study time %s for user %s: %v", ev.ID, userID, err)
		s.scheduleRebuild(ctx, userID)
		return &ev, fmt.Errorf("%w: %w", ErrStatisticsNotRecorded, err)
	}
	return &ev, nil
}

func (s *Service) scheduleRebuild(ctx context.Context, userID string) {
	if s.rebuilds == nil {
		return
	}
	if err := s.rebuilds.EnqueueRebuild(ctx, userID); err != nil {
		log.Printf("[stats] failed to enqueue rebuild for user %s: %v", userID, err)
	}
}

// ValidateExamAttempt rejects events whose counters cannot be aggregated.
func ValidateExamAttempt(ev *models.ExamAttemptEvent) error {
	switch {
	case ev.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidEvent)
	case ev.ExamName == "":
		return fmt.Errorf("%w: exam name is required", ErrInvalidEvent)
	case ev.TotalQuestions < 0 || ev.CorrectCount < 0 || ev.ElapsedTimeSeconds < 0:
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidEvent)
	case ev.CorrectCount > ev.TotalQuestions:
		return fmt.Errorf("%w: correct count %d exceeds total %d", ErrInvalidEvent, ev.CorrectCount, ev.TotalQuestions)
	}
	for subject, st := range ev.SubjectBreakdown {
		if subject == "" {
			return fmt.Errorf("%w: empty subject name", ErrInvalidEvent)
		}
		if st.Total < 0 || st.Correct < 0 || st.Correct > st.Total {
			return fmt.Errorf("%w: subject %q has counts %d/%d", ErrInvalidEvent, subject, st.Correct, st.Total)
		}
	}
	return nil
}

// ── Queries ─────────────────────────────────────────────

func (s *Service) GetDailyStatistics(ctx context.Context, userID string, from, to time.Time) ([]models.DailySummary, error) {
	from, to = DayOf(from, time.UTC), DayOf(to, time.UTC)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from.Format(models.DateLayout), to.Format(models.DateLayout))
	}
	if daysBetween(from, to) >= MaxRangeDays {
		return nil, fmt.Errorf("%w: at most %d days per query", ErrInvalidRange, MaxRangeDays)
	}
	rows, err := s.repo.ListDailySummaries(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list daily summaries: %w", err)
	}
	if rows == nil {
		rows = []models.DailySummary{}
	}
	return rows, nil
}

// GetRecentActivity returns the user's daily rows for the last days days,
// today included.
func (s *Service) GetRecentActivity(ctx context.Context, userID string, days int) ([]models.UserDailyAggregate, error) {
	if days < 1 || days > MaxRangeDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRange, MaxRangeDays)
	}
	to := DayOf(s.now(), s.loc)
	from := to.AddDate(0, 0, -(days - 1))
	rows, err := s.repo.ListUserDaily(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list user daily: %w", err)
	}
	if rows == nil {
		rows = []models.UserDailyAggregate{}
	}
	return rows, nil
}

// GetLifetimeStatistics returns the user's lifetime row, or a zero row when
// the user has no attempts yet.
func (s *Service) GetLifetimeStatistics(ctx context.Context, userID string) (*models.UserLifetimeAggregate, error) {
	lt, err := s.repo.GetLifetime(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &models.UserLifetimeAggregate{UserID: userID, SubjectBreakdown: models.SubjectBreakdown{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lifetime: %w", err)
	}
	return lt, nil
}

func (s *Service) GetGlobalStatistics(ctx context.Context) (*models.GlobalAggregate, error) {
	if s.cache != nil {
		g, ok, err := s.cache.Get(ctx, models.GlobalSummary)
		if err != nil {
			log.Printf("[stats] global cache read failed: %v", err)
		} else if ok {
			return g, nil
		}
	}

	g, err := s.repo.GetGlobal(ctx, models.GlobalSummary)
	if err != nil {
		return nil, fmt.Errorf("get global aggregate: %w", err)
	}
	s.cacheGlobal(ctx, g)
	return g, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]string, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Service) cacheGlobal(ctx context.Context, g *models.GlobalAggregate) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, g); err != nil {
		log.Printf("[stats] global cache write failed: %v", err)
	}
}
