package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/examstats/backend/internal/models"
	"github.com/lib/pq"
)

// userLockClass namespaces the per-user advisory locks.
const userLockClass = 7301

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}

// asDay drops the zone lib/pq attaches to DATE columns.
func asDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayParam(t time.Time) string {
	return t.Format(models.DateLayout)
}

// ── Event Log ───────────────────────────────────────────

func (s *Store) AppendExamAttempt(ctx context.Context, ev *models.ExamAttemptEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_attempt_events
		   (id, user_id, exam_name, exam_subject, exam_date, attempted_at,
		    correct_count, total_questions, elapsed_time_seconds, subject_breakdown, recorded_at)
		 VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.UserID, ev.ExamName, ev.ExamSubject, dayParam(ev.ExamDate), ev.AttemptedAt,
		ev.CorrectCount, ev.TotalQuestions, ev.ElapsedTimeSeconds, ev.SubjectBreakdown, ev.RecordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert exam attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const examAttemptColumns = `id, user_id, exam_name, exam_subject, exam_date, attempted_at,
	correct_count, total_questions, elapsed_time_seconds, subject_breakdown, recorded_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExamAttempt(row rowScanner) (*models.ExamAttemptEvent, error) {
	var ev models.ExamAttemptEvent
	err := row.Scan(&ev.ID, &ev.UserID, &ev.ExamName, &ev.ExamSubject, &ev.ExamDate, &ev.AttemptedAt,
		&ev.CorrectCount, &ev.TotalQuestions, &ev.ElapsedTimeSeconds, &ev.SubjectBreakdown, &ev.RecordedAt)
	if err != nil {
		return nil, err
	}
	ev.ExamDate = asDay(ev.ExamDate)
	return &ev, nil
}

func (s *Store) GetExamAttempt(ctx context.Context, id string) (*models.ExamAttemptEvent, error) {
	ev, err := scanExamAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+examAttemptColumns+` FROM exam_attempt_events WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam attempt: %w", err)
	}
	return ev, nil
}

func (s *Store) AppendStudyTime(ctx context.Context, ev *models.StudyTimeEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO study_time_events (id, user_id, day, seconds, recorded_at)
		 VALUES ($1, $2, $3::date, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.UserID, dayParam(ev.Day), ev.Seconds, ev.RecordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert study time: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ── Transactions ────────────────────────────────────────

// InTx runs fn in one transaction, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockUser(ctx context.Context, userID string, exclusive bool) error {
	query := `SELECT pg_advisory_xact_lock_shared($1::int, hashtext($2))`
	if exclusive {
		query = `SELECT pg_advisory_xact_lock($1::int, hashtext($2))`
	}
	_, err := t.tx.ExecContext(ctx, query, userLockClass, userID)
	return err
}

func (t *pgTx) MarkApplied(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO applied_events (event_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, userID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *pgTx) MarkEventsApplied(ctx context.Context, userID string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO applied_events (event_id, user_id)
		 SELECT id, $2 FROM unnest($1::uuid[]) AS id
		 ON CONFLICT (event_id) DO NOTHING`,
		pq.Array(eventIDs), userID,
	)
	return err
}

// ── Daily Summaries ─────────────────────────────────────

const dailySummaryColumns = `user_id, date, exam_key, attempt_count, total_questions,
	correct_questions, study_time_seconds, subject_breakdown, streak, last_updated`

func scanDailySummary(row rowScanner) (*models.DailySummary, error) {
	var d models.DailySummary
	err := row.Scan(&d.UserID, &d.Date, &d.ExamKey, &d.AttemptCount, &d.TotalQuestions,
		&d.CorrectQuestions, &d.StudyTimeSeconds, &d.SubjectBreakdown, &d.Streak, &d.LastUpdated)
	if err != nil {
		return nil, err
	}
	d.Date = asDay(d.Date)
	return &d, nil
}

func (t *pgTx) LockDailySummary(ctx context.Context, userID string, day time.Time, examKey string) (*models.DailySummary, error) {
	d, err := scanDailySummary(t.tx.QueryRowContext(ctx,
		`SELECT `+dailySummaryColumns+` FROM daily_summaries
		 WHERE user_id = $1 AND date = $2::date AND exam_key = $3
		 FOR UPDATE`,
		userID, dayParam(day), examKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (t *pgTx) PriorDailySummary(ctx context.Context, userID string, day, since time.Time) (time.Time, int, bool, error) {
	return t.prior(ctx, `SELECT date, MAX(streak) FROM daily_summaries
		 WHERE user_id = $1 AND date <= $2::date AND date >= $3::date
		 GROUP BY date ORDER BY date DESC LIMIT 1`, userID, day, since)
}

func (t *pgTx) prior(ctx context.Context, query, userID string, day, since time.Time) (time.Time, int, bool, error) {
	var prev time.Time
	var streak int
	err := t.tx.QueryRowContext(ctx, query, userID, dayParam(day), dayParam(since)).Scan(&prev, &streak)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, 0, false, nil
	}
	if err != nil {
		return time.Time{}, 0, false, err
	}
	return asDay(prev), streak, true, nil
}

func (t *pgTx) InsertDailySummary(ctx context.Context, d *models.DailySummary) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO daily_summaries (`+dailySummaryColumns+`)
		 VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, date, exam_key) DO NOTHING`,
		d.UserID, dayParam(d.Date), d.ExamKey, d.AttemptCount, d.TotalQuestions,
		d.CorrectQuestions, d.StudyTimeSeconds, d.SubjectBreakdown, d.Streak, d.LastUpdated,
	)
	return insertResult(res, err)
}

func (t *pgTx) UpdateDailySummary(ctx context.Context, d *models.DailySummary) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE daily_summaries
		 SET attempt_count = $4, total_questions = $5, correct_questions = $6,
		     study_time_seconds = $7, subject_breakdown = $8, last_updated = $9
		 WHERE user_id = $1 AND date = $2::date AND exam_key = $3`,
		d.UserID, dayParam(d.Date), d.ExamKey, d.AttemptCount, d.TotalQuestions,
		d.CorrectQuestions, d.StudyTimeSeconds, d.SubjectBreakdown, d.LastUpdated,
	)
	return err
}

// insertResult turns an ON CONFLICT DO NOTHING that inserted nothing into
// ErrConflict.
func insertResult(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ── User Daily ──────────────────────────────────────────

const userDailyColumns = `user_id, date, solved_count, correct_count, study_time_seconds, streak, last_updated`

func scanUserDaily(row rowScanner) (*models.UserDailyAggregate, error) {
	var d models.UserDailyAggregate
	err := row.Scan(&d.UserID, &d.Date, &d.SolvedCount, &d.CorrectCount, &d.StudyTimeSeconds, &d.Streak, &d.LastUpdated)
	if err != nil {
		return nil, err
	}
	d.Date = asDay(d.Date)
	return &d, nil
}

func (t *pgTx) LockUserDaily(ctx context.Context, userID string, day time.Time) (*models.UserDailyAggregate, error) {
	d, err := scanUserDaily(t.tx.QueryRowContext(ctx,
		`SELECT `+userDailyColumns+` FROM user_daily_aggregates
		 WHERE user_id = $1 AND date = $2::date
		 FOR UPDATE`,
		userID, dayParam(day)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (t *pgTx) PriorUserDaily(ctx context.Context, userID string, day, since time.Time) (time.Time, int, bool, error) {
	return t.prior(ctx, `SELECT date, streak FROM user_daily_aggregates
		 WHERE user_id = $1 AND date <= $2::date AND date >= $3::date
		 ORDER BY date DESC LIMIT 1`, userID, day, since)
}

func (t *pgTx) InsertUserDaily(ctx context.Context, d *models.UserDailyAggregate) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO user_daily_aggregates (`+userDailyColumns+`)
		 VALUES ($1, $2::date, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, date) DO NOTHING`,
		d.UserID, dayParam(d.Date), d.SolvedCount, d.CorrectCount, d.StudyTimeSeconds, d.Streak, d.LastUpdated,
	)
	return insertResult(res, err)
}

func (t *pgTx) UpdateUserDaily(ctx context.Context, d *models.UserDailyAggregate) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE user_daily_aggregates
		 SET solved_count = $3, correct_count = $4, study_time_seconds = $5, last_updated = $6
		 WHERE user_id = $1 AND date = $2::date`,
		d.UserID, dayParam(d.Date), d.SolvedCount, d.CorrectCount, d.StudyTimeSeconds, d.LastUpdated,
	)
	return err
}

// ── Lifetime ────────────────────────────────────────────

const lifetimeColumns = `user_id, total_attempts, total_questions, total_correct,
	average_score_percent, subject_breakdown, last_updated`

func scanLifetime(row rowScanner) (*models.UserLifetimeAggregate, error) {
	var l models.UserLifetimeAggregate
	err := row.Scan(&l.UserID, &l.TotalAttempts, &l.TotalQuestions, &l.TotalCorrect,
		&l.AverageScorePercent, &l.SubjectBreakdown, &l.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *pgTx) LockLifetime(ctx context.Context, userID string) (*models.UserLifetimeAggregate, error) {
	l, err := scanLifetime(t.tx.QueryRowContext(ctx,
		`SELECT `+lifetimeColumns+` FROM user_lifetime_aggregates WHERE user_id = $1 FOR UPDATE`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

func (t *pgTx) InsertLifetime(ctx context.Context, l *models.UserLifetimeAggregate) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO user_lifetime_aggregates (`+lifetimeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO NOTHING`,
		l.UserID, l.TotalAttempts, l.TotalQuestions, l.TotalCorrect,
		l.AverageScorePercent, l.SubjectBreakdown, l.LastUpdated,
	)
	return insertResult(res, err)
}

func (t *pgTx) UpdateLifetime(ctx context.Context, l *models.UserLifetimeAggregate) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE user_lifetime_aggregates
		 SET total_attempts = $2, total_questions = $3, total_correct = $4,
		     average_score_percent = $5, subject_breakdown = $6, last_updated = $7
		 WHERE user_id = $1`,
		l.UserID, l.TotalAttempts, l.TotalQuestions, l.TotalCorrect,
		l.AverageScorePercent, l.SubjectBreakdown, l.LastUpdated,
	)
	return err
}

// ── Rebuild ─────────────────────────────────────────────

func (t *pgTx) DeleteUserAggregates(ctx context.Context, userID string) error {
	for _, table := range []string{"daily_summaries", "user_daily_aggregates", "user_lifetime_aggregates"} {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

func (t *pgTx) ListExamAttempts(ctx context.Context, userID string) ([]models.ExamAttemptEvent, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+examAttemptColumns+` FROM exam_attempt_events
		 WHERE user_id = $1 ORDER BY attempted_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ExamAttemptEvent
	for rows.Next() {
		ev, err := scanExamAttempt(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func (t *pgTx) ListStudyTime(ctx context.Context, userID string) ([]models.StudyTimeEvent, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, user_id, day, seconds, recorded_at FROM study_time_events
		 WHERE user_id = $1 ORDER BY day, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.StudyTimeEvent
	for rows.Next() {
		var ev models.StudyTimeEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Day, &ev.Seconds, &ev.RecordedAt); err != nil {
			return nil, err
		}
		ev.Day = asDay(ev.Day)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// copyRows bulk-loads rows with COPY. Each row must match columns.
func (t *pgTx) copyRows(ctx context.Context, table string, columns []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return fmt.Errorf("prepare copy %s: %w", table, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			return fmt.Errorf("copy %s: %w", table, mapError(err))
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush copy %s: %w", table, mapError(err))
	}
	return nil
}

func subjectsText(b models.SubjectBreakdown) (string, error) {
	v, err := b.Value()
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *pgTx) InsertDailySummaries(ctx context.Context, summaries []models.DailySummary) error {
	rows := make([][]interface{}, 0, len(summaries))
	for _, d := range summaries {
		subjects, err := subjectsText(d.SubjectBreakdown)
		if err != nil {
			return err
		}
		rows = append(rows, []interface{}{
			d.UserID, dayParam(d.Date), d.ExamKey, d.AttemptCount, d.TotalQuestions,
			d.CorrectQuestions, d.StudyTimeSeconds, subjects, d.Streak, d.LastUpdated,
		})
	}
	return t.copyRows(ctx, "daily_summaries", []string{
		"user_id", "date", "exam_key", "attempt_count", "total_questions",
		"correct_questions", "study_time_seconds", "subject_breakdown", "streak", "last_updated",
	}, rows)
}

func (t *pgTx) InsertUserDailies(ctx context.Context, daily []models.UserDailyAggregate) error {
	rows := make([][]interface{}, 0, len(daily))
	for _, d := range daily {
		rows = append(rows, []interface{}{
			d.UserID, dayParam(d.Date), d.SolvedCount, d.CorrectCount, d.StudyTimeSeconds, d.Streak, d.LastUpdated,
		})
	}
	return t.copyRows(ctx, "user_daily_aggregates", []string{
		"user_id", "date", "solved_count", "correct_count", "study_time_seconds", "streak", "last_updated",
	}, rows)
}

// ── Queries ─────────────────────────────────────────────

func (s *Store) ListDailySummaries(ctx context.Context, userID string, from, to time.Time) ([]models.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dailySummaryColumns+` FROM daily_summaries
		 WHERE user_id = $1 AND date BETWEEN $2::date AND $3::date
		 ORDER BY date, exam_key`,
		userID, dayParam(from), dayParam(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DailySummary
	for rows.Next() {
		d, err := scanDailySummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) ListUserDaily(ctx context.Context, userID string, from, to time.Time) ([]models.UserDailyAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userDailyColumns+` FROM user_daily_aggregates
		 WHERE user_id = $1 AND date BETWEEN $2::date AND $3::date
		 ORDER BY date`,
		userID, dayParam(from), dayParam(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserDailyAggregate
	for rows.Next() {
		d, err := scanUserDaily(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) GetLifetime(ctx context.Context, userID string) (*models.UserLifetimeAggregate, error) {
	l, err := scanLifetime(s.db.QueryRowContext(ctx,
		`SELECT `+lifetimeColumns+` FROM user_lifetime_aggregates WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// ListUsers returns every user with at least one logged event.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM exam_attempt_events
		 UNION
		 SELECT user_id FROM study_time_events
		 ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// ── Global ──────────────────────────────────────────────

func (s *Store) GetGlobal(ctx context.Context, aggregateType string) (*models.GlobalAggregate, error) {
	var g models.GlobalAggregate
	err := s.db.QueryRowContext(ctx,
		`SELECT aggregate_type, total_users, total_study_time_seconds, total_solved, total_correct,
		        total_streak, avg_study_time, avg_solved_count, avg_correct_rate, avg_streak,
		        last_updated, version
		 FROM global_aggregates WHERE aggregate_type = $1`,
		aggregateType,
	).Scan(&g.AggregateType, &g.TotalUsers, &g.TotalStudyTimeSeconds, &g.TotalSolved, &g.TotalCorrect,
		&g.TotalStreak, &g.AvgStudyTime, &g.AvgSolvedCount, &g.AvgCorrectRate, &g.AvgStreak,
		&g.LastUpdated, &g.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ScanGlobalTotals reads all per-user aggregates from one snapshot.
func (s *Store) ScanGlobalTotals(ctx context.Context) (*GlobalTotals, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	totals := &GlobalTotals{ActivityDays: make(map[string][]time.Time)}
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (
		   SELECT user_id FROM user_lifetime_aggregates
		   UNION
		   SELECT user_id FROM user_daily_aggregates
		 ) users`,
	).Scan(&totals.Users)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(study_time_seconds), 0), COALESCE(SUM(solved_count), 0),
		        COALESCE(SUM(correct_count), 0)
		 FROM user_daily_aggregates`,
	).Scan(&totals.StudyTimeSeconds, &totals.Solved, &totals.Correct)
	if err != nil {
		return nil, fmt.Errorf("sum daily aggregates: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT user_id, date FROM user_daily_aggregates ORDER BY user_id, date DESC`)
	if err != nil {
		return nil, fmt.Errorf("list activity days: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		var day time.Time
		if err := rows.Scan(&userID, &day); err != nil {
			return nil, err
		}
		totals.ActivityDays[userID] = append(totals.ActivityDays[userID], asDay(day))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) WriteGlobal(ctx context.Context, g *models.GlobalAggregate, expectedVersion int64) error {
	args := []interface{}{
		g.AggregateType, g.TotalUsers, g.TotalStudyTimeSeconds, g.TotalSolved, g.TotalCorrect,
		g.TotalStreak, g.AvgStudyTime, g.AvgSolvedCount, g.AvgCorrectRate, g.AvgStreak,
		g.LastUpdated, g.Version,
	}

	var res sql.Result
	var err error
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO global_aggregates
			   (aggregate_type, total_users, total_study_time_seconds, total_solved, total_correct,
			    total_streak, avg_study_time, avg_solved_count, avg_correct_rate, avg_streak,
			    last_updated, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (aggregate_type) DO NOTHING`,
			args...)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE global_aggregates
			 SET total_users = $2, total_study_time_seconds = $3, total_solved = $4, total_correct = $5,
			     total_streak = $6, avg_study_time = $7, avg_solved_count = $8, avg_correct_rate = $9,
			     avg_streak = $10, last_updated = $11, version = $12
			 WHERE aggregate_type = $1 AND version = $13`,
			append(args, expectedVersion)...)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}
