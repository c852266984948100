package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/examstats/backend/internal/models"
)

type memKey struct {
	user    string
	day     time.Time
	examKey string
}

// memRepo is an in-memory Repository. Transactions are serialised and roll
// back on error.
type memRepo struct {
	mu sync.Mutex

	exams   []models.ExamAttemptEvent
	studies []models.StudyTimeEvent
	applied map[string]bool

	summaries map[memKey]models.DailySummary
	daily     map[memKey]models.UserDailyAggregate
	lifetime  map[string]models.UserLifetimeAggregate
	global    *models.GlobalAggregate

	// lockErr fails every aggregate transaction at LockUser.
	lockErr error
	// beforeSummaryInsert runs once, just before the next summary insert.
	beforeSummaryInsert func(r *memRepo, row *models.DailySummary)
	// beforeGlobalWrite runs before every conditional global write.
	beforeGlobalWrite func(r *memRepo)
	globalWrites      int
}

func newMemRepo() *memRepo {
	return &memRepo{
		applied:   make(map[string]bool),
		summaries: make(map[memKey]models.DailySummary),
		daily:     make(map[memKey]models.UserDailyAggregate),
		lifetime:  make(map[string]models.UserLifetimeAggregate),
	}
}

func (r *memRepo) AppendExamAttempt(_ context.Context, ev *models.ExamAttemptEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.exams {
		if e.ID == ev.ID {
			return false, nil
		}
	}
	r.exams = append(r.exams, *ev)
	return true, nil
}

func (r *memRepo) GetExamAttempt(_ context.Context, id string) (*models.ExamAttemptEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.exams {
		if e.ID == id {
			ev := e
			return &ev, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) AppendStudyTime(_ context.Context, ev *models.StudyTimeEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.studies = append(r.studies, *ev)
	return true, nil
}

func (r *memRepo) InTx(_ context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := make(map[string]bool, len(r.applied))
	for k, v := range r.applied {
		applied[k] = v
	}
	summaries := make(map[memKey]models.DailySummary, len(r.summaries))
	for k, v := range r.summaries {
		summaries[k] = v
	}
	daily := make(map[memKey]models.UserDailyAggregate, len(r.daily))
	for k, v := range r.daily {
		daily[k] = v
	}
	lifetime := make(map[string]models.UserLifetimeAggregate, len(r.lifetime))
	for k, v := range r.lifetime {
		lifetime[k] = v
	}

	if err := fn(&memTx{r: r}); err != nil {
		r.applied, r.summaries, r.daily, r.lifetime = applied, summaries, daily, lifetime
		return err
	}
	return nil
}

func (r *memRepo) ListDailySummaries(_ context.Context, userID string, from, to time.Time) ([]models.DailySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DailySummary
	for k, v := range r.summaries {
		if k.user == userID && !k.day.Before(from) && !k.day.After(to) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ExamKey < out[j].ExamKey
	})
	return out, nil
}

func (r *memRepo) ListUserDaily(_ context.Context, userID string, from, to time.Time) ([]models.UserDailyAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UserDailyAggregate
	for k, v := range r.daily {
		if k.user == userID && !k.day.Before(from) && !k.day.After(to) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *memRepo) GetLifetime(_ context.Context, userID string) (*models.UserLifetimeAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lifetime[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (r *memRepo) ListUsers(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var users []string
	for _, e := range r.exams {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			users = append(users, e.UserID)
		}
	}
	for _, e := range r.studies {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			users = append(users, e.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (r *memRepo) GetGlobal(_ context.Context, aggregateType string) (*models.GlobalAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.global == nil || r.global.AggregateType != aggregateType {
		return nil, ErrNotFound
	}
	g := *r.global
	return &g, nil
}

func (r *memRepo) ScanGlobalTotals(context.Context) (*GlobalTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &GlobalTotals{ActivityDays: make(map[string][]time.Time)}
	users := make(map[string]bool)
	for u := range r.lifetime {
		users[u] = true
	}
	for k, v := range r.daily {
		users[k.user] = true
		t.StudyTimeSeconds += int64(v.StudyTimeSeconds)
		t.Solved += int64(v.SolvedCount)
		t.Correct += int64(v.CorrectCount)
		t.ActivityDays[k.user] = append(t.ActivityDays[k.user], k.day)
	}
	t.Users = int64(len(users))
	return t, nil
}

func (r *memRepo) WriteGlobal(_ context.Context, g *models.GlobalAggregate, expectedVersion int64) error {
	if r.beforeGlobalWrite != nil {
		r.beforeGlobalWrite(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globalWrites++

	var current int64
	if r.global != nil {
		current = r.global.Version
	}
	if current != expectedVersion {
		return ErrVersionConflict
	}
	stored := *g
	r.global = &stored
	return nil
}

// bumpGlobal simulates another writer committing a newer global row.
func (r *memRepo) bumpGlobal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.global == nil {
		r.global = &models.GlobalAggregate{AggregateType: models.GlobalSummary}
	}
	r.global.Version++
}

type memTx struct {
	r *memRepo
}

func (t *memTx) LockUser(context.Context, string, bool) error {
	return t.r.lockErr
}

func (t *memTx) MarkApplied(_ context.Context, eventID, _ string) (bool, error) {
	if t.r.applied[eventID] {
		return false, nil
	}
	t.r.applied[eventID] = true
	return true, nil
}

func (t *memTx) MarkEventsApplied(_ context.Context, _ string, ids []string) error {
	for _, id := range ids {
		t.r.applied[id] = true
	}
	return nil
}

func (t *memTx) LockDailySummary(_ context.Context, userID string, day time.Time, examKey string) (*models.DailySummary, error) {
	row, ok := t.r.summaries[memKey{userID, day, examKey}]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (t *memTx) PriorDailySummary(_ context.Context, userID string, day, since time.Time) (time.Time, int, bool, error) {
	var best time.Time
	streak, found := 0, false
	for k, v := range t.r.summaries {
		if k.user != userID || k.day.After(day) || k.day.Before(since) {
			continue
		}
		switch {
		case !found || k.day.After(best):
			best, streak, found = k.day, v.Streak, true
		case k.day.Equal(best) && v.Streak > streak:
			streak = v.Streak
		}
	}
	return best, streak, found, nil
}

func (t *memTx) InsertDailySummary(_ context.Context, row *models.DailySummary) error {
	if hook := t.r.beforeSummaryInsert; hook != nil {
		t.r.beforeSummaryInsert = nil
		hook(t.r, row)
	}
	k := memKey{row.UserID, row.Date, row.ExamKey}
	if _, ok := t.r.summaries[k]; ok {
		return ErrConflict
	}
	t.r.summaries[k] = *row
	return nil
}

func (t *memTx) UpdateDailySummary(_ context.Context, row *models.DailySummary) error {
	t.r.summaries[memKey{row.UserID, row.Date, row.ExamKey}] = *row
	return nil
}

func (t *memTx) LockUserDaily(_ context.Context, userID string, day time.Time) (*models.UserDailyAggregate, error) {
	row, ok := t.r.daily[memKey{user: userID, day: day}]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (t *memTx) PriorUserDaily(_ context.Context, userID string, day, since time.Time) (time.Time, int, bool, error) {
	var best time.Time
	streak, found := 0, false
	for k, v := range t.r.daily {
		if k.user != userID || k.day.After(day) || k.day.Before(since) {
			continue
		}
		if !found || k.day.After(best) {
			best, streak, found = k.day, v.Streak, true
		}
	}
	return best, streak, found, nil
}

func (t *memTx) InsertUserDaily(_ context.Context, row *models.UserDailyAggregate) error {
	k := memKey{user: row.UserID, day: row.Date}
	if _, ok := t.r.daily[k]; ok {
		return ErrConflict
	}
	t.r.daily[k] = *row
	return nil
}

func (t *memTx) UpdateUserDaily(_ context.Context, row *models.UserDailyAggregate) error {
	t.r.daily[memKey{user: row.UserID, day: row.Date}] = *row
	return nil
}

func (t *memTx) LockLifetime(_ context.Context, userID string) (*models.UserLifetimeAggregate, error) {
	row, ok := t.r.lifetime[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (t *memTx) InsertLifetime(_ context.Context, row *models.UserLifetimeAggregate) error {
	if _, ok := t.r.lifetime[row.UserID]; ok {
		return ErrConflict
	}
	t.r.lifetime[row.UserID] = *row
	return nil
}

func (t *memTx) UpdateLifetime(_ context.Context, row *models.UserLifetimeAggregate) error {
	t.r.lifetime[row.UserID] = *row
	return nil
}

func (t *memTx) DeleteUserAggregates(_ context.Context, userID string) error {
	for k := range t.r.summaries {
		if k.user == userID {
			delete(t.r.summaries, k)
		}
	}
	for k := range t.r.daily {
		if k.user == userID {
			delete(t.r.daily, k)
		}
	}
	delete(t.r.lifetime, userID)
	return nil
}

func (t *memTx) ListExamAttempts(_ context.Context, userID string) ([]models.ExamAttemptEvent, error) {
	var out []models.ExamAttemptEvent
	for _, e := range t.r.exams {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.Before(out[j].AttemptedAt) })
	return out, nil
}

func (t *memTx) ListStudyTime(_ context.Context, userID string) ([]models.StudyTimeEvent, error) {
	var out []models.StudyTimeEvent
	for _, e := range t.r.studies {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) InsertDailySummaries(ctx context.Context, rows []models.DailySummary) error {
	for i := range rows {
		if err := t.InsertDailySummary(ctx, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) InsertUserDailies(ctx context.Context, rows []models.UserDailyAggregate) error {
	for i := range rows {
		if err := t.InsertUserDaily(ctx, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

type memCache struct {
	mu   sync.Mutex
	rows map[string]models.GlobalAggregate
	sets int
}

func newMemCache() *memCache {
	return &memCache{rows: make(map[string]models.GlobalAggregate)}
}

func (c *memCache) Get(_ context.Context, aggregateType string) (*models.GlobalAggregate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.rows[aggregateType]
	if !ok {
		return nil, false, nil
	}
	return &g, true, nil
}

func (c *memCache) Set(_ context.Context, g *models.GlobalAggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.rows[g.AggregateType] = *g
	return nil
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	users []string
}

func (e *recordingEnqueuer) EnqueueRebuild(_ context.Context, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users = append(e.users, userID)
	return nil
}
