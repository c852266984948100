package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// GlobalSummary is the aggregate type of the site-wide summary row.
const GlobalSummary = "summary"

// ── Subject Breakdown ─────────────────────────────────────

type SubjectStat struct {
	Total               int `json:"total"`
	Correct             int `json:"correct"`
	AverageScorePercent int `json:"average_score_percent"`
}

// SubjectBreakdown maps a subject name to its counters. Stored as JSONB.
type SubjectBreakdown map[string]SubjectStat

// Value encodes as a string; lib/pq sends []byte as bytea, which jsonb rejects.
func (b SubjectBreakdown) Value() (driver.Value, error) {
	if b == nil {
		return "{}", nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (b *SubjectBreakdown) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*b = SubjectBreakdown{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("subject breakdown: unsupported type %T", src)
	}
	out := SubjectBreakdown{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("subject breakdown: %w", err)
	}
	*b = out
	return nil
}

// ── Event Log ─────────────────────────────────────────────

// ExamAttemptEvent is one completed exam submission. Immutable once stored.
type ExamAttemptEvent struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"user_id"`
	ExamName           string           `json:"exam_name"`
	ExamSubject        string           `json:"exam_subject"`
	ExamDate           time.Time        `json:"exam_date"`
	AttemptedAt        time.Time        `json:"attempted_at"`
	CorrectCount       int              `json:"correct_count"`
	TotalQuestions     int              `json:"total_questions"`
	ElapsedTimeSeconds int              `json:"elapsed_time_seconds"`
	SubjectBreakdown   SubjectBreakdown `json:"subject_breakdown"`
	RecordedAt         time.Time        `json:"recorded_at"`
}

// ExamKey identifies the exam instance an attempt belongs to.
func (e ExamAttemptEvent) ExamKey() string {
	return e.ExamName + "@" + e.ExamDate.Format(DateLayout)
}

// StudyTimeEvent is one study-time report from the tracker.
type StudyTimeEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Day        time.Time `json:"day"`
	Seconds    int       `json:"seconds"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ── Aggregates ────────────────────────────────────────────

type DailySummary struct {
	UserID           string           `json:"user_id"`
	Date             time.Time        `json:"date"`
	ExamKey          string           `json:"exam_key,omitempty"`
	AttemptCount     int              `json:"attempt_count"`
	TotalQuestions   int              `json:"total_questions"`
	CorrectQuestions int              `json:"correct_questions"`
	StudyTimeSeconds int              `json:"study_time_seconds"`
	SubjectBreakdown SubjectBreakdown `json:"subject_breakdown"`
	Streak           int              `json:"streak"`
	LastUpdated      time.Time        `json:"last_updated"`
}

type UserDailyAggregate struct {
	UserID           string    `json:"user_id"`
	Date             time.Time `json:"date"`
	SolvedCount      int       `json:"solved_count"`
	CorrectCount     int       `json:"correct_count"`
	StudyTimeSeconds int       `json:"study_time_seconds"`
	Streak           int       `json:"streak"`
	LastUpdated      time.Time `json:"last_updated"`
}

type UserLifetimeAggregate struct {
	UserID              string           `json:"user_id"`
	TotalAttempts       int              `json:"total_attempts"`
	TotalQuestions      int              `json:"total_questions"`
	TotalCorrect        int              `json:"total_correct"`
	AverageScorePercent int              `json:"average_score_percent"`
	SubjectBreakdown    SubjectBreakdown `json:"subject_breakdown"`
	LastUpdated         time.Time        `json:"last_updated"`
}

// GlobalAggregate is the site-wide summary row. Averages are derived from the
// stored totals and TotalUsers; Version is the optimistic-concurrency token.
type GlobalAggregate struct {
	AggregateType         string          `json:"aggregate_type"`
	TotalUsers            int64           `json:"total_users"`
	TotalStudyTimeSeconds int64           `json:"total_study_time_seconds"`
	TotalSolved           int64           `json:"total_solved"`
	TotalCorrect          int64           `json:"total_correct"`
	TotalStreak           int64           `json:"total_streak"`
	AvgStudyTime          decimal.Decimal `json:"avg_study_time"`
	AvgSolvedCount        decimal.Decimal `json:"avg_solved_count"`
	AvgCorrectRate        decimal.Decimal `json:"avg_correct_rate"`
	AvgStreak             decimal.Decimal `json:"avg_streak"`
	LastUpdated           time.Time       `json:"last_updated"`
	Version               int64           `json:"version"`
}

// ── Request Types ─────────────────────────────────────────

type RecordAttemptRequest struct {
	EventID            string           `json:"event_id,omitempty"`
	ExamName           string           `json:"exam_name"`
	ExamSubject        string           `json:"exam_subject"`
	ExamDate           string           `json:"exam_date"`
	AttemptedAt        *time.Time       `json:"attempted_at,omitempty"`
	CorrectCount       int              `json:"correct_count"`
	TotalQuestions     int              `json:"total_questions"`
	ElapsedTimeSeconds int              `json:"elapsed_time_seconds"`
	SubjectBreakdown   SubjectBreakdown `json:"subject_breakdown"`
}

type RecordStudyTimeRequest struct {
	Date    string `json:"date"`
	Seconds int    `json:"seconds"`
}

// ── Response Types ────────────────────────────────────────

type RecordResponse struct {
	EventID            string `json:"event_id"`
	StatisticsRecorded bool   `json:"statistics_recorded"`
}

type DailyStatsResponse struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Summaries []DailySummary `json:"summaries"`
}

type RecentActivityResponse struct {
	Days     int                  `json:"days"`
	Activity []UserDailyAggregate `json:"activity"`
}

// DriftReport lists the differences between stored aggregates and a fresh
// projection of the event log.
type DriftReport struct {
	UserID      string   `json:"user_id"`
	Consistent  bool     `json:"consistent"`
	Differences []string `json:"differences"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
