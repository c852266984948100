package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/examstats/backend/internal/middleware"
	"github.com/examstats/backend/internal/models"
	"github.com/gorilla/mux"
)

// JobQueue runs statistics maintenance out of band.
type JobQueue interface {
	EnqueueRebuild(ctx context.Context, userID string) error
	EnqueueRefreshGlobal(ctx context.Context) error
	EnqueueRebuildAll(ctx context.Context) error
}

const defaultRecentDays = 7

type Handler struct {
	service *Service
	jobs    JobQueue
}

func NewHandler(service *Service, jobs JobQueue) *Handler {
	return &Handler{service: service, jobs: jobs}
}

// RegisterRoutes mounts the user routes on protected and the maintenance
// routes on admin.
func (h *Handler) RegisterRoutes(protected, admin *mux.Router) {
	protected.HandleFunc("/stats/attempts", h.RecordExamAttempt).Methods("POST")
	protected.HandleFunc("/stats/study-time", h.RecordStudyTime).Methods("POST")
	protected.HandleFunc("/stats/daily", h.GetDailyStatistics).Methods("GET")
	protected.HandleFunc("/stats/daily/recent", h.GetRecentActivity).Methods("GET")
	protected.HandleFunc("/stats/lifetime", h.GetLifetimeStatistics).Methods("GET")
	protected.HandleFunc("/stats/global", h.GetGlobalStatistics).Methods("GET")

	admin.HandleFunc("/stats/users/{userID}/rebuild", h.RebuildUser).Methods("POST")
	admin.HandleFunc("/stats/users/{userID}/verify", h.VerifyUser).Methods("GET")
	admin.HandleFunc("/stats/global/refresh", h.RefreshGlobal).Methods("POST")
	admin.HandleFunc("/stats/rebuild-all", h.RebuildAll).Methods("POST")
}

// ── Recording ───────────────────────────────────────────

func (h *Handler) RecordExamAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req models.RecordAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	ev := models.ExamAttemptEvent{
		ID:                 req.EventID,
		ExamName:           req.ExamName,
		ExamSubject:        req.ExamSubject,
		CorrectCount:       req.CorrectCount,
		TotalQuestions:     req.TotalQuestions,
		ElapsedTimeSeconds: req.ElapsedTimeSeconds,
		SubjectBreakdown:   req.SubjectBreakdown,
	}
	if req.AttemptedAt != nil {
		ev.AttemptedAt = *req.AttemptedAt
	}
	if req.ExamDate != "" {
		d, err := time.Parse(models.DateLayout, req.ExamDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "exam_date must be YYYY-MM-DD"})
			return
		}
		ev.ExamDate = d
	}

	saved, err := h.service.RecordExamAttempt(r.Context(), userID, ev)
	h.writeRecordResult(w, saved != nil, eventID(saved), err)
}

func eventID(ev *models.ExamAttemptEvent) string {
	if ev == nil {
		return ""
	}
	return ev.ID
}

func (h *Handler) RecordStudyTime(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req models.RecordStudyTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	var day time.Time
	if req.Date != "" {
		d, err := time.Parse(models.DateLayout, req.Date)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "date must be YYYY-MM-DD"})
			return
		}
		day = d
	}

	ev, err := h.service.RecordStudyTime(r.Context(), userID, day, req.Seconds)
	id := ""
	if ev != nil {
		id = ev.ID
	}
	h.writeRecordResult(w, ev != nil, id, err)
}

// writeRecordResult answers a submission. A saved event whose statistics
// could not be applied is still accepted.
func (h *Handler) writeRecordResult(w http.ResponseWriter, saved bool, id string, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, models.RecordResponse{EventID: id, StatisticsRecorded: true})
	case errors.Is(err, ErrStatisticsNotRecorded) && saved:
		writeJSON(w, http.StatusAccepted, models.RecordResponse{EventID: id, StatisticsRecorded: false})
	case errors.Is(err, ErrInvalidEvent):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	default:
		log.Printf("[stats] record failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to record event"})
	}
}

// ── Queries ─────────────────────────────────────────────

func (h *Handler) GetDailyStatistics(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	q := r.URL.Query()
	from, err1 := time.Parse(models.DateLayout, q.Get("from"))
	to, err2 := time.Parse(models.DateLayout, q.Get("to"))
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "from and to must be YYYY-MM-DD"})
		return
	}

	rows, err := h.service.GetDailyStatistics(r.Context(), userID, from, to)
	if errors.Is(err, ErrInvalidRange) {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		log.Printf("[stats] daily statistics for %s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load statistics"})
		return
	}

	writeJSON(w, http.StatusOK, models.DailyStatsResponse{
		From:      from.Format(models.DateLayout),
		To:        to.Format(models.DateLayout),
		Summaries: rows,
	})
}

func (h *Handler) GetRecentActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	days := defaultRecentDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "days must be a number"})
			return
		}
		days = n
	}

	rows, err := h.service.GetRecentActivity(r.Context(), userID, days)
	if errors.Is(err, ErrInvalidRange) {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		log.Printf("[stats] recent activity for %s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load statistics"})
		return
	}
	writeJSON(w, http.StatusOK, models.RecentActivityResponse{Days: days, Activity: rows})
}

func (h *Handler) GetLifetimeStatistics(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	lt, err := h.service.GetLifetimeStatistics(r.Context(), userID)
	if err != nil {
		log.Printf("[stats] lifetime statistics for %s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load statistics"})
		return
	}
	writeJSON(w, http.StatusOK, lt)
}

func (h *Handler) GetGlobalStatistics(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.GetGlobalStatistics(r.Context())
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Global statistics have not been computed yet"})
		return
	}
	if err != nil {
		log.Printf("[stats] global statistics: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load statistics"})
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ── Admin ───────────────────────────────────────────────

func (h *Handler) RebuildUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	if r.URL.Query().Get("async") == "true" {
		if err := h.jobs.EnqueueRebuild(r.Context(), userID); err != nil {
			log.Printf("[stats] enqueue rebuild for %s: %v", userID, err)
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to queue rebuild"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "user_id": userID})
		return
	}

	if err := h.service.RebuildUserStatistics(r.Context(), userID); err != nil {
		log.Printf("[stats] rebuild %s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Rebuild failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt", "user_id": userID})
}

func (h *Handler) VerifyUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	report, err := h.service.VerifyUserStatistics(r.Context(), userID)
	if err != nil {
		log.Printf("[stats] verify %s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Verification failed"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) RefreshGlobal(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.RefreshGlobalStatistics(r.Context())
	if errors.Is(err, ErrVersionConflict) {
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "Global statistics are being refreshed concurrently, try again"})
		return
	}
	if err != nil {
		log.Printf("[stats] refresh global: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Refresh failed"})
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) RebuildAll(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.EnqueueRebuildAll(r.Context()); err != nil {
		log.Printf("[stats] enqueue rebuild-all: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to queue rebuild"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
