package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/examstats/backend/internal/models"
	"github.com/hibiken/asynq"
)

// StatsRunner is the part of the statistics service the workers drive.
type StatsRunner interface {
	RebuildUserStatistics(ctx context.Context, userID string) error
	RefreshGlobalStatistics(ctx context.Context) (*models.GlobalAggregate, error)
	ListUsers(ctx context.Context) ([]string, error)
}

// Enqueuer queues a rebuild of one user.
type Enqueuer interface {
	EnqueueRebuild(ctx context.Context, userID string) error
}

type Handlers struct {
	stats    StatsRunner
	enqueuer Enqueuer
}

func NewHandlers(stats StatsRunner, enqueuer Enqueuer) *Handlers {
	return &Handlers{stats: stats, enqueuer: enqueuer}
}

// Register binds every task type to its handler on mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRebuildUser, h.HandleRebuildUser)
	mux.HandleFunc(TypeRefreshGlobal, h.HandleRefreshGlobal)
	mux.HandleFunc(TypeRebuildAll, h.HandleRebuildAll)
}

func (h *Handlers) HandleRebuildUser(ctx context.Context, task *asynq.Task) error {
	var payload RebuildUserPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal rebuild payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.UserID == "" {
		return fmt.Errorf("rebuild payload has no user id: %w", asynq.SkipRetry)
	}

	log.Printf("[jobs] rebuilding statistics for user %s", payload.UserID)
	if err := h.stats.RebuildUserStatistics(ctx, payload.UserID); err != nil {
		return fmt.Errorf("rebuild user %s: %w", payload.UserID, err)
	}
	return nil
}

func (h *Handlers) HandleRefreshGlobal(ctx context.Context, _ *asynq.Task) error {
	g, err := h.stats.RefreshGlobalStatistics(ctx)
	if err != nil {
		return fmt.Errorf("refresh global statistics: %w", err)
	}
	log.Printf("[jobs] global statistics at version %d", g.Version)
	return nil
}

// HandleRebuildAll fans out one rebuild task per user with logged events.
func (h *Handlers) HandleRebuildAll(ctx context.Context, _ *asynq.Task) error {
	users, err := h.stats.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	failed := 0
	for _, userID := range users {
		if err := h.enqueuer.EnqueueRebuild(ctx, userID); err != nil {
			log.Printf("[jobs] failed to enqueue rebuild for user %s: %v", userID, err)
			failed++
		}
	}
	log.Printf("[jobs] queued rebuilds for %d users (%d failed)", len(users)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d rebuilds could not be queued", failed, len(users))
	}
	return nil
}
