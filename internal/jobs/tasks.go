package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypeRebuildUser   = "stats:rebuild_user"
	TypeRefreshGlobal = "stats:refresh_global"
	TypeRebuildAll    = "stats:rebuild_all"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type RebuildUserPayload struct {
	UserID string `json:"user_id"`
}

func NewRebuildUserTask(userID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RebuildUserPayload{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rebuild payload: %w", err)
	}
	return asynq.NewTask(TypeRebuildUser, payload), nil
}

func NewRefreshGlobalTask() *asynq.Task {
	return asynq.NewTask(TypeRefreshGlobal, nil)
}

func NewRebuildAllTask() *asynq.Task {
	return asynq.NewTask(TypeRebuildAll, nil)
}

// rebuildTaskID lets the queue hold at most one pending rebuild per user.
func rebuildTaskID(userID string) string {
	return "rebuild:" + userID
}
