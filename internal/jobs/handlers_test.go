package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/examstats/backend/internal/models"
	"github.com/hibiken/asynq"
)

type fakeRunner struct {
	rebuilt   []string
	rebuildFn func(userID string) error
	refreshes int
	users     []string
}

func (f *fakeRunner) RebuildUserStatistics(_ context.Context, userID string) error {
	f.rebuilt = append(f.rebuilt, userID)
	if f.rebuildFn != nil {
		return f.rebuildFn(userID)
	}
	return nil
}

func (f *fakeRunner) RefreshGlobalStatistics(context.Context) (*models.GlobalAggregate, error) {
	f.refreshes++
	return &models.GlobalAggregate{AggregateType: models.GlobalSummary, Version: int64(f.refreshes)}, nil
}

func (f *fakeRunner) ListUsers(context.Context) ([]string, error) {
	return f.users, nil
}

type fakeEnqueuer struct {
	queued []string
	fail   map[string]bool
}

func (f *fakeEnqueuer) EnqueueRebuild(_ context.Context, userID string) error {
	if f.fail[userID] {
		return errors.New("redis down")
	}
	f.queued = append(f.queued, userID)
	return nil
}

func TestHandleRebuildUser(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandlers(runner, &fakeEnqueuer{})

	task, err := NewRebuildUserTask("user-1")
	if err != nil {
		t.Fatalf("NewRebuildUserTask: %v", err)
	}
	if err := h.HandleRebuildUser(context.Background(), task); err != nil {
		t.Fatalf("HandleRebuildUser: %v", err)
	}
	if len(runner.rebuilt) != 1 || runner.rebuilt[0] != "user-1" {
		t.Errorf("rebuilt = %v, want [user-1]", runner.rebuilt)
	}
}

func TestHandleRebuildUser_BadPayloadSkipsRetry(t *testing.T) {
	h := NewHandlers(&fakeRunner{}, &fakeEnqueuer{})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("{")},
		{"no user", mustJSON(t, RebuildUserPayload{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.HandleRebuildUser(context.Background(), asynq.NewTask(TypeRebuildUser, tt.payload))
			if !errors.Is(err, asynq.SkipRetry) {
				t.Errorf("err = %v, want SkipRetry", err)
			}
		})
	}
}

func TestHandleRebuildUser_FailureIsRetried(t *testing.T) {
	boom := errors.New("db down")
	runner := &fakeRunner{rebuildFn: func(string) error { return boom }}
	h := NewHandlers(runner, &fakeEnqueuer{})

	task, _ := NewRebuildUserTask("user-1")
	err := h.HandleRebuildUser(context.Background(), task)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Error("storage failures must stay retryable")
	}
}

func TestHandleRefreshGlobal(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandlers(runner, &fakeEnqueuer{})

	if err := h.HandleRefreshGlobal(context.Background(), NewRefreshGlobalTask()); err != nil {
		t.Fatalf("HandleRefreshGlobal: %v", err)
	}
	if runner.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", runner.refreshes)
	}
}

func TestHandleRebuildAll(t *testing.T) {
	runner := &fakeRunner{users: []string{"a", "b", "c"}}
	enq := &fakeEnqueuer{fail: map[string]bool{"b": true}}
	h := NewHandlers(runner, enq)

	err := h.HandleRebuildAll(context.Background(), NewRebuildAllTask())
	if err == nil {
		t.Fatal("expected error when an enqueue fails")
	}
	if len(enq.queued) != 2 || enq.queued[0] != "a" || enq.queued[1] != "c" {
		t.Errorf("queued = %v, want [a c]", enq.queued)
	}
}

func TestRebuildTaskPayload(t *testing.T) {
	task, err := NewRebuildUserTask("user-9")
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TypeRebuildUser {
		t.Errorf("type = %q, want %q", task.Type(), TypeRebuildUser)
	}
	var p RebuildUserPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.UserID != "user-9" {
		t.Errorf("payload = %+v (%v), want user-9", p, err)
	}
	if rebuildTaskID("user-9") != "rebuild:user-9" {
		t.Errorf("task id = %q", rebuildTaskID("user-9"))
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
