package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/examstats/backend/internal/config"
	"github.com/hibiken/asynq"
)

type JobManager struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
}

func redisOpt(cfg config.Redis) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewClient returns a manager that can only enqueue. The HTTP server uses it.
func NewClient(cfg config.Redis) *JobManager {
	return &JobManager{client: asynq.NewClient(redisOpt(cfg))}
}

// NewJobManager returns a manager that enqueues, processes and schedules.
func NewJobManager(cfg *config.Config) *JobManager {
	opt := redisOpt(cfg.Redis)

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			QueueCritical: 6, // Recovery rebuilds after a failed update
			QueueDefault:  3, // Global refresh
			QueueLow:      1, // Nightly rebuild of every user
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("[jobs] job failed: type=%s error=%v", task.Type(), err)
		}),
		Logger: &AsynqLogger{},
	})

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: cfg.Stats.Location,
		Logger:   &AsynqLogger{},
	})

	return &JobManager{
		client:    asynq.NewClient(opt),
		server:    server,
		mux:       asynq.NewServeMux(),
		scheduler: scheduler,
	}
}

func (jm *JobManager) Mux() *asynq.ServeMux {
	return jm.mux
}

// Schedule registers the periodic global refresh and full rebuild. An empty
// spec disables that job.
func (jm *JobManager) Schedule(refreshCron, rebuildAllCron string) error {
	if refreshCron != "" {
		if _, err := jm.scheduler.Register(refreshCron, NewRefreshGlobalTask(),
			asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)); err != nil {
			return fmt.Errorf("schedule global refresh: %w", err)
		}
		log.Printf("[jobs] scheduled global refresh %q", refreshCron)
	}
	if rebuildAllCron != "" {
		if _, err := jm.scheduler.Register(rebuildAllCron, NewRebuildAllTask(),
			asynq.Queue(QueueLow), asynq.MaxRetry(1), asynq.Timeout(10*time.Minute)); err != nil {
			return fmt.Errorf("schedule rebuild all: %w", err)
		}
		log.Printf("[jobs] scheduled rebuild-all %q", rebuildAllCron)
	}
	return nil
}

// Start launches the scheduler and the task processor without blocking.
func (jm *JobManager) Start() error {
	log.Println("[jobs] starting job queue worker...")
	if err := jm.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := jm.server.Start(jm.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	return nil
}

func (jm *JobManager) Stop() {
	log.Println("[jobs] stopping job queue...")
	if jm.scheduler != nil {
		jm.scheduler.Shutdown()
	}
	if jm.server != nil {
		jm.server.Shutdown()
	}
	jm.client.Close()
}

// EnqueueRebuild queues a rebuild of userID. A rebuild already pending for
// the same user absorbs the request.
func (jm *JobManager) EnqueueRebuild(ctx context.Context, userID string) error {
	task, err := NewRebuildUserTask(userID)
	if err != nil {
		return err
	}
	info, err := jm.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.TaskID(rebuildTaskID(userID)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Printf("[jobs] rebuild for user %s already queued", userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue rebuild task: %w", err)
	}
	log.Printf("[jobs] queued rebuild job: ID=%s user=%s", info.ID, userID)
	return nil
}

func (jm *JobManager) EnqueueRefreshGlobal(ctx context.Context) error {
	info, err := jm.client.EnqueueContext(ctx, NewRefreshGlobalTask(),
		asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(5*time.Minute))
	if err != nil {
		return fmt.Errorf("failed to enqueue refresh task: %w", err)
	}
	log.Printf("[jobs] queued global refresh job: ID=%s", info.ID)
	return nil
}

func (jm *JobManager) EnqueueRebuildAll(ctx context.Context) error {
	info, err := jm.client.EnqueueContext(ctx, NewRebuildAllTask(),
		asynq.Queue(QueueLow), asynq.MaxRetry(1), asynq.Timeout(10*time.Minute))
	if err != nil {
		return fmt.Errorf("failed to enqueue rebuild-all task: %w", err)
	}
	log.Printf("[jobs] queued rebuild-all job: ID=%s", info.ID)
	return nil
}

// AsynqLogger routes asynq's logs through the standard logger.
type AsynqLogger struct{}

func (l *AsynqLogger) Debug(args ...interface{}) {}

func (l *AsynqLogger) Info(args ...interface{}) {
	log.Printf("[asynq] %s", fmt.Sprint(args...))
}

func (l *AsynqLogger) Warn(args ...interface{}) {
	log.Printf("[asynq] WARN %s", fmt.Sprint(args...))
}

func (l *AsynqLogger) Error(args ...interface{}) {
	log.Printf("[asynq] ERROR %s", fmt.Sprint(args...))
}

func (l *AsynqLogger) Fatal(args ...interface{}) {
	log.Fatalf("[asynq] FATAL %s", fmt.Sprint(args...))
}
