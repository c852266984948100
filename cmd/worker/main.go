package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/examstats/backend/internal/cache"
	"github.com/examstats/backend/internal/config"
	"github.com/examstats/backend/internal/database"
	"github.com/examstats/backend/internal/jobs"
	"github.com/examstats/backend/internal/stats"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	manager := jobs.NewJobManager(cfg)

	statsService := stats.NewService(stats.NewStore(db), stats.Options{
		Location:         cfg.Stats.Location,
		ExamScoped:       cfg.Stats.ExamScoped,
		StreakWindowDays: cfg.Stats.StreakWindowDays,
		GlobalMaxRetries: cfg.Stats.GlobalMaxRetries,
	})
	statsService.SetCache(cache.NewGlobalCache(rdb, cfg.Stats.GlobalCacheTTL))
	statsService.SetRebuildEnqueuer(manager)

	jobs.NewHandlers(statsService, manager).Register(manager.Mux())
	if err := manager.Schedule(cfg.Worker.GlobalRefreshCron, cfg.Worker.RebuildAllCron); err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}

	if err := manager.Start(); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	manager.Stop()
}
