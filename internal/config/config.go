package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Port            string
	ShutdownTimeout time.Duration
	JWTSecret       string

	Database Database
	Redis    Redis
	Stats    Stats
	Worker   Worker
}

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Stats struct {
	Location         *time.Location
	ExamScoped       bool
	StreakWindowDays int
	GlobalMaxRetries int
	GlobalCacheTTL   time.Duration
}

type Worker struct {
	Concurrency       int
	GlobalRefreshCron string
	RebuildAllCron    string
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),
		Database: Database{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "stats_user"),
			Password: getEnv("DB_PASSWORD", "stats_password"),
			Name:     getEnv("DB_NAME", "exam_stats"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Worker: Worker{
			GlobalRefreshCron: getEnv("STATS_GLOBAL_REFRESH_CRON", "*/15 * * * *"),
			RebuildAllCron:    getEnv("STATS_REBUILD_ALL_CRON", "30 3 * * *"),
		},
	}

	var err error
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Stats.ExamScoped, err = getBool("STATS_EXAM_SCOPED", true); err != nil {
		return nil, err
	}
	if cfg.Stats.StreakWindowDays, err = getInt("STATS_STREAK_WINDOW_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.Stats.GlobalMaxRetries, err = getInt("STATS_GLOBAL_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.Stats.GlobalCacheTTL, err = getDuration("STATS_GLOBAL_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Worker.Concurrency, err = getInt("WORKER_CONCURRENCY", 4); err != nil {
		return nil, err
	}

	tz := getEnv("STATS_TIMEZONE", "UTC")
	if cfg.Stats.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("config: STATS_TIMEZONE=%q: %w", tz, err)
	}

	if cfg.Stats.StreakWindowDays < 1 {
		return nil, fmt.Errorf("config: STATS_STREAK_WINDOW_DAYS must be at least 1")
	}
	if cfg.Stats.GlobalMaxRetries < 1 {
		return nil, fmt.Errorf("config: STATS_GLOBAL_MAX_RETRIES must be at least 1")
	}

	for key, spec := range map[string]string{
		"STATS_GLOBAL_REFRESH_CRON": cfg.Worker.GlobalRefreshCron,
		"STATS_REBUILD_ALL_CRON":    cfg.Worker.RebuildAllCron,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("config: %s=%q is not a valid cron spec: %w", key, spec, err)
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer: %w", key, v, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean: %w", key, v, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a valid duration: %w", key, v, err)
	}
	return d, nil
}
