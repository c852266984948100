package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if !cfg.Stats.ExamScoped {
		t.Error("expected exam-scoped summaries by default")
	}
	if cfg.Stats.StreakWindowDays != 30 {
		t.Errorf("StreakWindowDays = %d, want 30", cfg.Stats.StreakWindowDays)
	}
	if cfg.Stats.GlobalMaxRetries != 3 {
		t.Errorf("GlobalMaxRetries = %d, want 3", cfg.Stats.GlobalMaxRetries)
	}
	if cfg.Stats.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Stats.Location)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STATS_EXAM_SCOPED", "false")
	t.Setenv("STATS_STREAK_WINDOW_DAYS", "14")
	t.Setenv("STATS_GLOBAL_CACHE_TTL", "90s")
	t.Setenv("STATS_TIMEZONE", "Asia/Tokyo")
	t.Setenv("DB_NAME", "stats_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.Stats.ExamScoped {
		t.Error("expected exam scoping to be disabled")
	}
	if cfg.Stats.StreakWindowDays != 14 {
		t.Errorf("StreakWindowDays = %d, want 14", cfg.Stats.StreakWindowDays)
	}
	if cfg.Stats.GlobalCacheTTL != 90*time.Second {
		t.Errorf("GlobalCacheTTL = %v, want 90s", cfg.Stats.GlobalCacheTTL)
	}
	if cfg.Stats.Location.String() != "Asia/Tokyo" {
		t.Errorf("Location = %v, want Asia/Tokyo", cfg.Stats.Location)
	}
	if !strings.Contains(cfg.Database.DSN(), "dbname=stats_test") {
		t.Errorf("DSN %q does not carry the database name", cfg.Database.DSN())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STATS_STREAK_WINDOW_DAYS", "abc"},
		{"STATS_STREAK_WINDOW_DAYS", "0"},
		{"STATS_GLOBAL_MAX_RETRIES", "0"},
		{"STATS_EXAM_SCOPED", "maybe"},
		{"STATS_TIMEZONE", "Mars/Olympus"},
		{"STATS_GLOBAL_REFRESH_CRON", "every minute"},
		{"SHUTDOWN_TIMEOUT", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
