package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ESCALATION_SCAN_INTERVAL_SECONDS", "")
	t.Setenv("ESCALATION_SCAN_WORKERS", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scanner.Interval() != 5*time.Minute {
		t.Errorf("expected 5m scan interval, got %v", cfg.Scanner.Interval())
	}
	if cfg.Scanner.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Scanner.Workers)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("expected redis disabled by default, got %q", cfg.Redis.Addr)
	}
	if cfg.Timeline.CaseLockTTL() != 10*time.Second {
		t.Errorf("expected 10s case lock ttl, got %v", cfg.Timeline.CaseLockTTL())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ESCALATION_SCAN_INTERVAL_SECONDS", "60")
	t.Setenv("ESCALATION_SCAN_WORKERS", "not-a-number")
	t.Setenv("ESCALATION_SCANNER_ENABLED", "false")
	t.Setenv("APP_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scanner.Interval() != time.Minute {
		t.Errorf("expected 1m interval, got %v", cfg.Scanner.Interval())
	}
	if cfg.Scanner.Workers != 4 {
		t.Errorf("expected fallback to 4 workers, got %d", cfg.Scanner.Workers)
	}
	if cfg.Scanner.Enabled {
		t.Errorf("expected scanner disabled")
	}
	if cfg.App.Addr() != "0.0.0.0:9090" {
		t.Errorf("unexpected addr %s", cfg.App.Addr())
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	t.Setenv("ESCALATION_SCAN_INTERVAL_SECONDS", "-5")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for negative interval")
	}
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "abc")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid REDIS_DB")
	}
}
