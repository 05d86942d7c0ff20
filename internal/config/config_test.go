package config

import (
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_BASE_URL", "https://notes.example.com")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenPort != 8787 {
		t.Errorf("ListenPort = %d, want 8787", cfg.ListenPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.SyncIntervalSec != 300 {
		t.Errorf("SyncIntervalSec = %d, want 300", cfg.SyncIntervalSec)
	}
	if cfg.ReplayRatePerSec != 10 {
		t.Errorf("ReplayRatePerSec = %d, want 10", cfg.ReplayRatePerSec)
	}
	if cfg.DatabasePath != "sync-engine.db" {
		t.Errorf("DatabasePath = %s, want sync-engine.db", cfg.DatabasePath)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LISTEN_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SYNC_INTERVAL_SEC", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenPort != 9090 {
		t.Errorf("ListenPort = %d, want 9090", cfg.ListenPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.SyncIntervalSec != 60 {
		t.Errorf("SyncIntervalSec = %d, want 60", cfg.SyncIntervalSec)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when required env vars are missing")
	}
}

func TestLoad_TrimsTrailingSlash(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_BASE_URL", "https://notes.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIBaseURL != "https://notes.example.com" {
		t.Errorf("APIBaseURL = %s, want https://notes.example.com", cfg.APIBaseURL)
	}
}
