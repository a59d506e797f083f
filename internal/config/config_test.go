package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadAgentDefaults(t *testing.T) {
	cfg := LoadAgent()
	if cfg.SyncBatchSize != 50 {
		t.Fatalf("expected default batch size 50, got %d", cfg.SyncBatchSize)
	}
	if cfg.BackoffMin >= cfg.BackoffMax {
		t.Fatalf("expected backoff min < max")
	}
	if cfg.MaxAttempts < 1 {
		t.Fatalf("expected positive retry ceiling")
	}
}
