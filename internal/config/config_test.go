package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DUPLICATE_SIMILARITY_THRESHOLD", "")
	t.Setenv("TICKET_REOPEN_WINDOW_HOURS", "")
	t.Setenv("ESCALATION_SCAN_INTERVAL_SECONDS", "")
	t.Setenv("ESCALATION_LEASE_SECONDS", "")
	t.Setenv("APP_HOST", "")
	t.Setenv("APP_PORT", "")

	cfg, err := Load("testdata-missing.env")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Intake.SimilarityThreshold != 0.85 {
		t.Fatalf("unexpected threshold %v", cfg.Intake.SimilarityThreshold)
	}
	if got := cfg.Escalation.ReopenWindow(); got != 7*24*time.Hour {
		t.Fatalf("unexpected reopen window %v", got)
	}
	if got := cfg.Escalation.ScanInterval(); got != time.Minute {
		t.Fatalf("unexpected scan interval %v", got)
	}
	if got := cfg.Escalation.Lease(); got != 2*time.Minute {
		t.Fatalf("unexpected lease %v", got)
	}
	if got := cfg.App.Addr(); got != "0.0.0.0:8080" {
		t.Fatalf("unexpected addr %s", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DUPLICATE_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("TICKET_REOPEN_WINDOW_HOURS", "48")
	t.Setenv("ESCALATION_SCAN_INTERVAL_SECONDS", "15")
	t.Setenv("HTTP_REQUEST_TIMEOUT_SECONDS", "0")

	cfg, err := Load("testdata-missing.env")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Intake.SimilarityThreshold != 0.9 {
		t.Fatalf("unexpected threshold %v", cfg.Intake.SimilarityThreshold)
	}
	if got := cfg.Escalation.ReopenWindow(); got != 48*time.Hour {
		t.Fatalf("unexpected reopen window %v", got)
	}
	if got := cfg.Escalation.Lease(); got != 30*time.Second {
		t.Fatalf("unexpected lease %v", got)
	}
	if cfg.App.RequestTimeout() != 0 {
		t.Fatalf("zero timeout should disable the deadline")
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	for _, value := range []string{"0", "1.5", "abc"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("DUPLICATE_SIMILARITY_THRESHOLD", value)
			if _, err := Load("testdata-missing.env"); err == nil {
				t.Fatalf("expected error for threshold %q", value)
			}
		})
	}
}
