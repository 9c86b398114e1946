package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.IdempotencyTable != "jobflow-idempotency" {
		t.Fatalf("unexpected idempotency table: %s", cfg.IdempotencyTable)
	}
	if cfg.JobsTable != "jobflow-jobs" {
		t.Fatalf("unexpected jobs table: %s", cfg.JobsTable)
	}
	if cfg.ResultTTL != 48*time.Hour {
		t.Fatalf("unexpected result TTL: %s", cfg.ResultTTL)
	}
	if cfg.WaitBound != 10*time.Second {
		t.Fatalf("unexpected wait bound: %s", cfg.WaitBound)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval)
	}
	if cfg.RunLocal {
		t.Fatal("RunLocal must default to false")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JOBS_TABLE", "custom-jobs")
	t.Setenv("RESULT_TTL_SECONDS", "60")
	t.Setenv("WAIT_BOUND_SECONDS", "3")
	t.Setenv("RUN_LOCAL", "true")

	cfg := Load()

	if cfg.JobsTable != "custom-jobs" {
		t.Fatalf("env override ignored: %s", cfg.JobsTable)
	}
	if cfg.ResultTTL != time.Minute {
		t.Fatalf("unexpected result TTL: %s", cfg.ResultTTL)
	}
	if cfg.WaitBound != 3*time.Second {
		t.Fatalf("unexpected wait bound: %s", cfg.WaitBound)
	}
	if !cfg.RunLocal {
		t.Fatal("RUN_LOCAL=true not applied")
	}
}
