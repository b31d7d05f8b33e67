package config

import (
	"os"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Pair.Base != "HYPE" {
		t.Errorf("expected default pair base HYPE, got %s", cfg.Pair.Base)
	}
	if cfg.Strategy.Leverage != 3 {
		t.Errorf("expected default leverage 3, got %d", cfg.Strategy.Leverage)
	}
	if cfg.Strategy.MaxTradesPerMinPerPair != 3 {
		t.Errorf("expected default max trades per min 3, got %d", cfg.Strategy.MaxTradesPerMinPerPair)
	}
}

func TestLoadRejectsMissingKeyWhenLive(t *testing.T) {
	os.Setenv("DRY_RUN", "false")
	os.Setenv("HL_API_AGENT_PRIVATE_KEY", "")
	defer os.Unsetenv("DRY_RUN")
	defer os.Unsetenv("HL_API_AGENT_PRIVATE_KEY")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for live mode without a private key")
	}
}

func TestEnvOverridesFileDefaults(t *testing.T) {
	os.Setenv("THRESHOLD_BPS", "9.5")
	os.Setenv("PAIR_BASE", "eth")
	defer os.Unsetenv("THRESHOLD_BPS")
	defer os.Unsetenv("PAIR_BASE")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Strategy.ThresholdBps != 9.5 {
		t.Errorf("expected threshold override 9.5, got %f", cfg.Strategy.ThresholdBps)
	}
	if cfg.Pair.Base != "ETH" {
		t.Errorf("expected pair base normalised to ETH, got %s", cfg.Pair.Base)
	}
}

func TestPostgresDSNAndRedisAddr(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := cfg.RedisAddr(); got != "localhost:6379" {
		t.Errorf("unexpected redis addr: %s", got)
	}
	if dsn := cfg.PostgresDSN(); dsn == "" {
		t.Error("expected non-empty postgres dsn")
	}
}
