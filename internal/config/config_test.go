package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "INITIAL_BALANCE",
		"CHALLENGE_START", "CHALLENGE_END", "LEADERBOARD_TTL", "LEADERBOARD_WARM_INTERVAL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if !cfg.InitialBalance.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("expected default balance 1000000, got %s", cfg.InitialBalance)
	}
	if cfg.LeaderboardTTL != 5*time.Minute {
		t.Errorf("expected default TTL 5m, got %s", cfg.LeaderboardTTL)
	}
	if cfg.WarmInterval != 0 {
		t.Errorf("expected warmer disabled by default, got %s", cfg.WarmInterval)
	}
	if !cfg.ChallengeEnd.After(cfg.ChallengeStart) {
		t.Errorf("default window inverted: %s .. %s", cfg.ChallengeStart, cfg.ChallengeEnd)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("INITIAL_BALANCE", "2500000")
	t.Setenv("CHALLENGE_START", "2025-03-01")
	t.Setenv("CHALLENGE_END", "2025-05-31")
	t.Setenv("LEADERBOARD_TTL", "90s")
	t.Setenv("LEADERBOARD_WARM_INTERVAL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("port override ignored: %s", cfg.Port)
	}
	if !cfg.InitialBalance.Equal(decimal.NewFromInt(2500000)) {
		t.Errorf("balance override ignored: %s", cfg.InitialBalance)
	}
	if cfg.ChallengeStart != time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("start override ignored: %s", cfg.ChallengeStart)
	}
	if cfg.LeaderboardTTL != 90*time.Second {
		t.Errorf("TTL override ignored: %s", cfg.LeaderboardTTL)
	}
	if cfg.WarmInterval != 2*time.Minute {
		t.Errorf("warm interval override ignored: %s", cfg.WarmInterval)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("INITIAL_BALANCE", "not-a-number")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for bad INITIAL_BALANCE")
	}
	t.Setenv("INITIAL_BALANCE", "")

	t.Setenv("CHALLENGE_START", "2025-06-01")
	t.Setenv("CHALLENGE_END", "2025-01-01")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for inverted window")
	}

	t.Setenv("CHALLENGE_END", "31/12/2025")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for bad date format")
	}
}
