// Package config loads engine configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every runtime knob of the engine.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache backend

	// InitialBalance seeds every newly created portfolio (XOF).
	InitialBalance decimal.Decimal

	// ChallengeStart/ChallengeEnd bound the contest trading window.
	ChallengeStart time.Time
	ChallengeEnd   time.Time

	// LeaderboardTTL bounds leaderboard staleness for non-traders.
	LeaderboardTTL time.Duration

	// WarmInterval is the cache warmer period; 0 disables the warmer.
	WarmInterval time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present (never overriding real env).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		LeaderboardTTL: getEnvDuration("LEADERBOARD_TTL", 5*time.Minute),
		WarmInterval:   getEnvDuration("LEADERBOARD_WARM_INTERVAL", 0),
	}

	balance, err := decimal.NewFromString(getEnv("INITIAL_BALANCE", "1000000"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid INITIAL_BALANCE: %w", err)
	}
	cfg.InitialBalance = balance

	cfg.ChallengeStart, err = getEnvDate("CHALLENGE_START", "2025-01-01")
	if err != nil {
		return nil, err
	}
	cfg.ChallengeEnd, err = getEnvDate("CHALLENGE_END", "2025-12-31")
	if err != nil {
		return nil, err
	}
	if !cfg.ChallengeEnd.After(cfg.ChallengeStart) {
		return nil, fmt.Errorf("config: CHALLENGE_END must be after CHALLENGE_START")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvDate(key, def string) (time.Time, error) {
	v := getEnv(key, def)
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: invalid %s %q (want YYYY-MM-DD): %w", key, v, err)
	}
	return t, nil
}
