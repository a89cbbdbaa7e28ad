package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	LogMode string

	ClerkSecretKey string
	DatabaseURL    string

	FirebaseProjectID       string
	FirebaseCredentialsJSON string // base64 encoded service account
	FirebaseCredentialsFile string

	RedisAddr          string
	RedisChannelPrefix string

	SchoolTimezone *time.Location

	MetricsUser string
	MetricsPass string
	PprofSecret string

	// DevRosterFile seeds the in-memory roster when no database is configured.
	DevRosterFile string

	SnapshotMaxRetries int
	SessionIdleTimeout time.Duration
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads the process environment, after merging an optional .env file.
func Load() (*Config, error) {
	// .env is optional in deployed environments
	_ = godotenv.Load()

	tzName := getString("SCHOOL_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHOOL_TIMEZONE %q: %w", tzName, err)
	}

	cfg := &Config{
		Port:                    getString("PORT", "3333"),
		LogMode:                 getString("LOG_MODE", "dev"),
		ClerkSecretKey:          getString("CLERK_SECRET_KEY", ""),
		DatabaseURL:             getString("DATABASE_URL", ""),
		FirebaseProjectID:       getString("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsJSON: getString("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseCredentialsFile: getString("FIREBASE_CREDENTIALS_FILE", "./serviceAccountKey.json"),
		RedisAddr:               getString("REDIS_ADDR", ""),
		RedisChannelPrefix:      getString("REDIS_CHANNEL_PREFIX", "leaderboard"),
		SchoolTimezone:          loc,
		MetricsUser:             getString("METRICS_USER", ""),
		MetricsPass:             getString("METRICS_PASS", ""),
		PprofSecret:             getString("PPROF_SECRET", ""),
		DevRosterFile:           getString("DEV_ROSTER_FILE", ""),
		SnapshotMaxRetries:      getInt("SNAPSHOT_MAX_RETRIES", 5),
		SessionIdleTimeout:      getDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		RateLimitRPS:            getFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:          getInt("RATE_LIMIT_BURST", 30),
	}

	if cfg.ClerkSecretKey == "" {
		return nil, fmt.Errorf("CLERK_SECRET_KEY environment variable is not set")
	}
	return cfg, nil
}

func getString(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func getInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getFloat(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
