// Package config loads the server configuration from the environment,
// reading a .env file first when one exists.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Addr        string
	CORSOrigins []string

	// Submission storage: "sqlite", "postgres" or "memory".
	SinkDriver  string
	SQLitePath  string
	PostgresDSN string

	// Study content
	ArmsFile        string
	QuestionBankSrc string

	// Flow tuning
	PlayerReadyTimeout time.Duration
	SessionTTL         time.Duration

	// Researcher access
	OperatorPassHash string
	JWTSecret        string
}

func Load() *Config {
	// A missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	return &Config{
		Addr:               getEnvOrDefault("ADTRIAL_ADDR", ":8080"),
		CORSOrigins:        splitList(os.Getenv("ADTRIAL_CORS_ORIGINS")),
		SinkDriver:         getEnvOrDefault("ADTRIAL_SINK_DRIVER", "sqlite"),
		SQLitePath:         getEnvOrDefault("ADTRIAL_SQLITE_PATH", "./adtrial.db"),
		PostgresDSN:        os.Getenv("ADTRIAL_POSTGRES_DSN"),
		ArmsFile:           os.Getenv("ADTRIAL_ARMS_FILE"),
		QuestionBankSrc:    os.Getenv("ADTRIAL_QUESTION_BANK"),
		PlayerReadyTimeout: getEnvAsDurationOrDefault("ADTRIAL_PLAYER_READY_TIMEOUT", 30*time.Second),
		SessionTTL:         getEnvAsDurationOrDefault("ADTRIAL_SESSION_TTL", 2*time.Hour),
		OperatorPassHash:   os.Getenv("ADTRIAL_OPERATOR_PASS_HASH"),
		JWTSecret:          os.Getenv("ADTRIAL_JWT_SECRET"),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsDurationOrDefault(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are read as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
