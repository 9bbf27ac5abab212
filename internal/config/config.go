package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret   string
	TokenMaxAge time.Duration

	// Pairing
	PairCodeTTL         time.Duration
	PairCodeMaxAttempts int

	// Notification
	TelegramBotToken string
	TelegramAPIBase  string

	// Worker
	OverdueSweepInterval time.Duration
	ReminderTick         time.Duration
	TombstoneRetention   time.Duration
	ChangeRetention      time.Duration

	// Rate Limit（req/min単位）
	RateLimitGeneral int
	RateLimitPairing int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenMaxAge = getEnvDuration("TOKEN_MAX_AGE", 720*time.Hour)
	cfg.PairCodeTTL = getEnvDuration("PAIR_CODE_TTL", 15*time.Minute)
	cfg.PairCodeMaxAttempts = getEnvInt("PAIR_CODE_MAX_ATTEMPTS", 5)
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramAPIBase = getEnvString("TELEGRAM_API_BASE", "https://api.telegram.org")
	cfg.OverdueSweepInterval = getEnvDuration("OVERDUE_SWEEP_INTERVAL", time.Hour)
	cfg.ReminderTick = getEnvDuration("REMINDER_TICK", 30*time.Second)
	cfg.TombstoneRetention = getEnvDuration("TOMBSTONE_RETENTION", 24*time.Hour)
	cfg.ChangeRetention = getEnvDuration("CHANGE_RETENTION", 720*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPairing = getEnvInt("RATE_LIMIT_PAIRING", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
