// Package config loads service configuration from the environment with the
// defaults recognized by the dispatch core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (rate limiter backend)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// SMTP for the EMAIL adapter
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Telegram Bot adapter
	TelegramBotToken string

	// SMS gateway adapter
	SMSGatewayURL      string
	SMSGatewayUsername string
	SMSGatewayPassword string
	SMSFromNumber      string

	// WhatsApp Business adapter (unimplemented by design, see spec §4.4)
	WhatsAppAccessToken string
	WhatsAppPhoneID     string

	// Core dispatch pipeline
	WorkerCount           int
	RetryPollIntervalS    int
	RetryBatchLimit       int
	LeaseTimeoutS         int
	NotificationTTLS      int
	WebhookSecret         string
	DefaultRateLimitPerMin int
	OutboundTimeoutS      int
	RateLimitBackend      string
}

// Load reads configuration from environment variables, falling back to the
// defaults named in the spec.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "notifyd",
		DBPassword: "",
		DBName:     "notifyd",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		SMTPHost: "localhost",
		SMTPPort: 587,
		SMTPFrom: "noreply@notifyd.local",

		SMSFromNumber: "",

		WorkerCount:            16,
		RetryPollIntervalS:     60,
		RetryBatchLimit:        100,
		LeaseTimeoutS:          300,
		NotificationTTLS:       86400,
		DefaultRateLimitPerMin: 100,
		OutboundTimeoutS:       30,
		RateLimitBackend:       "local",
	}

	var err error
	cfg.Port, err = intEnv("PORT", cfg.Port)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.DBSSLMode = v
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.RedisHost = v
	}
	cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTPHost = v
	}
	cfg.SMTPPort, err = intEnv("SMTP_PORT", cfg.SMTPPort)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTPUsername = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTPPassword = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTPFrom = v
	}

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	cfg.SMSGatewayURL = os.Getenv("SMS_GATEWAY_URL")
	cfg.SMSGatewayUsername = os.Getenv("SMS_GATEWAY_USERNAME")
	cfg.SMSGatewayPassword = os.Getenv("SMS_GATEWAY_PASSWORD")
	if v := os.Getenv("SMS_FROM_NUMBER"); v != "" {
		cfg.SMSFromNumber = v
	}

	cfg.WhatsAppAccessToken = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	cfg.WhatsAppPhoneID = os.Getenv("WHATSAPP_PHONE_ID")

	cfg.WorkerCount, err = intEnv("CORE_WORKER_COUNT", cfg.WorkerCount)
	if err != nil {
		return nil, err
	}
	cfg.RetryPollIntervalS, err = intEnv("CORE_RETRY_POLL_INTERVAL_S", cfg.RetryPollIntervalS)
	if err != nil {
		return nil, err
	}
	cfg.RetryBatchLimit, err = intEnv("CORE_RETRY_BATCH_LIMIT", cfg.RetryBatchLimit)
	if err != nil {
		return nil, err
	}
	cfg.LeaseTimeoutS, err = intEnv("CORE_LEASE_TIMEOUT_S", cfg.LeaseTimeoutS)
	if err != nil {
		return nil, err
	}
	cfg.NotificationTTLS, err = intEnv("CORE_NOTIFICATION_TTL_S", cfg.NotificationTTLS)
	if err != nil {
		return nil, err
	}
	cfg.DefaultRateLimitPerMin, err = intEnv("CORE_DEFAULT_RATE_LIMIT_PER_MIN", cfg.DefaultRateLimitPerMin)
	if err != nil {
		return nil, err
	}
	cfg.OutboundTimeoutS, err = intEnv("CORE_OUTBOUND_TIMEOUT_S", cfg.OutboundTimeoutS)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CORE_RATE_LIMIT_BACKEND"); v != "" {
		cfg.RateLimitBackend = v
	}

	cfg.WebhookSecret = os.Getenv("CORE_WEBHOOK_SECRET")
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("CORE_WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
