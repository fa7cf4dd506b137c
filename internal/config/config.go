package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all runtime configuration for the call orchestration engine.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	PublicBaseURL string `env:"PUBLIC_BASE_URL,required"` // used to build answer/webhook/media-stream URLs

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken      string  `env:"AUTH_TOKEN,required"`
	WriteToken     string  `env:"WRITE_TOKEN"` // falls back to AuthToken when unset
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	CORSOrigins    string  `env:"CORS_ORIGINS"`
	LogLevel       string  `env:"LOG_LEVEL" envDefault:"info"`
	MetricsEnabled bool    `env:"METRICS_ENABLED" envDefault:"true"`

	// Worker pool (WP)
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"5"`
	DispatchRateCount  int           `env:"DISPATCH_RATE_COUNT" envDefault:"10"`
	DispatchRateWindow time.Duration `env:"DISPATCH_RATE_WINDOW" envDefault:"60s"`

	// Job Store (JS) defaults
	JobMaxAttempts          int           `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`
	JobBackoffBaseMs        int           `env:"JOB_BACKOFF_BASE_MS" envDefault:"2000"`
	JobLeaseDuration        time.Duration `env:"JOB_LEASE_DURATION" envDefault:"30s"`
	JobRetentionCompletedAge time.Duration `env:"JOB_RETENTION_COMPLETED_AGE" envDefault:"168h"` // 7d
	JobRetentionCompletedMax int           `env:"JOB_RETENTION_COMPLETED_COUNT" envDefault:"1000"`
	JobRetentionFailedAge   time.Duration `env:"JOB_RETENTION_FAILED_AGE" envDefault:"720h"` // 30d

	// Telephony Gateway (TG)
	TelephonyAccountSID  string `env:"TELEPHONY_ACCOUNT_SID,required"`
	TelephonyAuthToken   string `env:"TELEPHONY_AUTH_TOKEN,required"`
	TelephonyFromNumber  string `env:"TELEPHONY_FROM_NUMBER,required"`
	TelephonyAPIBaseURL  string `env:"TELEPHONY_API_BASE_URL" envDefault:"https://api.telephony.example.com"`
	TelephonyCallTimeout time.Duration `env:"TELEPHONY_CALL_TIMEOUT_SEC" envDefault:"30s"`
	TelephonyRecordCalls bool   `env:"TELEPHONY_RECORD_CALLS" envDefault:"true"`

	// Media Bridge (MB) / AI realtime peer
	AIRealtimeURL        string        `env:"AI_REALTIME_URL,required"`
	AIRealtimeToken      string        `env:"AI_REALTIME_TOKEN,required"`
	AIRealtimeVoice      string        `env:"AI_REALTIME_VOICE" envDefault:"alloy"`
	AIConnectDeadline    time.Duration `env:"AI_CONNECT_DEADLINE" envDefault:"10s"`
	AIMaxRetries         int           `env:"AI_MAX_RETRIES" envDefault:"3"`
	AIMaxErrorEvents     int           `env:"AI_MAX_ERROR_EVENTS" envDefault:"5"`
	AIMaxResponseTokens  int           `env:"AI_MAX_RESPONSE_TOKENS" envDefault:"4096"`

	// Recording upload (S3-compatible object store)
	RecordingsBucket   string `env:"RECORDINGS_BUCKET"`
	RecordingsPrefix   string `env:"RECORDINGS_PREFIX"`
	RecordingsEndpoint string `env:"RECORDINGS_ENDPOINT"`
	RecordingsRegion   string `env:"RECORDINGS_REGION" envDefault:"us-east-1"`
	RecordingsAccessKey string `env:"RECORDINGS_ACCESS_KEY"`
	RecordingsSecretKey string `env:"RECORDINGS_SECRET_KEY"`

	// Scheduler control plane (SC) default refill registration. Optional: when
	// REFILL_CRON is unset no refill repeat is auto-registered at startup.
	RefillCron      string `env:"REFILL_CRON"`
	RefillMessage   string `env:"REFILL_MESSAGE" envDefault:"Hello, this is a courtesy call."`
	RefillLeadLimit int    `env:"REFILL_LEAD_LIMIT" envDefault:"50"`
}

// refillCronParser validates REFILL_CRON the same way the Job Store parses
// cron expressions internally (standard 5-field plus @every/@daily descriptors).
var refillCronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RecordingsEnabled reports whether an S3-compatible recordings bucket is configured.
func (c *Config) RecordingsEnabled() bool {
	return c.RecordingsBucket != ""
}

// Validate checks structural invariants that env.Parse cannot express.
func (c *Config) Validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency)
	}
	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be >= 1, got %d", c.JobMaxAttempts)
	}
	if c.DispatchRateCount < 1 {
		return fmt.Errorf("DISPATCH_RATE_COUNT must be >= 1, got %d", c.DispatchRateCount)
	}
	if c.RefillCron != "" {
		if _, err := refillCronParser.Parse(c.RefillCron); err != nil {
			return fmt.Errorf("REFILL_CRON %q is not a valid cron expression: %w", c.RefillCron, err)
		}
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	RedisURL      string
	PublicBaseURL string
}

// Load reads configuration from a .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.RedisURL != "" {
		cfg.RedisURL = overrides.RedisURL
	}
	if overrides.PublicBaseURL != "" {
		cfg.PublicBaseURL = overrides.PublicBaseURL
	}

	if cfg.WriteToken == "" {
		cfg.WriteToken = cfg.AuthToken
	}

	return cfg, nil
}
