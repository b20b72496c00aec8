package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// Admin
	AdminToken string

	// Timezone for scheduling and ingestion windows
	Timezone string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRefreshToken string
	GoogleProjectID    string

	// Mail ingestion
	MailTriageLabels []string
	MailLookbackDays int
	MailMaxPerLabel  int
	IngestThreadMode string // per_email | per_thread
	IngestDryRun     bool

	// Sweep worker
	SweepIntervalMin int
	SweepEnabled     bool

	// Calendars
	FixedCalendarID    string
	FlexibleCalendarID string

	// Allowlist
	AllowlistCacheTTLSec int

	// Scheduler
	SchedulerHorizonDays  int
	SchedulerRespectBusy  bool
	ReflowMinChunkMin     int
	ReflowPerTaskCapMin   int
	ProviderMaxConcurrent int

	// Timeouts
	RequestTimeout time.Duration
	SweepTimeout   time.Duration

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Admin
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		Timezone: getEnv("TIMEZONE", "Europe/London"),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRefreshToken: getEnv("GOOGLE_REFRESH_TOKEN", ""),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),

		// Mail ingestion
		MailTriageLabels: getEnvSlice("MAIL_TRIAGE_LABELS", []string{"to-triage"}),
		MailLookbackDays: getEnvInt("MAIL_LOOKBACK_DAYS", 30),
		MailMaxPerLabel:  getEnvInt("MAIL_MAX_PER_LABEL", 200),
		IngestThreadMode: getEnv("INGEST_THREAD_MODE", "per_email"),
		IngestDryRun:     getEnvBool("INGEST_DRY_RUN", false),

		// Sweep worker
		SweepIntervalMin: getEnvInt("SWEEP_INTERVAL_MIN", 15),
		SweepEnabled:     getEnvBool("SWEEP_ENABLED", true),

		// Calendars
		FixedCalendarID:    getEnv("FIXED_CALENDAR_ID", "primary"),
		FlexibleCalendarID: getEnv("FLEXIBLE_CALENDAR_ID", "primary"),

		// Allowlist
		AllowlistCacheTTLSec: getEnvInt("ALLOWLIST_CACHE_TTL_SEC", 21600),

		// Scheduler
		SchedulerHorizonDays:  getEnvInt("SCHEDULER_HORIZON_DAYS", 7),
		SchedulerRespectBusy:  getEnvBool("SCHEDULER_RESPECT_BUSY", true),
		ReflowMinChunkMin:     getEnvInt("REFLOW_MIN_CHUNK_MIN", 15),
		ReflowPerTaskCapMin:   getEnvInt("REFLOW_PER_TASK_CAP_MIN", 60),
		ProviderMaxConcurrent: getEnvInt("PROVIDER_MAX_CONCURRENT", 4),

		// Timeouts
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 20)) * time.Second,
		SweepTimeout:   time.Duration(getEnvInt("SWEEP_TIMEOUT_SEC", 60)) * time.Second,

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
