package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL and REDIS_ADDR are
// optional and fall back to in-memory equivalents when unset, so the service
// runs standalone in development.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database. Empty selects the in-memory repository.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Redis. Empty selects the in-memory rate limit store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// External provider
	ProviderBaseURL string
	ProviderTimeout time.Duration
	ProviderAck     bool // provider confirms delivery synchronously

	// TemplatesDir enables template rendering when set.
	TemplatesDir string

	// Per-recipient rate limits (requests per window)
	RateLimitBurst     int
	RateLimitPerMinute int
	RateLimitPerHour   int
	RateLimitPerDay    int

	// PacerRate caps provider calls per second per channel.
	PacerRate int

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerVolumeThreshold  int
	BreakerWindow           time.Duration
	BreakerResetTimeout     time.Duration
	BreakerBackoffFactor    float64
	BreakerMaxResetTimeout  time.Duration

	// Retry executor
	MaxConcurrentExecutions int
	ExecutionRetention      time.Duration

	// Queue lane capacities; zero keeps the built-in defaults.
	LaneCapacity      map[string]int
	AggregateCapacity int

	// Background worker poll intervals
	DispatchInterval  time.Duration
	DispatchBatch     int
	SchedulerInterval time.Duration
	SweepInterval     time.Duration

	// RetentionPeriod bounds how long terminal notifications are kept.
	RetentionPeriod time.Duration
}

func Load() *Config {
	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", ""),
		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		ProviderAck:     getBool("PROVIDER_SYNC_ACK", false),

		TemplatesDir: os.Getenv("TEMPLATES_DIR"),

		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 3),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 10),
		RateLimitPerHour:   getInt("RATE_LIMIT_PER_HOUR", 100),
		RateLimitPerDay:    getInt("RATE_LIMIT_PER_DAY", 500),

		PacerRate: getInt("PACER_RATE_PER_CHANNEL", 100),

		BreakerFailureThreshold: getInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: getInt("BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerVolumeThreshold:  getInt("BREAKER_VOLUME_THRESHOLD", 10),
		BreakerWindow:           getDuration("BREAKER_WINDOW", time.Minute),
		BreakerResetTimeout:     getDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		BreakerBackoffFactor:    getFloat("BREAKER_BACKOFF_FACTOR", 2),
		BreakerMaxResetTimeout:  getDuration("BREAKER_MAX_RESET_TIMEOUT", 10*time.Minute),

		MaxConcurrentExecutions: getInt("MAX_CONCURRENT_EXECUTIONS", 64),
		ExecutionRetention:      getDuration("EXECUTION_RETENTION", 5*time.Minute),

		LaneCapacity: map[string]int{
			"critical": getInt("QUEUE_CAPACITY_CRITICAL", 0),
			"urgent":   getInt("QUEUE_CAPACITY_URGENT", 0),
			"high":     getInt("QUEUE_CAPACITY_HIGH", 0),
			"normal":   getInt("QUEUE_CAPACITY_NORMAL", 0),
			"low":      getInt("QUEUE_CAPACITY_LOW", 0),
		},
		AggregateCapacity: getInt("QUEUE_AGGREGATE_CAPACITY", 0),

		DispatchInterval:  getDuration("DISPATCH_INTERVAL", time.Second),
		DispatchBatch:     getInt("DISPATCH_BATCH", 64),
		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 10*time.Second),
		SweepInterval:     getDuration("SWEEP_INTERVAL", time.Minute),

		RetentionPeriod: getDuration("RETENTION_PERIOD", 30*24*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
