package config

import (
	"time"

	"draftdesk/pkg/config"
)

// Config stores environment configuration for draftdesk.
type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	JWTSecret     string
	ServiceToken  string
	SealSecret    string
	KafkaBrokers  []string
	EventsTopic   string
	JobPrefix     string
	Schedule      string
	Workers       int
	MaxAttempts   int
	RateLimit     int
	RapidAPIKey   string
	RapidAPIHost  string
	RapidAPIURL   string
	FetchPoolSize int
	FetchDelay    time.Duration
	FetchTimeout  time.Duration
	ModelTimeout  time.Duration
	MemoryBackend string
	Mem0APIKey    string
	Mem0URL       string
	FactLimit     int
	XAPIURL       string
	FilterConfig  string
}

// Load reads the draftdesk configuration from environment variables.
func Load() Config {
	return Config{
		Port:          config.GetEnv("PORT", "18090"),
		DatabaseURL:   config.RequireEnv("DATABASE_URL"),
		RedisURL:      config.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:     config.GetEnv("JWT_SECRET", ""),
		ServiceToken:  config.GetEnv("SERVICE_TOKEN", ""),
		SealSecret:    config.GetEnv("CREDENTIALS_SECRET", ""),
		KafkaBrokers:  config.GetEnvList("KAFKA_BROKERS", nil),
		EventsTopic:   config.GetEnv("EVENTS_TOPIC", "draftdesk.events"),
		JobPrefix:     config.GetEnv("JOB_PREFIX", "draftdesk"),
		Schedule:      config.GetEnv("FANOUT_SCHEDULE", "0 8,20 * * *"),
		Workers:       config.GetEnvInt("WORKER_CONCURRENCY", 4),
		MaxAttempts:   config.GetEnvInt("JOB_MAX_ATTEMPTS", 3),
		RateLimit:     config.GetEnvInt("JOB_RATE_LIMIT_PER_MINUTE", 5),
		RapidAPIKey:   config.GetEnv("RAPIDAPI_KEY", ""),
		RapidAPIHost:  config.GetEnv("RAPIDAPI_HOST", "twitter-aio.p.rapidapi.com"),
		RapidAPIURL:   config.GetEnv("RAPIDAPI_URL", ""),
		FetchPoolSize: config.GetEnvInt("FETCH_POOL_SIZE", 2),
		FetchDelay:    config.GetEnvDuration("FETCH_DELAY", time.Second),
		FetchTimeout:  config.GetEnvDuration("FETCH_TIMEOUT", 20*time.Second),
		ModelTimeout:  config.GetEnvDuration("MODEL_TIMEOUT", 30*time.Second),
		MemoryBackend: config.GetEnv("MEMORY_BACKEND", "postgres"),
		Mem0APIKey:    config.GetEnv("MEM0_API_KEY", ""),
		Mem0URL:       config.GetEnv("MEM0_URL", ""),
		FactLimit:     config.GetEnvInt("MEMORY_FACT_LIMIT", 200),
		XAPIURL:       config.GetEnv("X_API_URL", ""),
		FilterConfig:  config.GetEnv("FILTER_CONFIG", ""),
	}
}
