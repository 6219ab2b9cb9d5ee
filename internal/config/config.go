package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port               int
	LogLevel           string
	CORSAllowedOrigins []string

	// Persistence
	Store        string // memory | postgres
	DatabaseURL  string
	StoreTimeout time.Duration

	// Shared hub sessions and locks
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Collector registry (Supabase)
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Payment gateway
	PaymentGatewayURL string
	PaymentGatewayKey string
	PaymentTimeout    time.Duration

	// Events
	AMQPURL      string
	AMQPExchange string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Ledger
	DuplicateWindow time.Duration
	PolicyFile      string

	// Recurring donations
	SweepInterval     time.Duration
	SweepConcurrency  int
	SweepBatchSize    int
	MaxFailedAttempts int

	// Observability
	OTLPEndpoint string

	// Identity provider token secret (HS256)
	JWTSecret string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:               getEnvInt("PORT", 8080),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		Store:        getEnv("STORE", "memory"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		PaymentGatewayURL: getEnv("PAYMENT_GATEWAY_URL", ""),
		PaymentGatewayKey: getEnv("PAYMENT_GATEWAY_KEY", ""),
		PaymentTimeout:    getEnvDuration("PAYMENT_TIMEOUT", 20*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "plastic.ledger"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		DuplicateWindow: getEnvDuration("DUPLICATE_WINDOW", 2*time.Minute),
		PolicyFile:      getEnv("POLICY_FILE", ""),

		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 24*time.Hour),
		SweepConcurrency:  getEnvInt("SWEEP_CONCURRENCY", 4),
		SweepBatchSize:    getEnvInt("SWEEP_BATCH_SIZE", 500),
		MaxFailedAttempts: getEnvInt("MAX_FAILED_ATTEMPTS", 3),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret: getEnv("JWT_SECRET", "plastic-ledger-dev-secret-change-me"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
