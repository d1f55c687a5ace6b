package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "medigate/pkg/platform/strings"
)

// Config aggregates every tunable of the collection core so the embedding
// application wires one struct. FromEnv fills development defaults; production
// embedders are expected to override fields explicitly.
type Config struct {
	Provider ProviderConfig
	Flow     FlowConfig
	Session  SessionConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
}

// ProviderConfig locates the identity-verification provider.
type ProviderConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// FlowConfig carries the reconciler and state machine timings.
type FlowConfig struct {
	// PollInterval is the pull-channel cadence.
	PollInterval time.Duration
	// AttemptCeiling is the hard cap on a whole collection attempt.
	AttemptCeiling time.Duration
	// StallWindow is how long Collecting may sit without progress before the
	// caller is shown a "stuck" hint.
	StallWindow time.Duration
}

// SessionConfig carries credential-session settings.
type SessionConfig struct {
	// CacheFile optionally persists the session cache across restarts.
	// Empty disables file persistence.
	CacheFile string
	// DeviceBinding toggles fingerprint computation.
	DeviceBinding bool
}

// RedisConfig configures the record-store and cache backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the alternative durable record store.
type PostgresConfig struct {
	DSN string
}

// KafkaConfig configures the audit event sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables so embedder wiring stays
// lean.
func FromEnv() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:        envStr("MEDIGATE_PROVIDER_URL", "http://localhost:8080"),
			RequestTimeout: envDur("MEDIGATE_PROVIDER_TIMEOUT", 15*time.Second),
		},
		Flow: FlowConfig{
			PollInterval:   envDur("MEDIGATE_POLL_INTERVAL", 2*time.Second),
			AttemptCeiling: envDur("MEDIGATE_ATTEMPT_CEILING", 3*time.Minute),
			StallWindow:    envDur("MEDIGATE_STALL_WINDOW", 60*time.Second),
		},
		Session: SessionConfig{
			CacheFile:     os.Getenv("MEDIGATE_SESSION_CACHE_FILE"),
			DeviceBinding: os.Getenv("MEDIGATE_DEVICE_BINDING") != "false",
		},
		Redis: RedisConfig{
			URL:          os.Getenv("MEDIGATE_REDIS_URL"),
			PoolSize:     envInt("MEDIGATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("MEDIGATE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDur("MEDIGATE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDur("MEDIGATE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDur("MEDIGATE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("MEDIGATE_POSTGRES_DSN"),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("MEDIGATE_KAFKA_BROKERS")),
			Topic:   envStr("MEDIGATE_KAFKA_TOPIC", "medigate.audit"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return platformstrings.DedupeAndTrim(strings.Split(v, ","))
}
