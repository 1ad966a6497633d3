package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every runtime setting of the service.
type Config struct {
	HTTPAddr    string
	StoreDriver string // "postgres" or "memory"

	DB    DBConfig
	Redis RedisConfig
	// NatsURL enables cross-instance notification fan-out when set.
	NatsURL string

	Scheduler SchedulerConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig

	// CallTimeout bounds every ledger and store call made by the engine.
	CallTimeout time.Duration
	// QueueRouting* drive the time-to-end / bid-count heuristic that routes bids to the queue.
	QueueRoutingWindow time.Duration
	QueueRoutingBids   int
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN builds the postgres url the same way for the pool and for migrate.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SchedulerConfig struct {
	Interval          time.Duration
	EndingSoonOffsets []time.Duration
}

type QueueConfig struct {
	Workers             int
	MaxAttempts         int
	ConflictRetries     int
	ConflictBackoff     time.Duration
	RetryBackoff        time.Duration
	HighValueThreshold  decimal.Decimal
	HighPriorityDelay   time.Duration
	MediumPriorityDelay time.Duration
	CompletedRetention  time.Duration
}

type RateLimitConfig struct {
	Window          time.Duration
	BidLimit        int
	ConnectionLimit int
	SweepInterval   time.Duration
}

// Load reads .env (if present) and the environment, applying defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	threshold, err := decimal.NewFromString(GetEnv("QUEUE_HIGH_VALUE_THRESHOLD", "1000"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid QUEUE_HIGH_VALUE_THRESHOLD: %w", err)
	}
	offsets, err := GetEnvDurations("SCHEDULER_ENDING_SOON_OFFSETS", []time.Duration{
		30 * time.Minute, 15 * time.Minute, 5 * time.Minute, time.Minute,
	})
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:    GetEnv("HTTP_ADDR", ":9000"),
		StoreDriver: GetEnv("STORE_DRIVER", "postgres"),
		DB: DBConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "5432"),
			User:     GetEnv("DB_USER", "postgres"),
			Password: GetEnv("DB_PASSWORD", "postgres"),
			Name:     GetEnv("DB_NAME", "auctions"),
			SSLMode:  GetEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     GetEnv("REDIS_ADDR", ""),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvInt("REDIS_DB", 0),
		},
		NatsURL: GetEnv("NATS_URL", ""),
		Scheduler: SchedulerConfig{
			Interval:          GetEnvDuration("SCHEDULER_INTERVAL", time.Minute),
			EndingSoonOffsets: offsets,
		},
		Queue: QueueConfig{
			Workers:             GetEnvInt("QUEUE_WORKERS", 4),
			MaxAttempts:         GetEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			ConflictRetries:     GetEnvInt("QUEUE_CONFLICT_RETRIES", 3),
			ConflictBackoff:     GetEnvDuration("QUEUE_CONFLICT_BACKOFF", 100*time.Millisecond),
			RetryBackoff:        GetEnvDuration("QUEUE_RETRY_BACKOFF", time.Second),
			HighValueThreshold:  threshold,
			HighPriorityDelay:   GetEnvDuration("QUEUE_HIGH_PRIORITY_DELAY", 50*time.Millisecond),
			MediumPriorityDelay: GetEnvDuration("QUEUE_MEDIUM_PRIORITY_DELAY", 200*time.Millisecond),
			CompletedRetention:  GetEnvDuration("QUEUE_COMPLETED_RETENTION", time.Hour),
		},
		RateLimit: RateLimitConfig{
			Window:          GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			BidLimit:        GetEnvInt("RATE_LIMIT_BIDS", 30),
			ConnectionLimit: GetEnvInt("RATE_LIMIT_CONNECTIONS", 20),
			SweepInterval:   GetEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		},
		CallTimeout:        GetEnvDuration("CALL_TIMEOUT", 5*time.Second),
		QueueRoutingWindow: GetEnvDuration("QUEUE_ROUTING_WINDOW", 30*time.Minute),
		QueueRoutingBids:   GetEnvInt("QUEUE_ROUTING_BIDS", 50),
	}

	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "memory" {
		return nil, fmt.Errorf("config: unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

// GetEnv returns the variable or fallback when it is unset or empty.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	v := GetEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	v := GetEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// GetEnvDurations parses a comma separated list such as "30m,15m,5m,1m".
func GetEnvDurations(key string, fallback []time.Duration) ([]time.Duration, error) {
	v := GetEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("config: invalid %s entry %q: %w", key, part, err)
		}
		out = append(out, d)
	}
	return out, nil
}
