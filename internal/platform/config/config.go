package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	platformstrings "zodiac/pkg/platform/strings"
)

// Config is the full process configuration, read once at start-up.
type Config struct {
	Server     Server
	Log        Log
	Postgres   PostgresConfig
	Redis      RedisConfig
	Telegram   TelegramConfig
	Delivery   DeliveryConfig
	Content    ContentConfig
	Audit      AuditConfig
	Admin      AdminConfig
	SessionTTL time.Duration
}

// Server captures HTTP server level configuration for the ops/admin API.
type Server struct {
	Addr string
}

type Log struct {
	Level  string
	Format string
}

// PostgresConfig selects the profile store. Empty DSN means in-memory.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig selects the session store and delivery ledger. Empty URL means in-memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type TelegramConfig struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
}

// DeliveryConfig drives the per-participant watchers. MorningAt and EveningAt
// are "HH:MM" in Location.
type DeliveryConfig struct {
	PollInterval time.Duration
	MorningAt    string
	EveningAt    string
	Location     *time.Location
}

// ContentConfig points at the content preparation service. Empty URL selects
// the local preparer.
type ContentConfig struct {
	URL     string
	Timeout time.Duration
}

// AuditConfig enables the Kafka audit sink when Brokers is non-empty.
type AuditConfig struct {
	Brokers    []string
	Topic      string
	BufferSize int
}

type AdminConfig struct {
	JWTSigningKey string
	JWTIssuer     string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	loc, err := time.LoadLocation(getEnv("DELIVERY_TIMEZONE", "Local"))
	if err != nil {
		return Config{}, fmt.Errorf("load DELIVERY_TIMEZONE: %w", err)
	}

	signingKey := os.Getenv("ADMIN_JWT_SIGNING_KEY")
	if signingKey == "" {
		// Development default; override in production.
		signingKey = "dev-admin-key-change-in-production"
	}

	cfg := Config{
		Server: Server{Addr: getEnv("ZODIAC_ADDR", ":8080")},
		Log: Log{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Telegram: TelegramConfig{
			Token:       os.Getenv("TELEGRAM_BOT_TOKEN"),
			APIURL:      getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			PollTimeout: getDuration("TELEGRAM_POLL_TIMEOUT", 30*time.Second),
		},
		Delivery: DeliveryConfig{
			PollInterval: getDuration("DELIVERY_POLL_INTERVAL", 50*time.Second),
			MorningAt:    getEnv("DELIVERY_MORNING_AT", "06:39"),
			EveningAt:    getEnv("DELIVERY_EVENING_AT", "15:00"),
			Location:     loc,
		},
		Content: ContentConfig{
			URL:     os.Getenv("CONTENT_SERVICE_URL"),
			Timeout: getDuration("CONTENT_TIMEOUT", 30*time.Second),
		},
		Audit: AuditConfig{
			Brokers:    platformstrings.SplitList(os.Getenv("AUDIT_KAFKA_BROKERS"), ","),
			Topic:      getEnv("AUDIT_KAFKA_TOPIC", "zodiac.audit"),
			BufferSize: getInt("AUDIT_BUFFER_SIZE", 1024),
		},
		Admin: AdminConfig{
			JWTSigningKey: signingKey,
			JWTIssuer:     getEnv("ADMIN_JWT_ISSUER", "zodiac"),
		},
		SessionTTL: getDuration("SESSION_TTL", 30*24*time.Hour),
	}

	if cfg.Telegram.Token == "" {
		return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.Delivery.PollInterval <= 0 {
		return Config{}, fmt.Errorf("DELIVERY_POLL_INTERVAL must be positive")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
