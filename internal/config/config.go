package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	Log       LogConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Usage     UsageConfig
	Assistant AssistantConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; usage events are not published when URL is empty.
type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	WidgetSecret string
	AdminSecret  string
	WidgetExpiry time.Duration
	AdminExpiry  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig bounds per-IP request rates on the public chat endpoints.
type RateLimitConfig struct {
	MaxRequests int
	WindowSec   int
}

// Usage store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type UsageConfig struct {
	Store           string
	DefaultTimezone string
	MonthTimezone   string
	FailOpen        bool
	WriteRetries    int
}

type AssistantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			WidgetSecret: k.String("jwt.widget.secret"),
			AdminSecret:  k.String("jwt.admin.secret"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: k.Int("ratelimit.max.requests"),
			WindowSec:   k.Int("ratelimit.window.sec"),
		},
		Usage: UsageConfig{
			Store:           k.String("usage.store"),
			DefaultTimezone: k.String("usage.default.timezone"),
			MonthTimezone:   k.String("usage.month.timezone"),
			FailOpen:        k.Bool("usage.fail.open"),
			WriteRetries:    k.Int("usage.write.retries"),
		},
		Assistant: AssistantConfig{
			URL:    k.String("assistant.url"),
			APIKey: k.String("assistant.api.key"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "widgetly"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "widgetly"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 60
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Usage.Store == "" {
		cfg.Usage.Store = StorePostgres
	}
	if cfg.Usage.DefaultTimezone == "" {
		cfg.Usage.DefaultTimezone = "UTC"
	}
	if cfg.Usage.MonthTimezone == "" {
		cfg.Usage.MonthTimezone = "Local"
	}
	if cfg.Usage.WriteRetries == 0 {
		cfg.Usage.WriteRetries = 3
	}

	// Parse durations
	cfg.JWT.WidgetExpiry, err = durationOr(k, "jwt.widget.expiry", "720h")
	if err != nil {
		return nil, fmt.Errorf("parsing jwt widget expiry: %w", err)
	}
	cfg.JWT.AdminExpiry, err = durationOr(k, "jwt.admin.expiry", "12h")
	if err != nil {
		return nil, fmt.Errorf("parsing jwt admin expiry: %w", err)
	}
	cfg.Assistant.Timeout, err = durationOr(k, "assistant.timeout", "60s")
	if err != nil {
		return nil, fmt.Errorf("parsing assistant timeout: %w", err)
	}

	return cfg, nil
}

func durationOr(k *koanf.Koanf, key, def string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = def
	}
	return time.ParseDuration(s)
}
