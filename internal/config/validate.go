package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secrets
	if len(c.JWT.WidgetSecret) < 32 {
		errs = append(errs, "JWT_WIDGET_SECRET must be at least 32 characters")
	}
	if len(c.JWT.AdminSecret) < 32 {
		errs = append(errs, "JWT_ADMIN_SECRET must be at least 32 characters")
	}
	if c.JWT.WidgetSecret != "" && c.JWT.AdminSecret != "" && c.JWT.WidgetSecret == c.JWT.AdminSecret {
		errs = append(errs, "JWT_WIDGET_SECRET and JWT_ADMIN_SECRET must differ")
	}

	// Usage store
	switch c.Usage.Store {
	case StorePostgres:
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required")
		}
	case StoreRedis:
	default:
		errs = append(errs, fmt.Sprintf("USAGE_STORE must be %q or %q, got %q", StorePostgres, StoreRedis, c.Usage.Store))
	}

	for name, tz := range map[string]string{
		"USAGE_DEFAULT_TIMEZONE": c.Usage.DefaultTimezone,
		"USAGE_MONTH_TIMEZONE":   c.Usage.MonthTimezone,
	} {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Sprintf("%s is not a valid IANA timezone: %q", name, tz))
		}
	}

	if c.Usage.DefaultTimezone == "Local" {
		errs = append(errs, "USAGE_DEFAULT_TIMEZONE must be an IANA name, not \"Local\"")
	}
	if c.Usage.WriteRetries < 1 {
		errs = append(errs, "USAGE_WRITE_RETRIES must be at least 1")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	if c.Assistant.URL == "" {
		errs = append(errs, "ASSISTANT_URL is required")
	}

	// Warn only
	if c.Usage.FailOpen {
		slog.Warn("USAGE_FAIL_OPEN is set: chat requests are admitted while the usage store is unavailable")
	}
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty: usage events will not be published")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
