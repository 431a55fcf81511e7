package config

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "widgetly",
			Password: "secret", Name: "widgetly", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		JWT: JWTConfig{
			WidgetSecret: "widget-secret-that-is-at-least-32-chars!",
			AdminSecret:  "admin-secret-that-is-at-least-32-chars!!",
			WidgetExpiry: 720 * time.Hour,
			AdminExpiry:  12 * time.Hour,
		},
		Usage: UsageConfig{
			Store:           StorePostgres,
			DefaultTimezone: "UTC",
			MonthTimezone:   "America/Monterrey",
			WriteRetries:    3,
		},
		Assistant: AssistantConfig{URL: "http://assistant.local", Timeout: time.Minute},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_WidgetSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.WidgetSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_WIDGET_SECRET") {
		t.Fatalf("expected JWT_WIDGET_SECRET error, got: %v", err)
	}
}

func TestValidate_AdminSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AdminSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_ADMIN_SECRET") {
		t.Fatalf("expected JWT_ADMIN_SECRET error, got: %v", err)
	}
}

func TestValidate_SecretsMustDiffer(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.WidgetSecret = "the-same-secret-that-is-at-least-32-chars!"
	cfg.JWT.AdminSecret = "the-same-secret-that-is-at-least-32-chars!"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected 'must differ' error, got: %v", err)
	}
}

func TestValidate_DBPasswordRequiredForPostgresStore(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_DBPasswordOptionalForRedisStore(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	cfg.Usage.Store = StoreRedis
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_UnknownStore(t *testing.T) {
	cfg := validConfig()
	cfg.Usage.Store = "mongo"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "USAGE_STORE") {
		t.Fatalf("expected USAGE_STORE error, got: %v", err)
	}
}

func TestValidate_InvalidTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Usage.DefaultTimezone = "Mars/Olympus"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "USAGE_DEFAULT_TIMEZONE") {
		t.Fatalf("expected USAGE_DEFAULT_TIMEZONE error, got: %v", err)
	}
}

func TestValidate_DefaultTimezoneNotLocal(t *testing.T) {
	cfg := validConfig()
	cfg.Usage.DefaultTimezone = "Local"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "not \"Local\"") {
		t.Fatalf("expected Local default timezone to be rejected, got: %v", err)
	}

	cfg = validConfig()
	cfg.Usage.MonthTimezone = "Local"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("month timezone may follow the host, got: %v", err)
	}
}

func TestValidate_WriteRetries(t *testing.T) {
	cfg := validConfig()
	cfg.Usage.WriteRetries = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "USAGE_WRITE_RETRIES") {
		t.Fatalf("expected USAGE_WRITE_RETRIES error, got: %v", err)
	}
}

func TestValidate_InvalidPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.DB.Port = 99999
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected port validation errors")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("expected SERVER_PORT error in: %v", err)
	}
	if !strings.Contains(err.Error(), "DB_PORT") {
		t.Errorf("expected DB_PORT error in: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 0},
		DB:     DBConfig{Port: 5432},
		Redis:  RedisConfig{Port: 6379},
		Usage:  UsageConfig{Store: StorePostgres, DefaultTimezone: "UTC", MonthTimezone: "UTC", WriteRetries: 1},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	errStr := err.Error()
	for _, substr := range []string{"JWT_WIDGET_SECRET", "JWT_ADMIN_SECRET", "DB_PASSWORD", "SERVER_PORT", "ASSISTANT_URL"} {
		if !strings.Contains(errStr, substr) {
			t.Errorf("expected %q in error: %s", substr, errStr)
		}
	}
}
