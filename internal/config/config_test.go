package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:      AppConfig{Env: "local", Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callcenter"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Twilio:   TwilioConfig{AuthToken: "token"},
		Webhooks: WebhookConfig{PublicBaseURL: "https://hooks.example.com"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected DB_SSLMODE error, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Webhooks.UnmatchedPolicy != UnmatchedDrop {
		t.Fatalf("expected drop policy default, got %q", c.Webhooks.UnmatchedPolicy)
	}
	if c.Webhooks.UnmatchedMaxAttempts != 3 || c.Webhooks.UnmatchedRetryDelay != 5*time.Second {
		t.Fatalf("unexpected reconcile defaults: %+v", c.Webhooks)
	}
	if c.Live.PresenceBackend != "redis" || c.Live.PresenceTTL != 45*time.Second {
		t.Fatalf("unexpected live defaults: %+v", c.Live)
	}
	if c.Twilio.APIBaseURL != "https://api.twilio.com" {
		t.Fatalf("unexpected twilio base: %q", c.Twilio.APIBaseURL)
	}
}

func TestValidate_RejectsUnknownUnmatchedPolicy(t *testing.T) {
	c := validLocal()
	c.Webhooks.UnmatchedPolicy = "queue-forever"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestValidate_SkipSignatureNotAllowedInProduction(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	c.Webhooks.SkipSignature = true
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "WEBHOOK_SKIP_SIGNATURE") {
		t.Fatalf("expected skip-signature error, got %v", err)
	}
}

func TestValidate_PublicBaseURLMustBeAbsolute(t *testing.T) {
	c := validLocal()
	c.Webhooks.PublicBaseURL = "hooks.example.com"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for relative base url")
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "n")
	t.Setenv("REDIS_HOST", "r")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("PUBLIC_BASE_URL", "https://hooks.example.com/")
	t.Setenv("UNMATCHED_CALLBACK_POLICY", "DEFER")
	t.Setenv("UNMATCHED_MAX_ATTEMPTS", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("LOG_LEVEL", " WARN ")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9000 || c.Webhooks.UnmatchedPolicy != UnmatchedDefer || c.Webhooks.UnmatchedMaxAttempts != 5 {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.Webhooks.PublicBaseURL != "https://hooks.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", c.Webhooks.PublicBaseURL)
	}
	if len(c.App.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", c.App.CORSAllowedOrigins)
	}
	if c.App.LogLevel != "warn" || c.Auth.ServiceTokenTTL != 90*24*time.Hour {
		t.Fatalf("unexpected defaults: level=%q service_ttl=%v", c.App.LogLevel, c.Auth.ServiceTokenTTL)
	}
}

func TestLoad_RejectsNonIntegerPort(t *testing.T) {
	t.Setenv("APP_PORT", "eighty")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadAuth_OnlyNeedsJWTSettings(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("JWT_ISSUER", "callcenter")
	t.Setenv("JWT_AUDIENCE", "api")
	t.Setenv("JWT_ACCESS_TTL", "10m")
	t.Setenv("JWT_SERVICE_TTL", "720h")

	a, err := LoadAuth()
	if err != nil {
		t.Fatalf("load auth: %v", err)
	}
	if a.AccessTokenTTL != 10*time.Minute || a.ServiceTokenTTL != 720*time.Hour {
		t.Fatalf("unexpected ttls: %+v", a)
	}

	t.Setenv("JWT_AUDIENCE", "")
	if _, err := LoadAuth(); err == nil || !strings.Contains(err.Error(), "JWT_AUDIENCE") {
		t.Fatalf("expected audience required in production, got %v", err)
	}

	t.Setenv("JWT_AUDIENCE", "api")
	t.Setenv("JWT_SERVICE_TTL", "1m")
	if _, err := LoadAuth(); err == nil {
		t.Fatalf("expected service ttl shorter than access ttl to fail")
	}
}
