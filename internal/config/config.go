package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an optional .env file loaded before parsing).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Webhooks WebhookConfig
	Queue    QueueConfig
	Live     LiveConfig
}

type AppConfig struct {
	Env  string
	Port int

	// LogLevel overrides the env-derived level (debug, info, warn, error).
	LogLevel string

	// CORSAllowedOrigins lists dashboard origins allowed to call the API from a browser.
	CORSAllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	// ServiceTokenTTL bounds tokens minted for the dialer and engagement integrations.
	ServiceTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// APIBaseURL is overridable for tests and regional edges.
	APIBaseURL string
}

// UnmatchedPolicy decides what happens to a provider callback that does not resolve to a call.
type UnmatchedPolicy string

const (
	UnmatchedDrop  UnmatchedPolicy = "drop"
	UnmatchedDefer UnmatchedPolicy = "defer"
)

type WebhookConfig struct {
	// PublicBaseURL is the exact external origin the provider calls (used in signature checks).
	PublicBaseURL string

	// SkipSignature disables provider signature validation. Rejected in production.
	SkipSignature bool

	UnmatchedPolicy      UnmatchedPolicy
	UnmatchedRetryDelay  time.Duration
	UnmatchedMaxAttempts int
}

type QueueConfig struct {
	Name        string
	Concurrency int
}

type LiveConfig struct {
	// PresenceBackend is "memory" or "redis".
	PresenceBackend string
	PresenceTTL     time.Duration
	BufferSize      int

	// CorrectionsPerMinute bounds re-disposition submissions per actor.
	CorrectionsPerMinute int
}

func Load() (Config, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth = readAuth()

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))

	c.Webhooks.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.Webhooks.SkipSignature = optionalBool("WEBHOOK_SKIP_SIGNATURE")
	c.Webhooks.UnmatchedPolicy = UnmatchedPolicy(strings.ToLower(strings.TrimSpace(os.Getenv("UNMATCHED_CALLBACK_POLICY"))))
	c.Webhooks.UnmatchedRetryDelay = mustDuration("UNMATCHED_RETRY_DELAY")
	{
		n, err := optionalInt("UNMATCHED_MAX_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Webhooks.UnmatchedMaxAttempts = n
	}

	c.Queue.Name = strings.TrimSpace(os.Getenv("ASYNQ_QUEUE"))
	{
		n, err := optionalInt("ASYNQ_CONCURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Queue.Concurrency = n
	}

	c.Live.PresenceBackend = strings.ToLower(strings.TrimSpace(os.Getenv("PRESENCE_BACKEND")))
	c.Live.PresenceTTL = mustDuration("PRESENCE_TTL")
	{
		n, err := optionalInt("LIVE_BUFFER_SIZE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Live.BufferSize = n
	}
	{
		n, err := optionalInt("CORRECTION_RATE_PER_MINUTE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Live.CorrectionsPerMinute = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	errs = append(errs, c.Auth.validate(c.IsProduction())...)

	if c.Twilio.AuthToken == "" && !c.Webhooks.SkipSignature {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required unless WEBHOOK_SKIP_SIGNATURE is set"))
	}
	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com"
	}

	if c.Webhooks.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if u, err := url.Parse(c.Webhooks.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.Webhooks.PublicBaseURL))
	}
	if c.Webhooks.SkipSignature && c.IsProduction() {
		errs = append(errs, errors.New("WEBHOOK_SKIP_SIGNATURE is not allowed in production"))
	}
	switch c.Webhooks.UnmatchedPolicy {
	case "":
		c.Webhooks.UnmatchedPolicy = UnmatchedDrop
	case UnmatchedDrop, UnmatchedDefer:
	default:
		errs = append(errs, fmt.Errorf("UNMATCHED_CALLBACK_POLICY must be one of drop, defer, got %q", c.Webhooks.UnmatchedPolicy))
	}
	if c.Webhooks.UnmatchedRetryDelay <= 0 {
		c.Webhooks.UnmatchedRetryDelay = 5 * time.Second
	}
	if c.Webhooks.UnmatchedMaxAttempts <= 0 {
		c.Webhooks.UnmatchedMaxAttempts = 3
	}

	if c.Queue.Name == "" {
		c.Queue.Name = "callbacks"
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 10
	}

	switch c.Live.PresenceBackend {
	case "":
		c.Live.PresenceBackend = "redis"
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("PRESENCE_BACKEND must be one of memory, redis, got %q", c.Live.PresenceBackend))
	}
	if c.Live.PresenceTTL <= 0 {
		c.Live.PresenceTTL = 45 * time.Second
	}
	if c.Live.BufferSize <= 0 {
		c.Live.BufferSize = 64
	}
	if c.Live.CorrectionsPerMinute <= 0 {
		c.Live.CorrectionsPerMinute = 30
	}

	return joinErrors(errs)
}

// LoadAuth reads only the JWT settings. cmd/token uses it to mint tokens without
// needing database or provider configuration.
func LoadAuth() (AuthConfig, error) {
	_ = godotenv.Load()
	a := readAuth()
	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	return a, joinErrors(a.validate(env == "production"))
}

func readAuth() AuthConfig {
	// Duration env vars are optional; defaults applied in validate.
	return AuthConfig{
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience:     strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		AccessTokenTTL:  mustDuration("JWT_ACCESS_TTL"),
		ServiceTokenTTL: mustDuration("JWT_SERVICE_TTL"),
	}
}

func (a *AuthConfig) validate(production bool) []error {
	var errs []error
	if a.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if production {
		if a.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if a.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if a.AccessTokenTTL <= 0 {
		a.AccessTokenTTL = 15 * time.Minute
	}
	if a.ServiceTokenTTL <= 0 {
		a.ServiceTokenTTL = 90 * 24 * time.Hour
	}
	if a.ServiceTokenTTL < a.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_SERVICE_TTL must not be shorter than JWT_ACCESS_TTL"))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
