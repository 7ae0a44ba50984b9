package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/asklp/asklp/internal/security"
)

type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout            time.Duration
	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	DiscordClientID     string
	DiscordClientSecret string
	DiscordRedirectURI  string
	DiscordAuthURL      string
	DiscordTokenURL     string
	DiscordUserInfoURL  string
	OAuthHTTPTimeout    time.Duration
	OAuthStateTTL       time.Duration

	EncryptionKeyHex string
	EncryptionKey    []byte

	DatabaseURL   string
	DatabaseToken string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitBackend     string
	RateLimitFailureMode string
	RateLimitRPS         float64
	RateLimitBurst       int
	RateLimitIdleTTL     time.Duration
	RateLimitMaxKeys     int

	SessionCookieSecure  bool
	SessionSweepInterval time.Duration
	RefreshTimeout       time.Duration
	RefreshMaxAttempts   int
	RefreshRetryBackoff  time.Duration

	AdminDiscordID     string
	DailyQuestionLimit int
	// QuestionDayZone names the zone whose midnight resets daily quotas.
	QuestionDayZone     string
	QuestionDayLocation *time.Location

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	EnableOTelHTTP            bool
}

var requiredKeys = []string{
	"DISCORD_CLIENT_ID",
	"DISCORD_CLIENT_SECRET",
	"DISCORD_REDIRECT_URI",
	"ENCRYPTION_KEY",
	"DATABASE_URL",
}

// Load reads .env (when present) and the process environment. Real environment
// variables always win over values from the file.
func Load() (cfg *Config, err error) {
	profile := os.Getenv("APP_ENV")
	defer func() { recordLoadOutcome(context.Background(), profile, err) }()

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	profile = v.GetString("APP_ENV")
	cfg, err = fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type EnvFileError struct {
	Path string
	Err  error
}

func (e *EnvFileError) Error() string { return fmt.Sprintf("env file %s: %v", e.Path, e.Err) }
func (e *EnvFileError) Unwrap() error { return e.Err }

type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Key, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError lists every problem found in one pass so operators can fix
// the environment in a single round.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	return "validate config: " + errors.Join(e.Problems...).Error()
}

func (e *ValidationError) Unwrap() []error { return e.Problems }

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &EnvFileError{Path: path, Err: err}
	}
	if err := godotenv.Load(path); err != nil {
		return &EnvFileError{Path: path, Err: err}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_READ_HEADER_TIMEOUT", "5s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "20s")
	v.SetDefault("SHUTDOWN_HTTP_DRAIN_TIMEOUT", "10s")
	v.SetDefault("SHUTDOWN_OBSERVABILITY_TIMEOUT", "5s")

	v.SetDefault("DISCORD_AUTH_URL", "https://discord.com/api/oauth2/authorize")
	v.SetDefault("DISCORD_TOKEN_URL", "https://discord.com/api/oauth2/token")
	v.SetDefault("DISCORD_USERINFO_URL", "https://discord.com/api/users/@me")
	v.SetDefault("OAUTH_HTTP_TIMEOUT", "10s")
	v.SetDefault("OAUTH_STATE_TTL", "10m")

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_BACKEND", "local")
	v.SetDefault("RATE_LIMIT_FAILURE_MODE", "fail_open")
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_IDLE_TTL", "10m")
	v.SetDefault("RATE_LIMIT_MAX_KEYS", 100000)

	v.SetDefault("SESSION_COOKIE_SECURE", false)
	v.SetDefault("SESSION_SWEEP_INTERVAL", "10m")
	v.SetDefault("REFRESH_TIMEOUT", "10s")
	v.SetDefault("REFRESH_MAX_ATTEMPTS", 1)
	v.SetDefault("REFRESH_RETRY_BACKOFF", "200ms")

	v.SetDefault("DAILY_QUESTION_LIMIT", 10)
	v.SetDefault("QUESTION_DAY_ZONE", "America/New_York")

	v.SetDefault("OTEL_SERVICE_NAME", "asklp")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("OTEL_METRICS_ENABLED", false)
	v.SetDefault("OTEL_TRACING_ENABLED", false)
	v.SetDefault("OTEL_LOGS_ENABLED", false)
	v.SetDefault("OTEL_METRICS_EXPORT_INTERVAL", "30s")
	v.SetDefault("OTEL_TRACE_SAMPLING_RATIO", 1.0)
	v.SetDefault("OTEL_HTTP_ENABLED", false)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:      strings.TrimSpace(v.GetString("APP_ENV")),
		HTTPAddr: v.GetString("HTTP_ADDR"),
		LogLevel: v.GetString("LOG_LEVEL"),

		DiscordClientID:     strings.TrimSpace(v.GetString("DISCORD_CLIENT_ID")),
		DiscordClientSecret: strings.TrimSpace(v.GetString("DISCORD_CLIENT_SECRET")),
		DiscordRedirectURI:  strings.TrimSpace(v.GetString("DISCORD_REDIRECT_URI")),
		DiscordAuthURL:      v.GetString("DISCORD_AUTH_URL"),
		DiscordTokenURL:     v.GetString("DISCORD_TOKEN_URL"),
		DiscordUserInfoURL:  v.GetString("DISCORD_USERINFO_URL"),

		EncryptionKeyHex: strings.TrimSpace(v.GetString("ENCRYPTION_KEY")),
		DatabaseURL:      strings.TrimSpace(v.GetString("DATABASE_URL")),
		DatabaseToken:    v.GetString("DATABASE_TOKEN"),

		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		RateLimitBackend:     strings.ToLower(strings.TrimSpace(v.GetString("RATE_LIMIT_BACKEND"))),
		RateLimitFailureMode: strings.ToLower(strings.TrimSpace(v.GetString("RATE_LIMIT_FAILURE_MODE"))),
		RateLimitRPS:         v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:       v.GetInt("RATE_LIMIT_BURST"),
		RateLimitMaxKeys:     v.GetInt("RATE_LIMIT_MAX_KEYS"),

		SessionCookieSecure: v.GetBool("SESSION_COOKIE_SECURE"),
		RefreshMaxAttempts:  v.GetInt("REFRESH_MAX_ATTEMPTS"),

		AdminDiscordID:     strings.TrimSpace(v.GetString("ADMIN_DISCORD_ID")),
		DailyQuestionLimit: v.GetInt("DAILY_QUESTION_LIMIT"),
		QuestionDayZone:    strings.TrimSpace(v.GetString("QUESTION_DAY_ZONE")),

		OTELServiceName:          v.GetString("OTEL_SERVICE_NAME"),
		OTELEnvironment:          v.GetString("APP_ENV"),
		OTELExporterOTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELExporterOTLPInsecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		OTELMetricsEnabled:       v.GetBool("OTEL_METRICS_ENABLED"),
		OTELTracingEnabled:       v.GetBool("OTEL_TRACING_ENABLED"),
		OTELLogsEnabled:          v.GetBool("OTEL_LOGS_ENABLED"),
		OTELTraceSamplingRatio:   v.GetFloat64("OTEL_TRACE_SAMPLING_RATIO"),
		EnableOTelHTTP:           v.GetBool("OTEL_HTTP_ENABLED"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_READ_HEADER_TIMEOUT", &cfg.ReadHeaderTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"SHUTDOWN_HTTP_DRAIN_TIMEOUT", &cfg.ShutdownHTTPDrainTimeout},
		{"SHUTDOWN_OBSERVABILITY_TIMEOUT", &cfg.ShutdownObservabilityTimeout},
		{"OAUTH_HTTP_TIMEOUT", &cfg.OAuthHTTPTimeout},
		{"OAUTH_STATE_TTL", &cfg.OAuthStateTTL},
		{"RATE_LIMIT_IDLE_TTL", &cfg.RateLimitIdleTTL},
		{"SESSION_SWEEP_INTERVAL", &cfg.SessionSweepInterval},
		{"REFRESH_TIMEOUT", &cfg.RefreshTimeout},
		{"REFRESH_RETRY_BACKOFF", &cfg.RefreshRetryBackoff},
		{"OTEL_METRICS_EXPORT_INTERVAL", &cfg.OTELMetricsExportInterval},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, &ParseError{Key: d.key, Err: err}
		}
		*d.dst = parsed
	}
	return cfg, nil
}

// Validate reports configuration that must stop the process at startup.
func (c *Config) Validate() error {
	var errs []error
	values := map[string]string{
		"DISCORD_CLIENT_ID":     c.DiscordClientID,
		"DISCORD_CLIENT_SECRET": c.DiscordClientSecret,
		"DISCORD_REDIRECT_URI":  c.DiscordRedirectURI,
		"ENCRYPTION_KEY":        c.EncryptionKeyHex,
		"DATABASE_URL":          c.DatabaseURL,
	}
	for _, key := range requiredKeys {
		if values[key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if c.EncryptionKeyHex != "" {
		key, err := security.ParseEncryptionKey(c.EncryptionKeyHex)
		if err != nil {
			errs = append(errs, fmt.Errorf("ENCRYPTION_KEY: %w", err))
		} else {
			c.EncryptionKey = key
		}
	}
	if c.DiscordRedirectURI != "" {
		if u, err := url.Parse(c.DiscordRedirectURI); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, errors.New("DISCORD_REDIRECT_URI must be an absolute URL"))
		}
	}
	switch c.RateLimitBackend {
	case "local":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be local or redis, got %q", c.RateLimitBackend))
	}
	if c.RateLimitFailureMode != "fail_open" && c.RateLimitFailureMode != "fail_closed" {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_FAILURE_MODE must be fail_open or fail_closed, got %q", c.RateLimitFailureMode))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be positive"))
	}
	if c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be positive"))
	}
	if c.RefreshMaxAttempts < 1 {
		errs = append(errs, errors.New("REFRESH_MAX_ATTEMPTS must be at least 1"))
	}
	if c.DailyQuestionLimit < 0 {
		errs = append(errs, errors.New("DAILY_QUESTION_LIMIT must not be negative"))
	}
	if loc, err := time.LoadLocation(c.QuestionDayZone); err != nil {
		errs = append(errs, fmt.Errorf("QUESTION_DAY_ZONE: %w", err))
	} else {
		c.QuestionDayLocation = loc
	}
	if c.SessionSweepInterval <= 0 {
		errs = append(errs, errors.New("SESSION_SWEEP_INTERVAL must be positive"))
	}
	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return normalizeConfigProfile(c.Env) == "production" || normalizeConfigProfile(c.Env) == "prod"
}
