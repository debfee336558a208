// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Storage settings. DatabaseURL selects Postgres; when empty the embedded
	// SQLite store at SQLitePath is used.
	DatabaseURL   string
	SQLitePath    string
	MaxDBConns    int32
	MigrationsDir string // Overrides the embedded migrations when set.

	// Generation provider settings.
	Provider         string // "auto", "live", or "echo"
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string

	// Seed configuration for a fresh store.
	DefaultSystemPrompt string
	DefaultModel        string
	DefaultImageModel   string

	// Runner settings.
	EnhanceTimeout    time.Duration
	ImageTimeout      time.Duration
	MaxConcurrentRuns int

	// Run endpoint throttling per source and client. Zero RPS disables it.
	RunRateLimitRPS   float64
	RunRateLimitBurst int

	// Changelog retention. Zero MaxEntries disables trimming.
	ChangelogMaxEntries   int
	ChangelogTrimInterval time.Duration

	// MCP endpoint.
	MCPEnabled bool

	// OTEL settings.
	OTELEndpoint    string
	OTELInsecure    bool
	ServiceName     string
	TraceSampleRate float64

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// DefaultSystemPrompt seeds the enhancer on first start.
const DefaultSystemPrompt = "You are a prompt engineer. Rewrite the user's text as a single vivid, " +
	"concrete prompt for an image generation model. Describe subject, composition, " +
	"lighting and style. Reply with the prompt only."

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := envStr
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}
	ratio := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		Port:                  num("PROMPTLAB_PORT", 8080),
		ReadTimeout:           dur("PROMPTLAB_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:          dur("PROMPTLAB_WRITE_TIMEOUT", 5*time.Minute),
		ShutdownTimeout:       dur("PROMPTLAB_SHUTDOWN_TIMEOUT", 10*time.Second),
		DatabaseURL:           str("DATABASE_URL", ""),
		SQLitePath:            str("PROMPTLAB_SQLITE_PATH", "data/promptlab.db"),
		MaxDBConns:            int32(num("PROMPTLAB_MAX_DB_CONNS", 10)),
		MigrationsDir:         str("PROMPTLAB_MIGRATIONS_DIR", ""),
		Provider:              strings.ToLower(str("PROMPTLAB_PROVIDER", "auto")),
		AnthropicAPIKey:       str("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:      str("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		OpenAIAPIKey:          str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         str("OPENAI_BASE_URL", "https://api.openai.com"),
		DefaultSystemPrompt:   str("PROMPTLAB_DEFAULT_SYSTEM_PROMPT", DefaultSystemPrompt),
		DefaultModel:          str("PROMPTLAB_DEFAULT_MODEL", "claude-sonnet-4-20250514"),
		DefaultImageModel:     str("PROMPTLAB_DEFAULT_IMAGE_MODEL", "gpt-image-1"),
		EnhanceTimeout:        dur("PROMPTLAB_ENHANCE_TIMEOUT", 60*time.Second),
		ImageTimeout:          dur("PROMPTLAB_IMAGE_TIMEOUT", 3*time.Minute),
		MaxConcurrentRuns:     num("PROMPTLAB_MAX_CONCURRENT_RUNS", 0),
		RunRateLimitRPS:       ratio("PROMPTLAB_RUN_RATE_LIMIT_RPS", 0),
		RunRateLimitBurst:     num("PROMPTLAB_RUN_RATE_LIMIT_BURST", 5),
		ChangelogMaxEntries:   num("PROMPTLAB_CHANGELOG_MAX_ENTRIES", 1000),
		ChangelogTrimInterval: dur("PROMPTLAB_CHANGELOG_TRIM_INTERVAL", time.Hour),
		MCPEnabled:            flag("PROMPTLAB_MCP_ENABLED", true),
		OTELEndpoint:          str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:          flag("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:           str("OTEL_SERVICE_NAME", "promptlab"),
		TraceSampleRate:       ratio("PROMPTLAB_TRACE_SAMPLE_RATE", 1.0),
		LogLevel:              strings.ToLower(str("PROMPTLAB_LOG_LEVEL", "info")),
		MaxRequestBodyBytes:   int64(num("PROMPTLAB_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PROMPTLAB_PORT must be between 1 and 65535"))
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		errs = append(errs, fmt.Errorf("one of DATABASE_URL or PROMPTLAB_SQLITE_PATH is required"))
	}
	if c.MaxDBConns <= 0 {
		errs = append(errs, fmt.Errorf("PROMPTLAB_MAX_DB_CONNS must be positive"))
	}
	switch c.Provider {
	case "auto", "echo":
	case "live":
		if c.AnthropicAPIKey == "" || c.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Errorf("PROMPTLAB_PROVIDER=live requires ANTHROPIC_API_KEY and OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("PROMPTLAB_PROVIDER must be auto, live or echo, got %q", c.Provider))
	}
	if c.EnhanceTimeout < 0 || c.ImageTimeout < 0 {
		errs = append(errs, fmt.Errorf("stage timeouts must not be negative"))
	}
	if c.MaxConcurrentRuns < 0 {
		errs = append(errs, fmt.Errorf("PROMPTLAB_MAX_CONCURRENT_RUNS must not be negative"))
	}
	if c.RunRateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("PROMPTLAB_RUN_RATE_LIMIT_RPS must not be negative"))
	}
	if c.RunRateLimitRPS > 0 && c.RunRateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("PROMPTLAB_RUN_RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled"))
	}
	if c.ChangelogMaxEntries < 0 {
		errs = append(errs, fmt.Errorf("PROMPTLAB_CHANGELOG_MAX_ENTRIES must not be negative"))
	}
	if c.ChangelogMaxEntries > 0 && c.ChangelogTrimInterval <= 0 {
		errs = append(errs, fmt.Errorf("PROMPTLAB_CHANGELOG_TRIM_INTERVAL must be positive when trimming is enabled"))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, fmt.Errorf("PROMPTLAB_TRACE_SAMPLE_RATE must be between 0 and 1"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("PROMPTLAB_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("PROMPTLAB_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Backend names the storage backend the configuration selects.
func (c Config) Backend() string {
	if c.DatabaseURL != "" {
		return "postgres"
	}
	return "sqlite"
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
