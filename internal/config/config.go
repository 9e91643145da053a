package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice checkout service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	OracleMode    string
	OracleAPIKey  string
	OracleModel   string
	OracleBaseURL string
	OracleHTTPURL string
	OracleTimeout time.Duration

	SpeechWSURL    string
	SpeechAPIKey   string
	SpeechLanguage string

	// EchoAmbientWindow rejects every transcript that lands this soon after
	// system speech ended. EchoCompareWindow bounds the text comparison
	// against the last spoken phrase.
	EchoAmbientWindow   time.Duration
	EchoCompareWindow   time.Duration
	CheckoutGracePeriod time.Duration

	ReconnectEndBackoff   time.Duration
	ReconnectErrorBackoff time.Duration
	ReconnectMaxAttempts  int

	ProfileStore string
	ProfilePath  string
	DatabaseURL  string

	StorefrontWebhookURL string
	OrderWebhookURL      string

	ActionLogSize int
	PhrasesFile   string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with a custom key lookup, used by the CLI to layer flags over env.
func LoadFrom(lookup func(string) string) (Config, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	e := env{lookup: lookup}

	cfg := Config{
		BindAddr:         e.orDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: e.orDefault("APP_METRICS_NAMESPACE", "voicecart"),
		LogLevel:         strings.ToLower(e.orDefault("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(e.orDefault("LOG_FORMAT", "text")),
		OracleMode:       e.orDefault("ORACLE_MODE", "auto"),
		OracleAPIKey:     e.trimmed("ORACLE_API_KEY"),
		OracleModel:      e.orDefault("ORACLE_MODEL", "claude-sonnet-4-20250514"),
		OracleBaseURL:    e.orDefault("ORACLE_BASE_URL", "https://api.anthropic.com/v1"),
		OracleHTTPURL:    e.trimmed("ORACLE_HTTP_URL"),
		SpeechWSURL:      e.trimmed("SPEECH_WS_URL"),
		SpeechAPIKey:     e.trimmed("SPEECH_API_KEY"),
		SpeechLanguage:   e.orDefault("SPEECH_LANGUAGE", "en"),
		ProfileStore:     e.orDefault("PROFILE_STORE", "auto"),
		ProfilePath:      e.orDefault("PROFILE_PATH", ".data/profiles.toml"),
		DatabaseURL:      e.trimmed("DATABASE_URL"),

		StorefrontWebhookURL: e.trimmed("STOREFRONT_WEBHOOK_URL"),
		OrderWebhookURL:      e.trimmed("ORDER_WEBHOOK_URL"),
		PhrasesFile:          e.trimmed("PHRASES_FILE"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		OracleTimeout:            4 * time.Second,
		EchoAmbientWindow:        800 * time.Millisecond,
		EchoCompareWindow:        6 * time.Second,
		CheckoutGracePeriod:      1200 * time.Millisecond,
		ReconnectEndBackoff:      1 * time.Second,
		ReconnectErrorBackoff:    3 * time.Second,
		ReconnectMaxAttempts:     3,
		ActionLogSize:            50,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"ORACLE_TIMEOUT", &cfg.OracleTimeout},
		{"ECHO_AMBIENT_WINDOW", &cfg.EchoAmbientWindow},
		{"ECHO_COMPARE_WINDOW", &cfg.EchoCompareWindow},
		{"CHECKOUT_GRACE_PERIOD", &cfg.CheckoutGracePeriod},
		{"RECONNECT_END_BACKOFF", &cfg.ReconnectEndBackoff},
		{"RECONNECT_ERROR_BACKOFF", &cfg.ReconnectErrorBackoff},
	}
	for _, d := range durations {
		*d.dst, err = e.duration(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.ReconnectMaxAttempts, err = e.int("RECONNECT_MAX_ATTEMPTS", cfg.ReconnectMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.ActionLogSize, err = e.int("ACTION_LOG_SIZE", cfg.ActionLogSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = e.bool("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.OracleTimeout <= 0 {
		return Config{}, fmt.Errorf("ORACLE_TIMEOUT must be positive")
	}
	if cfg.EchoAmbientWindow < 0 || cfg.EchoCompareWindow < 0 || cfg.CheckoutGracePeriod < 0 {
		return Config{}, fmt.Errorf("echo and grace windows must be >= 0")
	}
	if cfg.EchoCompareWindow > 0 && cfg.EchoCompareWindow < cfg.EchoAmbientWindow {
		return Config{}, fmt.Errorf("ECHO_COMPARE_WINDOW must not be shorter than ECHO_AMBIENT_WINDOW")
	}
	if cfg.ReconnectMaxAttempts < 0 {
		return Config{}, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be >= 0")
	}
	if cfg.ActionLogSize <= 0 {
		return Config{}, fmt.Errorf("ACTION_LOG_SIZE must be positive")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT: %q (expected text|json)", cfg.LogFormat)
	}
	switch strings.ToLower(cfg.ProfileStore) {
	case "auto", "memory", "file", "postgres":
	default:
		return Config{}, fmt.Errorf("invalid PROFILE_STORE: %q (expected auto|memory|file|postgres)", cfg.ProfileStore)
	}

	return cfg, nil
}

type env struct {
	lookup func(string) string
}

func (e env) orDefault(key, fallback string) string {
	v := e.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (e env) trimmed(key string) string {
	return strings.TrimSpace(e.lookup(key))
}

func (e env) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := e.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (e env) int(key string, fallback int) (int, error) {
	v := e.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (e env) bool(key string, fallback bool) (bool, error) {
	v := strings.ToLower(e.trimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
