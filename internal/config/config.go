package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultSourceType      = "json"
	DefaultSourceTimeout   = 10 * time.Second
	DefaultMinPlausible    = 100
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = 2 * time.Second
	DefaultMaxSamples      = 1000
	DefaultDedupSpacing    = 30 * time.Second
	DefaultBaselinePoints  = 25
	DefaultBaselineStep    = time.Hour
	DefaultPollInterval    = 10 * time.Minute
	DefaultRecentSamples   = 10
	DefaultInsightMinimum  = 5
	DefaultInsightEvery    = 5
	DefaultInsightTimeout  = 30 * time.Second
	DefaultHTTPPort        = 8080
	DefaultBroadcastPeriod = 5 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"

	// MinPollInterval and MaxPollInterval bound scheduler.interval.
	MinPollInterval = 10 * time.Second
	MaxPollInterval = 24 * time.Hour
)

// Config is the top-level configuration. Fields map 1:1 to config.example.yaml.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Retry     RetryConfig     `yaml:"retry"`
	History   HistoryConfig   `yaml:"history"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Insight   InsightConfig   `yaml:"insight"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// LockFile, when set, is locked for the lifetime of the process so two
	// monitors never poll the same upstream from one host.
	LockFile string `yaml:"lock_file"`
}

// SourceConfig describes the upstream holder-count endpoint.
type SourceConfig struct {
	// ID is a human-readable identifier used in logs and metrics.
	ID string `yaml:"id"`

	// Type is the body format: json | text | prometheus.
	Type string `yaml:"type"`

	// Endpoint is the full URL fetched with one GET per attempt.
	Endpoint string `yaml:"endpoint"`

	// Fields is the ordered list of gjson paths tried for type json.
	// The first path that yields a usable integer wins.
	Fields []string `yaml:"fields"`

	// Keyword is the label searched near integers for type text ("holder").
	Keyword string `yaml:"keyword"`

	// Metric is the metric family name read for type prometheus.
	Metric string `yaml:"metric"`

	// MinPlausible is the sanity floor; smaller readings are rejected as malformed.
	MinPlausible int64 `yaml:"min_plausible"`

	// Timeout bounds a single fetch attempt.
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent overrides the default Go user agent when non-empty.
	UserAgent string `yaml:"user_agent"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for the upstream source.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header name the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options for the upstream source.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// RetryConfig bounds the exponential-backoff retry of a fetch.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	// Jitter is a fraction in [0, 1) applied symmetrically to each delay.
	Jitter float64 `yaml:"jitter"`
}

// HistoryConfig controls the in-memory sample history.
type HistoryConfig struct {
	MaxSamples   int           `yaml:"max_samples"`
	DedupSpacing time.Duration `yaml:"dedup_spacing"`

	// SeedValue, when positive, fills the history with a flat synthetic
	// baseline at startup so charts have width before the first sync.
	SeedValue int64 `yaml:"seed_value"`

	BaselinePoints int           `yaml:"baseline_points"`
	BaselineStep   time.Duration `yaml:"baseline_step"`

	// ReseedOnFirstSync replaces the history with a baseline of the first
	// real reading instead of appending it.
	ReseedOnFirstSync *bool `yaml:"reseed_on_first_sync"`
}

// Reseed reports whether first-sync reseeding is enabled (default true).
func (h HistoryConfig) Reseed() bool {
	return h.ReseedOnFirstSync == nil || *h.ReseedOnFirstSync
}

// SchedulerConfig controls the polling cadence.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// InsightConfig configures the external summarization collaborator.
type InsightConfig struct {
	// Endpoint is the summarizer URL. Empty disables summarization; the
	// default report is served instead.
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the summarizer key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is forwarded to the summarizer untouched.
	Model string `yaml:"model"`

	RecentSamples int           `yaml:"recent_samples"`
	MinSamples    int           `yaml:"min_samples"`
	Every         int           `yaml:"every"`
	Timeout       time.Duration `yaml:"timeout"`
}

// APIKey returns the summarizer key resolved from the environment.
func (i InsightConfig) APIKey() string {
	if i.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(i.APIKeyEnv)
}

// AlertsConfig holds all alerting rules and webhook targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines a threshold-based alert condition on the stats summary.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is an expression like "change_1h < -10" or "new_ath == true".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// ServerConfig holds the presentation surface settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// BroadcastInterval is how often the WebSocket hub pushes a heartbeat snapshot.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	// Endpoint is the OTLP/gRPC collector address. Empty disables tracing.
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	fill(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Source: SourceConfig{
			ID:           "holders",
			Type:         DefaultSourceType,
			Keyword:      "holder",
			MinPlausible: DefaultMinPlausible,
			Timeout:      DefaultSourceTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultBaseDelay,
		},
		History: HistoryConfig{
			MaxSamples:     DefaultMaxSamples,
			DedupSpacing:   DefaultDedupSpacing,
			BaselinePoints: DefaultBaselinePoints,
			BaselineStep:   DefaultBaselineStep,
		},
		Scheduler: SchedulerConfig{Interval: DefaultPollInterval},
		Insight: InsightConfig{
			RecentSamples: DefaultRecentSamples,
			MinSamples:    DefaultInsightMinimum,
			Every:         DefaultInsightEvery,
			Timeout:       DefaultInsightTimeout,
		},
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastPeriod,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// fill restores defaults for fields explicitly set to their zero value.
func fill(cfg *Config) {
	if cfg.Source.Type == "" {
		cfg.Source.Type = DefaultSourceType
	}
	if cfg.Source.Keyword == "" {
		cfg.Source.Keyword = "holder"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	src := cfg.Source
	if src.Endpoint == "" {
		return fmt.Errorf("source.endpoint is required")
	}
	switch src.Type {
	case "json", "text":
	case "prometheus":
		if src.Metric == "" {
			return fmt.Errorf("source.metric is required for type prometheus")
		}
	default:
		return fmt.Errorf("source.type %q unknown: want json|text|prometheus", src.Type)
	}
	switch src.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("source.auth.mode %q unknown", src.Auth.Mode)
	}
	if src.MinPlausible < 0 {
		return fmt.Errorf("source.min_plausible must not be negative")
	}
	if src.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be positive")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if cfg.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter >= 1 {
		return fmt.Errorf("retry.jitter must be in [0, 1)")
	}
	if cfg.History.MaxSamples <= 0 {
		return fmt.Errorf("history.max_samples must be positive")
	}
	if cfg.History.DedupSpacing < 0 {
		return fmt.Errorf("history.dedup_spacing must not be negative")
	}
	if cfg.History.BaselinePoints <= 0 || cfg.History.BaselinePoints > cfg.History.MaxSamples {
		return fmt.Errorf("history.baseline_points must be in [1, max_samples]")
	}
	if cfg.History.BaselineStep <= 0 {
		return fmt.Errorf("history.baseline_step must be positive")
	}
	if cfg.History.SeedValue < 0 {
		return fmt.Errorf("history.seed_value must not be negative")
	}
	if iv := cfg.Scheduler.Interval; iv < MinPollInterval || iv > MaxPollInterval {
		return fmt.Errorf("scheduler.interval %v is out of range [%v, %v]", iv, MinPollInterval, MaxPollInterval)
	}
	if cfg.Insight.RecentSamples <= 0 {
		return fmt.Errorf("insight.recent_samples must be positive")
	}
	if cfg.Insight.MinSamples < 2 {
		return fmt.Errorf("insight.min_samples must be at least 2")
	}
	if cfg.Insight.Every <= 0 {
		return fmt.Errorf("insight.every must be positive")
	}
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d] %q: condition is required", i, r.Name)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q unknown", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q unknown: want json|text", cfg.Logging.Format)
	}
	return nil
}
