package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Queue       QueueConfig    `toml:"queue"`
	Pipeline    PipelineConfig `toml:"pipeline"`
	Webhooks    WebhooksConfig `toml:"webhooks"`
	Agent       AgentConfig    `toml:"agent"`
	Logging     LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// QueueConfig controls the broker and the per-queue worker pools.
// Settings under [queue.queues.<name>] override the defaults for that queue.
type QueueConfig struct {
	PollInterval      string                   `toml:"poll_interval"`
	VisibilityTimeout string                   `toml:"visibility_timeout"`
	MaxReceive        int                      `toml:"max_receive" validate:"min=1"`
	Defaults          QueueSettings            `toml:"defaults"`
	Queues            map[string]QueueSettings `toml:"queues"`
}

// QueueSettings holds the tunables for a single named queue.
type QueueSettings struct {
	MaxConcurrency       int    `toml:"max_concurrency"`
	RetryAttempts        int    `toml:"retry_attempts"`
	BackoffBase          string `toml:"backoff_base"`
	RetainCompletedCount int    `toml:"retain_completed_count"`
	RetainCompletedAge   string `toml:"retain_completed_age"`
	RetainFailedCount    int    `toml:"retain_failed_count"`
	RetainFailedAge      string `toml:"retain_failed_age"`
}

// PipelineConfig controls stage chaining delays and the monitor loop.
type PipelineConfig struct {
	ArchitectureDelay   string `toml:"architecture_delay"`
	ContentDelay        string `toml:"content_delay"`
	ElementorDelay      string `toml:"elementor_delay"`
	LinkingDelay        string `toml:"linking_delay"`
	PublishStagger      string `toml:"publish_stagger"`
	IndexToMonitorDelay string `toml:"index_to_monitor_delay"`
	MonitorInterval     string `toml:"monitor_interval"`
	OptimizeThreshold   int    `toml:"optimize_threshold" validate:"min=0,max=100"`
	FailedThreshold     int    `toml:"failed_threshold" validate:"min=1"`
}

// WebhooksConfig controls outbound fan-out and inbound validation.
type WebhooksConfig struct {
	Secret string `toml:"secret"`
	// TrustProxyHeaders enables X-Forwarded-For for inbound source IPs.
	// Leave off unless a trusted reverse proxy fronts the server; a direct
	// client can set the header to anything.
	TrustProxyHeaders bool     `toml:"trust_proxy_headers"`
	IPAllowlist       []string `toml:"ip_allowlist"`
	RateLimit         int      `toml:"rate_limit" validate:"min=1"`
	RateWindow        string   `toml:"rate_window"`
	DeliveryStagger   string   `toml:"delivery_stagger"`
	DeliveryTimeout   string   `toml:"delivery_timeout"`
	PerHostRate       float64  `toml:"per_host_rate"`
}

type AgentConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	Timeout   string `toml:"timeout"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`
	Output []string `toml:"output"`
}

// DefaultConfig returns the built-in defaults, applied before any file or
// environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{Path: "./data/pagemill"},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxReceive:        5,
			Defaults: QueueSettings{
				MaxConcurrency:       2,
				RetryAttempts:        3,
				BackoffBase:          "5s",
				RetainCompletedCount: 100,
				RetainCompletedAge:   "24h",
				RetainFailedCount:    100,
				RetainFailedAge:      "168h",
			},
			Queues: map[string]QueueSettings{},
		},
		Pipeline: PipelineConfig{
			ArchitectureDelay:   "30s",
			ContentDelay:        "120s",
			ElementorDelay:      "300s",
			LinkingDelay:        "600s",
			PublishStagger:      "2s",
			IndexToMonitorDelay: "60s",
			MonitorInterval:     "24h",
			OptimizeThreshold:   50,
			FailedThreshold:     25,
		},
		Webhooks: WebhooksConfig{
			RateLimit:       60,
			RateWindow:      "1m",
			DeliveryStagger: "500ms",
			DeliveryTimeout: "15s",
			PerHostRate:     2.0,
		},
		Agent: AgentConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
			Timeout:   "120s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration in layered order: defaults, then each file
// in sequence (later files override earlier ones), then environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
func ApplyFlagOverrides(cfg *Config, port int, host string) {
	if port != 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
}

// Validate checks the configuration against struct tags and duration fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":             c.Queue.PollInterval,
		"queue.visibility_timeout":        c.Queue.VisibilityTimeout,
		"pipeline.architecture_delay":     c.Pipeline.ArchitectureDelay,
		"pipeline.content_delay":          c.Pipeline.ContentDelay,
		"pipeline.elementor_delay":        c.Pipeline.ElementorDelay,
		"pipeline.linking_delay":          c.Pipeline.LinkingDelay,
		"pipeline.publish_stagger":        c.Pipeline.PublishStagger,
		"pipeline.index_to_monitor_delay": c.Pipeline.IndexToMonitorDelay,
		"pipeline.monitor_interval":       c.Pipeline.MonitorInterval,
		"webhooks.rate_window":            c.Webhooks.RateWindow,
		"webhooks.delivery_stagger":       c.Webhooks.DeliveryStagger,
		"webhooks.delivery_timeout":       c.Webhooks.DeliveryTimeout,
		"agent.timeout":                   c.Agent.Timeout,
	}
	for field, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", field, value)
		}
	}

	return nil
}

// Duration parses a duration config value, falling back when unset or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// applyEnvOverrides maps PAGEMILL_* environment variables onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAGEMILL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PAGEMILL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PAGEMILL_BADGER_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("PAGEMILL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PAGEMILL_WEBHOOK_SECRET"); v != "" {
		cfg.Webhooks.Secret = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = v
	}
}

// QueueSettingsFor resolves the effective settings for a named queue by
// overlaying any per-queue overrides onto the defaults.
func (c *QueueConfig) QueueSettingsFor(name string) QueueSettings {
	settings := c.Defaults
	override, ok := c.Queues[name]
	if !ok {
		return settings
	}
	if override.MaxConcurrency > 0 {
		settings.MaxConcurrency = override.MaxConcurrency
	}
	if override.RetryAttempts > 0 {
		settings.RetryAttempts = override.RetryAttempts
	}
	if override.BackoffBase != "" {
		settings.BackoffBase = override.BackoffBase
	}
	if override.RetainCompletedCount > 0 {
		settings.RetainCompletedCount = override.RetainCompletedCount
	}
	if override.RetainCompletedAge != "" {
		settings.RetainCompletedAge = override.RetainCompletedAge
	}
	if override.RetainFailedCount > 0 {
		settings.RetainFailedCount = override.RetainFailedCount
	}
	if override.RetainFailedAge != "" {
		settings.RetainFailedAge = override.RetainFailedAge
	}
	return settings
}
