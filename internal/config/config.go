// Package config loads threadwise's configuration from YAML (or JSON5),
// applies defaults and environment overrides, and validates the result.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/ratelimit"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "threadwise.yaml"

// LLM providers.
const (
	ProviderNone      = ""
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
)

// Config is the main configuration structure for threadwise.
type Config struct {
	Version     int                         `yaml:"version"`
	Slack       SlackConfig                 `yaml:"slack"`
	LLM         LLMConfig                   `yaml:"llm"`
	Context     ContextConfig               `yaml:"context"`
	Sessions    SessionsConfig              `yaml:"sessions"`
	Tools       ToolsConfig                 `yaml:"tools"`
	RateLimits  map[string]ratelimit.Config `yaml:"rate_limits"`
	Maintenance MaintenanceConfig           `yaml:"maintenance"`
	Server      ServerConfig                `yaml:"server"`
	Logging     LoggingConfig               `yaml:"logging"`
	Tracing     TracingConfig               `yaml:"tracing"`
}

type SlackConfig struct {
	BotToken       string        `yaml:"bot_token"`
	AppToken       string        `yaml:"app_token"`
	Debug          bool          `yaml:"debug"`
	MentionTimeout time.Duration `yaml:"mention_timeout"`
}

type LLMConfig struct {
	// Provider is "azure", "anthropic" or empty to answer from tool output alone.
	Provider    string          `yaml:"provider"`
	Azure       AzureConfig     `yaml:"azure"`
	Anthropic   AnthropicConfig `yaml:"anthropic"`
	MaxTokens   int             `yaml:"max_tokens"`
	Temperature float64         `yaml:"temperature"`
	Timeout     time.Duration   `yaml:"timeout"`
	MaxRetries  int             `yaml:"max_retries"`
	RetryDelay  time.Duration   `yaml:"retry_delay"`
	CacheTTL    time.Duration   `yaml:"cache_ttl"`
	CacheSize   int             `yaml:"cache_size"`
}

type AzureConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
	Model      string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type ContextConfig struct {
	MaxTokens   int           `yaml:"max_tokens"`
	MaxMessages int           `yaml:"max_messages"`
	MaxAge      time.Duration `yaml:"max_age"`
}

type SessionsConfig struct {
	// MaxAge is how long a session may stay active before the sweep drops it.
	MaxAge time.Duration `yaml:"max_age"`
}

type ToolsConfig struct {
	ConfigPath     string        `yaml:"config_path"`
	HotReload      bool          `yaml:"hot_reload"`
	PerToolTimeout time.Duration `yaml:"per_tool_timeout"`
	PlanTimeout    time.Duration `yaml:"plan_timeout"`
	MaxErrors      int           `yaml:"max_errors"`
	MaxContexts    int           `yaml:"max_contexts"`
}

// MaintenanceConfig holds cron specs for the background sweeps.
type MaintenanceConfig struct {
	SessionSweep  string        `yaml:"session_sweep"`
	ContextSweep  string        `yaml:"context_sweep"`
	ContextMaxAge time.Duration `yaml:"context_max_age"`
	HistorySweep  string        `yaml:"history_sweep"`
	KeepHours     int           `yaml:"keep_hours"`
	CacheSweep    string        `yaml:"cache_sweep"`
}

type ServerConfig struct {
	HealthAddr string `yaml:"health_addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry tracing. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads the configuration file at path, loads a .env file from the
// working directory when present, applies environment overrides and defaults,
// and validates the result. An empty path configures from the environment
// alone.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	raw := map[string]any{}
	if strings.TrimSpace(path) != "" {
		var err error
		raw, err = LoadRaw(path)
		if err != nil {
			return nil, err
		}
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "config.load", err)
	}

	applyEnv(cfg, os.Getenv)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fault.Wrap(fault.KindConfiguration, "config.dotenv", err)
	}
	return nil
}

// applyEnv overrides file values with the deployment's environment variables.
func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Slack.BotToken, "SLACK_BOT_TOKEN")
	set(&cfg.Slack.AppToken, "SLACK_APP_TOKEN")
	set(&cfg.Logging.Level, "LOG_LEVEL")
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	set(&cfg.LLM.Azure.APIKey, "AZURE_OPENAI_API_KEY")
	set(&cfg.LLM.Azure.Endpoint, "AZURE_OPENAI_ENDPOINT")
	set(&cfg.LLM.Azure.Deployment, "AZURE_OPENAI_DEPLOYMENT_NAME")
	set(&cfg.LLM.Azure.APIVersion, "AZURE_OPENAI_API_VERSION")
	set(&cfg.LLM.Azure.Model, "AZURE_OPENAI_MODEL")
	set(&cfg.LLM.Anthropic.APIKey, "ANTHROPIC_API_KEY")

	// A provider key in the environment selects that provider when the file
	// does not name one.
	if cfg.LLM.Provider == ProviderNone {
		switch {
		case cfg.LLM.Azure.APIKey != "":
			cfg.LLM.Provider = ProviderAzure
		case cfg.LLM.Anthropic.APIKey != "":
			cfg.LLM.Provider = ProviderAnthropic
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Slack.MentionTimeout == 0 {
		cfg.Slack.MentionTimeout = 2 * time.Minute
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Azure.APIVersion == "" {
		cfg.LLM.Azure.APIVersion = "2024-02-01"
	}
	if cfg.LLM.Azure.Model == "" {
		cfg.LLM.Azure.Model = "gpt-35-turbo"
	}
	if cfg.LLM.Anthropic.Model == "" {
		cfg.LLM.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1000
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.LLM.CacheTTL == 0 {
		cfg.LLM.CacheTTL = 5 * time.Minute
	}
	if cfg.LLM.CacheSize == 0 {
		cfg.LLM.CacheSize = 100
	}

	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 3000
	}
	if cfg.Context.MaxMessages == 0 {
		cfg.Context.MaxMessages = 50
	}
	if cfg.Context.MaxAge == 0 {
		cfg.Context.MaxAge = 24 * time.Hour
	}
	if cfg.Sessions.MaxAge == 0 {
		cfg.Sessions.MaxAge = 30 * time.Minute
	}

	if cfg.Tools.ConfigPath == "" {
		cfg.Tools.ConfigPath = "config/tools.yaml"
	}
	if cfg.Tools.PerToolTimeout == 0 {
		cfg.Tools.PerToolTimeout = 30 * time.Second
	}
	if cfg.Tools.PlanTimeout == 0 {
		cfg.Tools.PlanTimeout = 30 * time.Second
	}
	if cfg.Tools.MaxErrors == 0 {
		cfg.Tools.MaxErrors = 3
	}
	if cfg.Tools.MaxContexts == 0 {
		cfg.Tools.MaxContexts = 50
	}

	if cfg.Maintenance.SessionSweep == "" {
		cfg.Maintenance.SessionSweep = "@every 1m"
	}
	if cfg.Maintenance.ContextSweep == "" {
		cfg.Maintenance.ContextSweep = "@every 5m"
	}
	if cfg.Maintenance.ContextMaxAge == 0 {
		cfg.Maintenance.ContextMaxAge = time.Hour
	}
	if cfg.Maintenance.HistorySweep == "" {
		cfg.Maintenance.HistorySweep = "@every 1h"
	}
	if cfg.Maintenance.KeepHours == 0 {
		cfg.Maintenance.KeepHours = 48
	}
	if cfg.Maintenance.CacheSweep == "" {
		cfg.Maintenance.CacheSweep = "@every 5m"
	}

	if cfg.Server.HealthAddr == "" {
		cfg.Server.HealthAddr = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "threadwise"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}
}
