package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/threadwise/internal/fault"
)

var (
	logLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	logFormats = map[string]bool{"json": true, "text": true, "auto": true}
)

// Validate reports every problem with the configuration as a single
// configuration fault.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !strings.HasPrefix(c.Slack.BotToken, "xoxb-") {
		add("slack.bot_token must start with xoxb- (set SLACK_BOT_TOKEN)")
	}
	if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		add("slack.app_token must start with xapp- (set SLACK_APP_TOKEN)")
	}

	switch c.LLM.Provider {
	case ProviderNone:
	case ProviderAzure:
		az := c.LLM.Azure
		if az.APIKey == "" {
			add("llm.azure.api_key is required (set AZURE_OPENAI_API_KEY)")
		}
		if u, err := url.Parse(az.Endpoint); err != nil || u.Scheme != "https" || u.Host == "" {
			add("llm.azure.endpoint must be an https URL (set AZURE_OPENAI_ENDPOINT)")
		}
		if az.Deployment == "" {
			add("llm.azure.deployment is required (set AZURE_OPENAI_DEPLOYMENT_NAME)")
		}
	case ProviderAnthropic:
		if c.LLM.Anthropic.APIKey == "" {
			add("llm.anthropic.api_key is required (set ANTHROPIC_API_KEY)")
		}
	default:
		add("llm.provider must be azure, anthropic or empty, got %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must not be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxRetries < 0 {
		add("llm.max_retries must not be negative")
	}

	if c.Context.MaxTokens < 0 || c.Context.MaxMessages < 0 {
		add("context limits must not be negative")
	}
	if c.Tools.MaxErrors < 0 || c.Tools.MaxContexts < 0 {
		add("tools limits must not be negative")
	}
	for endpoint, rl := range c.RateLimits {
		if rl.RequestsPerMinute < 0 || rl.BurstLimit < 0 || rl.FailureThreshold < 0 {
			add("rate_limits.%s must not contain negative values", endpoint)
		}
	}

	for _, sched := range []struct{ field, spec string }{
		{"maintenance.session_sweep", c.Maintenance.SessionSweep},
		{"maintenance.context_sweep", c.Maintenance.ContextSweep},
		{"maintenance.history_sweep", c.Maintenance.HistorySweep},
		{"maintenance.cache_sweep", c.Maintenance.CacheSweep},
	} {
		if sched.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(sched.spec); err != nil {
			add("%s: invalid schedule %q: %v", sched.field, sched.spec, err)
		}
	}
	if c.Maintenance.KeepHours < 0 {
		add("maintenance.keep_hours must not be negative")
	}

	if !logLevels[c.Logging.Level] {
		add("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	if c.Logging.Format != "" && !logFormats[c.Logging.Format] {
		add("logging.format must be json, text or auto; got %q", c.Logging.Format)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(errs) == 0 {
		return nil
	}
	return &fault.Error{
		Kind:         fault.KindConfiguration,
		Op:           "config.validate",
		Message:      "invalid configuration",
		Cause:        errors.Join(errs...),
		UserGuidance: "Fix the listed settings in the config file or environment.",
	}
}
