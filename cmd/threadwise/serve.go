package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/threadwise/internal/channels/slack"
	"github.com/haasonsaas/threadwise/internal/config"
	"github.com/haasonsaas/threadwise/internal/health"
	"github.com/haasonsaas/threadwise/internal/history"
	"github.com/haasonsaas/threadwise/internal/intent"
	"github.com/haasonsaas/threadwise/internal/llm"
	"github.com/haasonsaas/threadwise/internal/maintenance"
	"github.com/haasonsaas/threadwise/internal/mention"
	"github.com/haasonsaas/threadwise/internal/observability"
	"github.com/haasonsaas/threadwise/internal/ratelimit"
	"github.com/haasonsaas/threadwise/internal/sessions"
	"github.com/haasonsaas/threadwise/internal/threadctx"
	"github.com/haasonsaas/threadwise/internal/tools"
	"github.com/haasonsaas/threadwise/internal/tools/builtin"
)

const shutdownTimeout = 30 * time.Second

// runServe starts every component and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
		cfg.Slack.Debug = true
	}

	slog.SetDefault(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}))

	_, shutdownTracing, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	if err := a.start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.stop(shutdownCtx)
		return err
	}
	slog.Info("threadwise started",
		"version", version,
		"llm_provider", cfg.LLM.Provider,
		"tools", a.toolsReg.Names(),
		"health_addr", a.health.Addr(),
	)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}
	return nil
}

// app holds the running components of the serve command.
type app struct {
	cfg *config.Config

	metricsReg *prometheus.Registry
	metrics    *observability.Metrics
	limits     *ratelimit.Registry
	platform   *slack.Platform
	generator  *llm.Generator
	summarizer *llm.Generator
	toolsFile  *config.ToolsManager
	toolsReg   *tools.Registry
	selector   *tools.Selector
	executions *tools.ContextManager
	sessions   *sessions.Registry
	history    *history.Cache
	handler    *mention.Handler
	adapter    *slack.Adapter
	health     *health.Server
	sweeps     *maintenance.Scheduler
}

// newApp wires the components without starting network activity.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	a.metricsReg = prometheus.NewRegistry()
	a.metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.metricsReg)
	a.limits = ratelimit.NewRegistry(cfg.RateLimits, ratelimit.WithObserver(a.metrics))

	api, socket, err := slack.NewClients(slack.Config{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		Debug:    cfg.Slack.Debug,
	})
	if err != nil {
		return nil, err
	}
	a.platform = slack.NewPlatform(api, a.limits)

	a.toolsFile, err = config.NewToolsManager(cfg.Tools.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := a.buildGenerators(a.toolsFile.Current()); err != nil {
		return nil, err
	}

	a.toolsReg = tools.NewRegistry()
	if _, err := builtin.Register(a.toolsReg, a.toolDeps(), a.toolsFile.Current().Toggles()); err != nil {
		return nil, err
	}
	a.selector = tools.NewSelector(a.toolsReg)
	a.toolsFile.OnReload(func(tf config.ToolsFile) error {
		names, err := builtin.Register(a.toolsReg, a.toolDeps(), tf.Toggles())
		if err != nil {
			return err
		}
		a.selector.Rebuild()
		slog.Info("tools reloaded", "tools", names)
		return nil
	})

	executor := tools.NewExecutor(a.toolsReg,
		tools.WithToolTimeout(cfg.Tools.PerToolTimeout),
		tools.WithObserver(a.metrics),
	)
	a.executions = tools.NewContextManager(tools.ManagerConfig{
		MaxContexts: cfg.Tools.MaxContexts,
		MaxAge:      cfg.Maintenance.ContextMaxAge,
		MaxErrors:   cfg.Tools.MaxErrors,
		PlanTimeout: cfg.Tools.PlanTimeout,
	})
	a.sessions = sessions.NewRegistry()
	a.history = history.NewCache(history.DefaultConfig())

	deps := mention.Deps{
		Contexts: threadctx.NewBuilder(a.platform, threadctx.Config{
			MaxTokens:     cfg.Context.MaxTokens,
			MaxMessages:   cfg.Context.MaxMessages,
			MaxMessageAge: cfg.Context.MaxAge,
		}),
		Poster:     a.platform,
		Sessions:   a.sessions,
		Classifier: intent.NewClassifier(),
		Selector:   a.selector,
		Executor:   executor,
		Executions: a.executions,
		History:    a.history,
		Limits:     a.limits,
	}
	if a.generator != nil {
		deps.Generator = a.generator
	}
	a.handler, err = mention.NewHandler(deps, mention.Config{
		MaxContextTokens:   cfg.Context.MaxTokens,
		MaxContextMessages: cfg.Context.MaxMessages,
	}, mention.WithObserver(a.metrics))
	if err != nil {
		return nil, err
	}
	a.adapter = slack.NewAdapter(a.platform, socket, a.handler, slack.WithMentionTimeout(cfg.Slack.MentionTimeout))

	a.health = health.NewServer(cfg.Server.HealthAddr, a.healthChecks(),
		health.WithStatus(a.status),
		health.WithGatherer(a.metricsReg),
		health.WithVersion(version),
	)

	a.sweeps = maintenance.New(maintenance.WithObserver(a.metrics))
	if err := a.addSweeps(); err != nil {
		return nil, err
	}
	return a, nil
}

// buildGenerators creates the reply generator and the summarizer used by
// summarize_messages. Both stay nil when no provider is configured.
func (a *app) buildGenerators(tf config.ToolsFile) error {
	var (
		client llm.Client
		err    error
	)
	lc := a.cfg.LLM
	switch lc.Provider {
	case config.ProviderNone:
		slog.Warn("no LLM provider configured; replies are built from tool output")
		return nil
	case config.ProviderAzure:
		client, err = llm.NewAzureClient(llm.AzureConfig{
			APIKey:     lc.Azure.APIKey,
			Endpoint:   lc.Azure.Endpoint,
			Deployment: lc.Azure.Deployment,
			APIVersion: lc.Azure.APIVersion,
			Model:      lc.Azure.Model,
			Timeout:    lc.Timeout,
			MaxRetries: lc.MaxRetries,
			RetryDelay: lc.RetryDelay,
		})
	case config.ProviderAnthropic:
		client, err = llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:     lc.Anthropic.APIKey,
			BaseURL:    lc.Anthropic.BaseURL,
			Model:      lc.Anthropic.Model,
			Timeout:    lc.Timeout,
			MaxRetries: lc.MaxRetries,
			RetryDelay: lc.RetryDelay,
		})
	default:
		return fmt.Errorf("unknown llm provider %q", lc.Provider)
	}
	if err != nil {
		return err
	}

	opts := []llm.GeneratorOption{llm.WithLimiter(a.limits), llm.WithObserver(a.metrics)}
	a.generator = llm.NewGenerator(client, llm.GeneratorConfig{
		MaxTokens:   lc.MaxTokens,
		Temperature: lc.Temperature,
		Timeout:     lc.Timeout,
		CacheTTL:    lc.CacheTTL,
		CacheSize:   lc.CacheSize,
	}, opts...)

	mc := tf.OpenAITools.ModelConfig
	a.summarizer = llm.NewGenerator(client, llm.GeneratorConfig{
		MaxTokens:   mc.MaxTokens,
		Temperature: mc.Temperature,
		Timeout:     lc.Timeout,
		CacheTTL:    lc.CacheTTL,
		CacheSize:   lc.CacheSize,
	}, append(opts, llm.WithLogger(slog.Default().With("component", "summarizer")))...)
	return nil
}

func (a *app) toolDeps() builtin.Deps {
	deps := builtin.Deps{Reader: a.platform, Users: a.platform}
	if a.summarizer != nil {
		deps.Summarizer = a.summarizer
	}
	return deps
}

func (a *app) healthChecks() *health.Registry {
	reg := health.NewRegistry()
	reg.Register(health.Check{
		Name:     "slack",
		Critical: true,
		Checker: func(context.Context) error {
			st := a.adapter.Status()
			if !st.Connected {
				if st.Error != "" {
					return errors.New(st.Error)
				}
				return errors.New("socket mode not connected")
			}
			return nil
		},
	})
	reg.Register(health.Check{
		Name:     "llm",
		Critical: a.cfg.LLM.Provider != config.ProviderNone,
		Checker: func(context.Context) error {
			if a.generator == nil {
				return errors.New("no LLM provider configured")
			}
			if a.limits.For(ratelimit.EndpointLLM).Status(ratelimit.EndpointLLM).CircuitState == ratelimit.StateOpen {
				return errors.New("llm circuit breaker is open")
			}
			return nil
		},
	})
	return reg
}

type statusComponents struct {
	Slack    slack.Status  `json:"slack"`
	Mentions mention.Stats `json:"mentions"`
	Tools    []string      `json:"tools"`
	Sweeps   []string      `json:"maintenance_jobs"`
}

func (a *app) status() any {
	return statusComponents{
		Slack:    a.adapter.Status(),
		Mentions: a.handler.Stats(),
		Tools:    a.toolsReg.Names(),
		Sweeps:   a.sweeps.Jobs(),
	}
}

func (a *app) addSweeps() error {
	mc := a.cfg.Maintenance
	jobs := []maintenance.Job{
		maintenance.SessionJob(mc.SessionSweep, a.sessions, a.cfg.Sessions.MaxAge, a.metrics),
		maintenance.ExecutionJob(mc.ContextSweep, a.executions, mc.ContextMaxAge),
		maintenance.HistoryJob(mc.HistorySweep, a.history, mc.KeepHours),
	}
	if a.generator != nil {
		jobs = append(jobs, maintenance.CacheJob(mc.CacheSweep, cachePruners{a.generator, a.summarizer}))
	}
	for _, job := range jobs {
		if err := a.sweeps.Add(job); err != nil {
			return err
		}
	}
	return nil
}

// cachePruners prunes several response caches as one sweep.
type cachePruners []*llm.Generator

func (c cachePruners) PruneCache() int {
	n := 0
	for _, g := range c {
		if g != nil {
			n += g.PruneCache()
		}
	}
	return n
}

func (a *app) start(ctx context.Context) error {
	if err := a.health.Start(); err != nil {
		return err
	}
	if a.cfg.Tools.HotReload {
		if err := a.toolsFile.Watch(ctx); err != nil {
			slog.Warn("tools.yaml hot reload disabled", "error", err)
		}
	}
	a.sweeps.Start(ctx)
	return a.adapter.Start(ctx)
}

// stop shuts components down in reverse start order.
func (a *app) stop(ctx context.Context) {
	if err := a.adapter.Stop(ctx); err != nil {
		slog.Warn("slack adapter stop failed", "error", err)
	}
	if err := a.sweeps.Stop(ctx); err != nil {
		slog.Warn("maintenance stop failed", "error", err)
	}
	if err := a.toolsFile.Close(); err != nil {
		slog.Warn("tools watcher close failed", "error", err)
	}
	if err := a.health.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown failed", "error", err)
	}
}
