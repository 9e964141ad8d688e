package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/ratelimit"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// Limiter guards calls to a named endpoint. *ratelimit.Registry implements it.
type Limiter interface {
	Guard(ctx context.Context, endpoint string, fn func(context.Context) error) error
}

// Observer receives generation outcomes.
type Observer interface {
	LLMCompleted(backend, model string, success bool, duration time.Duration, promptTokens, completionTokens int)
	LLMCacheLookup(hit bool)
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	CacheTTL    time.Duration
	CacheSize   int
}

// Generator wraps a Client with a timeout, rate limiting, a response cache
// and telemetry.
type Generator struct {
	client   Client
	limiter  Limiter
	config   GeneratorConfig
	cache    *responseCache
	observer Observer
	logger   *slog.Logger
	nowFunc  func() time.Time // For testing
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLimiter routes calls through l under the "llm" endpoint.
func WithLimiter(l Limiter) GeneratorOption {
	return func(g *Generator) { g.limiter = l }
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) GeneratorOption {
	return func(g *Generator) { g.observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		if now != nil {
			g.nowFunc = now
		}
	}
}

// NewGenerator creates a generator over client.
func NewGenerator(client Client, config GeneratorConfig, opts ...GeneratorOption) *Generator {
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature <= 0 {
		config.Temperature = DefaultTemperature
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	g := &Generator{
		client:  client,
		config:  config,
		logger:  slog.Default().With("component", "llm"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.cache = newResponseCache(config.CacheTTL, config.CacheSize, g.nowFunc)
	return g
}

// Backend names the wrapped client.
func (g *Generator) Backend() string { return g.client.Name() }

// Generate produces a reply for the thread. Identical prompts within the
// cache TTL are answered from the cache.
func (g *Generator) Generate(ctx context.Context, tc *models.ThreadContext, systemPrompt, userMessage string) (*models.AIResponse, error) {
	ctx, span := otel.Tracer("threadwise/llm").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(attribute.String("backend", g.client.Name()))

	key := cacheKey(tc, systemPrompt, userMessage)
	if cached, ok := g.cache.get(key); ok {
		g.cacheLookup(true)
		span.SetAttributes(attribute.Bool("cached", true))
		return g.toAIResponse(cached, true), nil
	}
	g.cacheLookup(false)

	msgs, err := BuildMessages(tc, systemPrompt, userMessage)
	if err != nil {
		span.SetStatus(codes.Error, "prompt too large")
		return nil, err
	}
	req := Request{Messages: msgs, MaxTokens: g.config.MaxTokens, Temperature: g.config.Temperature}

	start := time.Now()
	var resp *Response
	call := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
		var err error
		resp, err = g.client.Complete(callCtx, req)
		return err
	}
	if g.limiter != nil {
		err = g.limiter.Guard(ctx, ratelimit.EndpointLLM, call)
	} else {
		err = call(ctx)
	}
	elapsed := time.Since(start)

	if err != nil {
		fe := fault.FromLLMError("llm.generate", err)
		span.RecordError(fe)
		span.SetStatus(codes.Error, string(fe.Kind))
		g.observe("", false, elapsed, 0, 0)
		g.logger.Error("generation failed", "backend", g.client.Name(), "kind", fe.Kind, "error", err)
		return nil, fe
	}

	if resp.Duration == 0 {
		resp.Duration = elapsed
	}
	span.SetAttributes(
		attribute.String("model", resp.Model),
		attribute.Int("prompt_tokens", resp.PromptTokens),
		attribute.Int("completion_tokens", resp.CompletionTokens),
	)
	g.observe(resp.Model, true, elapsed, resp.PromptTokens, resp.CompletionTokens)
	g.cache.set(key, *resp)
	g.logger.Info("generated response",
		"backend", g.client.Name(),
		"model", resp.Model,
		"tokens", resp.TotalTokens,
		"duration", resp.Duration,
	)
	return g.toAIResponse(*resp, false), nil
}

func (g *Generator) toAIResponse(r Response, cached bool) *models.AIResponse {
	return &models.AIResponse{
		Content:          r.Content,
		Model:            r.Model,
		Provider:         g.client.Name(),
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		GenerationTime:   r.Duration,
		Cached:           cached,
		CreatedAt:        g.nowFunc(),
	}
}

// CacheStats reports response cache usage.
func (g *Generator) CacheStats() CacheStats { return g.cache.stats() }

// PruneCache drops expired cache entries.
func (g *Generator) PruneCache() int { return g.cache.cleanup() }

func (g *Generator) observe(model string, success bool, d time.Duration, prompt, completion int) {
	if g.observer != nil {
		g.observer.LLMCompleted(g.client.Name(), model, success, d, prompt, completion)
	}
}

func (g *Generator) cacheLookup(hit bool) {
	if g.observer != nil {
		g.observer.LLMCacheLookup(hit)
	}
}
