package ai

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/pkg/cache"
	"marketplace-responder/backend/pkg/config"
	apperrors "marketplace-responder/backend/pkg/errors"
	"marketplace-responder/backend/pkg/logger"
	"marketplace-responder/backend/pkg/resilience"
)

// GatewayConfig tunes caching, retries and accounting around a Provider
type GatewayConfig struct {
	Model        string
	Temperature  float32
	MaxTokens    int32
	Timeout      time.Duration
	Retry        resilience.RetryPolicy
	CacheTTL     time.Duration
	CacheSize    int
	CostPerToken float64
	Breaker      resilience.CircuitBreakerConfig
	// Now drives cache expiry; nil means time.Now
	Now func() time.Time
}

// GatewayConfigFrom derives the gateway settings from the application config
func GatewayConfigFrom(cfg *config.Config) GatewayConfig {
	retry := resilience.DefaultRetryPolicy()
	retry.MaxRetries = cfg.AI.MaxRetries
	retry.InitialInterval = cfg.AI.BackoffInitial
	retry.MaxInterval = cfg.AI.BackoffMax

	breaker := resilience.DefaultCircuitBreakerConfig("inference")
	breaker.FailureThreshold = cfg.AI.CircuitThreshold
	breaker.RetryTimeout = cfg.AI.CircuitCooldown

	return GatewayConfig{
		Model:        cfg.AI.Model,
		Temperature:  float32(cfg.AI.Temperature),
		MaxTokens:    int32(cfg.AI.MaxTokens),
		Timeout:      cfg.AI.ResponseTimeout,
		Retry:        retry,
		CacheTTL:     cfg.Cache.TTL,
		CacheSize:    cfg.Cache.MaxSize,
		CostPerToken: cfg.AI.CostPerToken,
		Breaker:      breaker,
	}
}

// Stats is a snapshot of the gateway's running counters
type Stats struct {
	Provider         string                           `json:"provider"`
	Requests         uint64                           `json:"requests"`
	ProviderCalls    uint64                           `json:"provider_calls"`
	Failures         uint64                           `json:"failures"`
	CacheHits        uint64                           `json:"cache_hits"`
	CacheMisses      uint64                           `json:"cache_misses"`
	CacheSize        int                              `json:"cache_size"`
	CacheEvictions   uint64                           `json:"cache_evictions"`
	PromptTokens     uint64                           `json:"prompt_tokens"`
	CompletionTokens uint64                           `json:"completion_tokens"`
	TotalTokens      uint64                           `json:"total_tokens"`
	EstimatedCost    float64                          `json:"estimated_cost"`
	Breaker          resilience.CircuitBreakerMetrics `json:"circuit_breaker"`
}

// Gateway fronts a Provider with a response cache, retries and a circuit breaker
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	log      *logger.Logger
	tracer   trace.Tracer

	responses *cache.Cache[string, *GeneratedText]
	inflight  singleflight.Group
	breaker   *resilience.CircuitBreaker

	requests         atomic.Uint64
	cacheHits        atomic.Uint64
	cacheMisses      atomic.Uint64
	providerCalls    atomic.Uint64
	failures         atomic.Uint64
	promptTokens     atomic.Uint64
	completionTokens atomic.Uint64
	totalTokens      atomic.Uint64
}

// NewGateway wraps provider
func NewGateway(provider Provider, cfg GatewayConfig, log *logger.Logger) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("inference provider is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	responses, err := cache.New[string, *GeneratedText](cache.Options{
		TTL:     cfg.CacheTTL,
		MaxSize: cfg.CacheSize,
		Now:     cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg = resilience.DefaultCircuitBreakerConfig("inference")
	}
	breakerCfg.IsFailure = func(err error) bool {
		return apperrors.IsRetryable(Classify(err))
	}

	g := &Gateway{
		provider:  provider,
		cfg:       cfg,
		log:       log.With("component", "inference_gateway", "provider", provider.Name()),
		tracer:    otel.Tracer("marketplace-responder/ai"),
		responses: responses,
		breaker:   resilience.NewCircuitBreaker(breakerCfg, log),
	}
	if g.cfg.Retry.OnRetry == nil {
		g.cfg.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			g.log.Warn("Retrying inference call", "attempt", attempt, "delay", delay, "error", err)
		}
	}
	return g, nil
}

// Options returns the default model parameters, optionally in JSON mode
func (g *Gateway) Options(json bool) Options {
	return Options{
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		JSON:        json,
	}
}

// Generate returns a cached answer for req or calls the provider with retries
func (g *Gateway) Generate(ctx context.Context, req Request) (*GeneratedText, error) {
	out, _, err := g.generate(ctx, req)
	return out, err
}

func (g *Gateway) generate(ctx context.Context, req Request) (*GeneratedText, string, error) {
	g.requests.Add(1)
	if req.Prompt == nil {
		return nil, "", apperrors.NewFatalInferenceError("empty prompt", ErrUnsupportedPrompt)
	}
	if req.Options.Model == "" {
		req.Options.Model = g.cfg.Model
	}
	key := CacheKey(req)

	ctx, span := g.tracer.Start(ctx, "ai.Generate", trace.WithAttributes(
		attribute.String("ai.provider", g.provider.Name()),
		attribute.String("ai.session_id", req.SessionID),
	))
	defer span.End()

	if cached, ok := g.responses.Get(key); ok {
		g.cacheHits.Add(1)
		span.SetAttributes(attribute.Bool("ai.cache_hit", true))
		return cachedCopy(cached), key, nil
	}
	g.cacheMisses.Add(1)

	if err := ctx.Err(); err != nil {
		g.failures.Add(1)
		return nil, key, Classify(err)
	}

	// The shared call outlives any single waiter; each waiter still honors its own ctx.
	ch := g.inflight.DoChan(key, func() (any, error) {
		if cached, ok := g.responses.Get(key); ok {
			return cachedCopy(cached), nil
		}
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.callBudget())
		defer cancel()
		out, err := g.callWithRetry(callCtx, req)
		if err != nil {
			return nil, err
		}
		g.responses.Set(key, out)
		return out, nil
	})

	var (
		v      any
		err    error
		shared bool
	)
	select {
	case res := <-ch:
		v, err, shared = res.Val, res.Err, res.Shared
	case <-ctx.Done():
		err = Classify(ctx.Err())
	}
	span.SetAttributes(attribute.Bool("ai.cache_hit", false), attribute.Bool("ai.shared", shared))
	if err != nil {
		g.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, key, err
	}

	result := *v.(*GeneratedText)
	return &result, key, nil
}

// callBudget bounds a shared call: every attempt plus the longest backoff between them
func (g *Gateway) callBudget() time.Duration {
	retries := max(g.cfg.Retry.MaxRetries, 0)
	return g.cfg.Timeout*time.Duration(retries+1) + g.cfg.Retry.MaxInterval*time.Duration(retries)
}

func (g *Gateway) callWithRetry(ctx context.Context, req Request) (*GeneratedText, error) {
	var out *GeneratedText

	res := g.cfg.Retry.Run(ctx, func(ctx context.Context, attempt int) resilience.Outcome {
		g.providerCalls.Add(1)
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		err := g.breaker.Execute(func() error {
			var callErr error
			out, callErr = g.provider.Generate(attemptCtx, req)
			if callErr == nil && out == nil {
				callErr = ErrEmptyResponse
			}
			return callErr
		})
		if err == nil {
			return resilience.Success()
		}

		classified := Classify(err)
		g.log.Debug("Inference attempt failed", "attempt", attempt, "error", classified)
		if apperrors.IsRetryable(classified) {
			return resilience.Retry(classified)
		}
		return resilience.Fail(classified)
	})
	if res.State != resilience.StateSucceeded {
		g.log.Error("Inference call failed", "attempts", res.Attempts, "error", res.Err)
		return nil, res.Err
	}

	g.promptTokens.Add(uint64(out.Usage.PromptTokens))
	g.completionTokens.Add(uint64(out.Usage.CompletionTokens))
	g.totalTokens.Add(uint64(out.Usage.TotalTokens))
	return out, nil
}

// Analyze asks the model for a structured analysis of a buyer message
func (g *Gateway) Analyze(ctx context.Context, text string, sender *models.SenderContext, listing *models.ListingContext) (*models.Analysis, error) {
	req := Request{
		Prompt:    Text(AnalysisPrompt(text, sender, listing)),
		SessionID: senderID(sender),
		Options:   g.Options(true),
	}
	out, key, err := g.generate(ctx, req)
	if err != nil {
		return nil, err
	}

	analysis, err := ParseAnalysis(out.Text)
	if err != nil {
		g.responses.Delete(key)
		return nil, apperrors.NewFatalInferenceError("model returned an unusable analysis", err)
	}
	return analysis, nil
}

// GenerateReply asks the model for a seller reply in style, replaying the sender's history
func (g *Gateway) GenerateReply(ctx context.Context, text string, analysis *models.Analysis, sender *models.SenderContext, listing *models.ListingContext, style models.ResponseStyle) (string, error) {
	prompt := ReplyPrompt(text, analysis, listing, style)
	req := Request{
		Prompt:    ReplyConversation(prompt, sender),
		SessionID: senderID(sender),
		Options:   g.Options(false),
	}
	out, err := g.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// ClearCache drops every cached response
func (g *Gateway) ClearCache() {
	g.responses.Purge()
}

// Stats returns a snapshot of the gateway counters
func (g *Gateway) Stats() Stats {
	cs := g.responses.Stats()
	total := g.totalTokens.Load()
	return Stats{
		Provider:         g.provider.Name(),
		Requests:         g.requests.Load(),
		ProviderCalls:    g.providerCalls.Load(),
		Failures:         g.failures.Load(),
		CacheHits:        g.cacheHits.Load(),
		CacheMisses:      g.cacheMisses.Load(),
		CacheSize:        cs.Size,
		CacheEvictions:   cs.Evictions,
		PromptTokens:     g.promptTokens.Load(),
		CompletionTokens: g.completionTokens.Load(),
		TotalTokens:      total,
		EstimatedCost:    float64(total) * g.cfg.CostPerToken,
		Breaker:          g.breaker.Metrics(),
	}
}

// Close closes the underlying provider
func (g *Gateway) Close() error {
	return g.provider.Close()
}

// CacheKey hashes everything that influences a generation
func CacheKey(req Request) string {
	h, _ := blake2b.New256(nil)
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	if req.Prompt != nil {
		write(req.Prompt.content())
	}
	write(req.SessionID)
	write(req.SystemInstruction)
	write(req.Options.Model)
	write(strconv.FormatFloat(float64(req.Options.Temperature), 'g', -1, 32))
	write(strconv.FormatInt(int64(req.Options.MaxTokens), 10))
	write(strconv.FormatBool(req.Options.JSON))
	return hex.EncodeToString(h.Sum(nil))
}

func cachedCopy(v *GeneratedText) *GeneratedText {
	out := *v
	out.Cached = true
	return &out
}

func senderID(s *models.SenderContext) string {
	if s == nil {
		return ""
	}
	return s.SenderID
}
