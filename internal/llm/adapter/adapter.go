package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/asktra/asktra/internal/llm/provider/anthropic"
	"github.com/asktra/asktra/internal/llm/provider/gemini"
	"github.com/asktra/asktra/internal/llm/provider/openai"
	"github.com/asktra/asktra/internal/llm/types"
	"github.com/asktra/asktra/internal/metrics"
)

// Package adapter puts every LLM provider behind one generation capability:
// "given system instructions, a prompt, an optional image and a JSON-mode
// flag, return one or more text fragments".
//
// Supported providers:
//   1. Gemini (default): Generative Language REST API
//   2. Anthropic: Claude via anthropic-sdk-go
//   3. OpenAI: Chat Completions via openai-go; also any OpenAI-compatible
//      endpoint (Ollama, vLLM, LocalAI) through base_url
//
// Each client is wrapped with request pacing (golang.org/x/time/rate),
// Prometheus metrics and debug logging. Rate-limit failures surface as
// types.ErrRateLimited so callers can tell them from hard failures.

// ProviderType identifies which LLM provider backs a client
type ProviderType string

const (
	ProviderGemini    ProviderType = "gemini"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
)

// Client is the generation capability consumed by the reasoning engine.
type Client interface {
	Generate(ctx context.Context, req types.Request) (*types.Response, error)
	Provider() ProviderType
	Model() string
}

// generator is what each provider package implements.
type generator interface {
	Generate(ctx context.Context, req types.Request) (*types.Response, error)
	Model() string
}

// Config holds one credential slot's provider settings
type Config struct {
	Provider ProviderType `json:"provider"`
	APIKey   string       `json:"api_key"`
	BaseURL  string       `json:"base_url"`
	Model    string       `json:"model"`

	// ThinkingLevel is passed to Gemini thinkingConfig; ReasoningEffort to
	// OpenAI reasoning models. Both apply only to extended-reasoning calls.
	ThinkingLevel   string `json:"thinking_level"`
	ReasoningEffort string `json:"reasoning_effort"`

	// RequestsPerMinute paces calls through this client; 0 disables pacing.
	RequestsPerMinute int `json:"requests_per_minute"`
}

// clientImpl wraps a provider with pacing, metrics and logging
type clientImpl struct {
	provider ProviderType
	gen      generator
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// New creates a client for cfg. It fails with a ConfigurationError when
// the provider is unknown or the credential is missing.
func New(slot Slot, cfg Config, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := ProviderType(strings.ToLower(strings.TrimSpace(string(cfg.Provider))))
	if provider == "" {
		provider = ProviderGemini
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Slot: slot, Provider: provider, Message: "API key is not configured"}
	}

	var (
		gen generator
		err error
	)
	switch provider {
	case ProviderGemini:
		var c *gemini.Client
		c, err = gemini.NewClient(cfg.APIKey, cfg.Model, cfg.ThinkingLevel)
		if err == nil && cfg.BaseURL != "" {
			c.SetBaseURL(cfg.BaseURL)
		}
		gen = c
	case ProviderAnthropic:
		gen, err = anthropic.NewClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderOpenAI:
		gen, err = openai.NewClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.ReasoningEffort)
	default:
		return nil, &ConfigurationError{Slot: slot, Provider: provider, Message: "unsupported provider"}
	}
	if err != nil {
		return nil, &ConfigurationError{Slot: slot, Provider: provider, Message: err.Error()}
	}

	return newClient(provider, gen, cfg.RequestsPerMinute, logger), nil
}

func newClient(provider ProviderType, gen generator, rpm int, logger *zap.Logger) *clientImpl {
	c := &clientImpl{provider: provider, gen: gen, logger: logger}
	if rpm > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	return c
}

func (c *clientImpl) Provider() ProviderType { return c.provider }

func (c *clientImpl) Model() string { return c.gen.Model() }

// Generate paces, calls the provider and records metrics.
func (c *clientImpl) Generate(ctx context.Context, req types.Request) (*types.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for LLM rate limiter: %w", err)
		}
	}

	provider, model := string(c.provider), c.gen.Model()
	start := time.Now()
	resp, err := c.gen.Generate(ctx, req)
	if err == nil && resp == nil {
		resp = &types.Response{}
	}
	metrics.LLMRequestDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())

	switch {
	case err != nil && types.IsRateLimited(err):
		metrics.LLMRequestsTotal.WithLabelValues(provider, model, "rate_limited").Inc()
	case err != nil:
		metrics.LLMRequestsTotal.WithLabelValues(provider, model, "error").Inc()
	default:
		metrics.LLMRequestsTotal.WithLabelValues(provider, model, "success").Inc()
		metrics.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(resp.Usage.CompletionTokens))
	}

	c.logger.Debug("llm call",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Bool("json_mode", req.JSONMode),
		zap.Bool("extended_reasoning", req.ExtendedReasoning),
		zap.Bool("image", req.Image != nil),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
