package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/asktra/asktra/internal/llm/types"
)

type stubGenerator struct {
	resp *types.Response
	err  error
	reqs []types.Request
}

func (s *stubGenerator) Generate(_ context.Context, req types.Request) (*types.Response, error) {
	s.reqs = append(s.reqs, req)
	return s.resp, s.err
}

func (s *stubGenerator) Model() string { return "stub-model" }

func TestNewRequiresCredential(t *testing.T) {
	_, err := New(SlotDefault, Config{Provider: ProviderGemini}, nil)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, SlotDefault, cfgErr.Slot)
	assert.Contains(t, err.Error(), "default slot")
}

func TestNewUnsupportedProvider(t *testing.T) {
	_, err := New(SlotBundle, Config{Provider: "palm", APIKey: "k"}, nil)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "unsupported provider", cfgErr.Message)
}

func TestNewProviders(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		provider ProviderType
		model    string
	}{
		{name: "default provider is gemini", cfg: Config{APIKey: "k", Model: "gemini-x"}, provider: ProviderGemini, model: "gemini-x"},
		{name: "anthropic", cfg: Config{Provider: "Anthropic", APIKey: "k", Model: "claude-x"}, provider: ProviderAnthropic, model: "claude-x"},
		{name: "openai compatible", cfg: Config{Provider: "openai", APIKey: "ollama", BaseURL: "http://localhost:11434/v1", Model: "llama3"}, provider: ProviderOpenAI, model: "llama3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(SlotDefault, tt.cfg, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tt.provider, c.Provider())
			assert.Equal(t, tt.model, c.Model())
		})
	}
}

func TestClientGenerate(t *testing.T) {
	stub := &stubGenerator{resp: &types.Response{Parts: []string{"ok"}}}
	c := newClient(ProviderGemini, stub, 0, zap.NewNop())

	resp, err := c.Generate(context.Background(), types.Request{Prompt: "p", JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, resp.Parts)
	require.Len(t, stub.reqs, 1)
	assert.True(t, stub.reqs[0].JSONMode)
}

func TestClientGenerateNilResponse(t *testing.T) {
	c := newClient(ProviderGemini, &stubGenerator{}, 0, zap.NewNop())

	resp, err := c.Generate(context.Background(), types.Request{})
	require.NoError(t, err)
	assert.Empty(t, resp.Parts)
}

func TestClientGeneratePropagatesRateLimit(t *testing.T) {
	stub := &stubGenerator{err: &types.RateLimitError{Provider: "gemini", StatusCode: 429}}
	c := newClient(ProviderGemini, stub, 0, zap.NewNop())

	_, err := c.Generate(context.Background(), types.Request{})
	assert.True(t, types.IsRateLimited(err))
}

func TestClientLimiterHonoursContext(t *testing.T) {
	c := newClient(ProviderGemini, &stubGenerator{resp: &types.Response{}}, 1, zap.NewNop())

	_, err := c.Generate(context.Background(), types.Request{})
	require.NoError(t, err, "first call uses the burst token")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Generate(ctx, types.Request{})
	assert.Error(t, err)
}

// ─── Factory ──────────────────────────────────────────────────────────────────

func TestFactoryBundleInheritsDefaultCredentials(t *testing.T) {
	f := NewFactory(
		Config{Provider: ProviderGemini, APIKey: "main", Model: "gemini-main"},
		Config{Model: "gemini-3-pro"},
		nil,
	)

	cfg := f.Config(SlotBundle)
	assert.Equal(t, "main", cfg.APIKey)
	assert.Equal(t, ProviderGemini, cfg.Provider)
	assert.Equal(t, "gemini-3-pro", cfg.Model)

	c, err := f.Client(SlotBundle)
	require.NoError(t, err)
	assert.Equal(t, "gemini-3-pro", c.Model())
}

func TestFactoryBundleOwnCredentials(t *testing.T) {
	f := NewFactory(
		Config{Provider: ProviderGemini, APIKey: "main", Model: "gemini-main"},
		Config{Provider: ProviderAnthropic, APIKey: "bundle-key"},
		nil,
	)

	cfg := f.Config(SlotBundle)
	assert.Equal(t, "bundle-key", cfg.APIKey)
	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.Equal(t, "gemini-main", cfg.Model, "model falls back to the default slot")
}

func TestFactoryReusesClients(t *testing.T) {
	f := NewFactory(Config{APIKey: "k"}, Config{}, zap.NewNop())

	var wg sync.WaitGroup
	got := make([]Client, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.Client(SlotDefault)
			assert.NoError(t, err)
			got[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range got[1:] {
		assert.Same(t, got[0], c)
	}
}

func TestFactoryMissingCredential(t *testing.T) {
	f := NewFactory(Config{}, Config{}, nil)

	_, err := f.Client(SlotDefault)
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = f.Client(SlotBundle)
	assert.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, SlotBundle, cfgErr.Slot)

	_, err = f.Client("other")
	assert.True(t, errors.As(err, &cfgErr))
}
