package adapter

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Slot names a credential/model configuration. Bundle emission may run on
// a different model and key than the other phases.
type Slot string

const (
	SlotDefault Slot = "default"
	SlotBundle  Slot = "bundle"
)

// ConfigurationError reports a slot that cannot produce a client, usually
// because no credential is configured. It is never retried.
type ConfigurationError struct {
	Slot     Slot
	Provider ProviderType
	Message  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("LLM %s slot (%s) misconfigured: %s", e.Slot, e.Provider, e.Message)
}

// ClientSource hands out clients per slot. The engine depends on this
// rather than on Factory so tests can inject fakes.
type ClientSource interface {
	Client(slot Slot) (Client, error)
}

// Factory builds one client per slot on first use and reuses it for every
// later request. Configuration errors are not cached, so a slot can start
// working after a config reload.
type Factory struct {
	configs map[Slot]Config
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[Slot]Client
	group   singleflight.Group
}

// NewFactory creates a factory. A bundle slot without its own API key
// inherits the default slot's provider, key and base URL; its model
// falls back to the default model when unset.
func NewFactory(defaultCfg, bundleCfg Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		configs: map[Slot]Config{
			SlotDefault: defaultCfg,
			SlotBundle:  inheritBundle(defaultCfg, bundleCfg),
		},
		logger:  logger,
		clients: make(map[Slot]Client),
	}
}

func inheritBundle(def, bundle Config) Config {
	if strings.TrimSpace(bundle.APIKey) == "" {
		bundle.Provider = def.Provider
		bundle.APIKey = def.APIKey
		bundle.BaseURL = def.BaseURL
	}
	if bundle.Provider == "" {
		bundle.Provider = def.Provider
	}
	if bundle.Model == "" {
		bundle.Model = def.Model
	}
	if bundle.RequestsPerMinute == 0 {
		bundle.RequestsPerMinute = def.RequestsPerMinute
	}
	if bundle.ThinkingLevel == "" {
		bundle.ThinkingLevel = def.ThinkingLevel
	}
	if bundle.ReasoningEffort == "" {
		bundle.ReasoningEffort = def.ReasoningEffort
	}
	return bundle
}

// Config returns the effective configuration of slot.
func (f *Factory) Config(slot Slot) Config {
	return f.configs[slot]
}

// Client returns the shared client for slot, building it once.
func (f *Factory) Client(slot Slot) (Client, error) {
	f.mu.RLock()
	c, ok := f.clients[slot]
	f.mu.RUnlock()
	if ok {
		return c, nil
	}

	cfg, known := f.configs[slot]
	if !known {
		return nil, &ConfigurationError{Slot: slot, Message: "unknown slot"}
	}

	v, err, _ := f.group.Do(string(slot), func() (interface{}, error) {
		f.mu.RLock()
		existing, ok := f.clients[slot]
		f.mu.RUnlock()
		if ok {
			return existing, nil
		}

		client, err := New(slot, cfg, f.logger.With(zap.String("slot", string(slot))))
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.clients[slot] = client
		f.mu.Unlock()

		f.logger.Info("LLM client ready",
			zap.String("slot", string(slot)),
			zap.String("provider", string(client.Provider())),
			zap.String("model", client.Model()),
		)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}
