package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string

	mu     sync.RWMutex
	config *Config
	viper  *viper.Viper

	watchOnce sync.Once
	watchChan chan Config
	closed    bool
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	v := viper.New()

	if m.configPath != "" {
		v.SetConfigFile(m.configPath)
	}
	v.SetConfigType("yaml")

	// Set environment variable prefix
	v.SetEnvPrefix("ASKTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if m.configPath != "" {
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := unmarshalConfig(v)
	applyEnvOverrides(cfg)

	m.mu.Lock()
	m.viper = v
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches the config file and sends each successfully reloaded
// configuration. Updates are dropped while the previous one is unread. The
// channel closes when ctx is done. Without a config file on disk nothing is
// ever sent.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.watchOnce.Do(func() {
		m.mu.RLock()
		v := m.viper
		m.mu.RUnlock()

		if v != nil && fileExists(m.configPath) {
			v.OnConfigChange(func(e fsnotify.Event) {
				cfg := unmarshalConfig(v)
				applyEnvOverrides(cfg)

				m.mu.Lock()
				defer m.mu.Unlock()
				if m.closed {
					return
				}
				m.config = cfg
				select {
				case m.watchChan <- *cfg:
				default:
				}
			})
			v.WatchConfig()
		}

		go func() {
			<-ctx.Done()
			m.mu.Lock()
			defer m.mu.Unlock()
			m.closed = true
			close(m.watchChan)
		}()
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	m.mu.RLock()
	v := m.viper
	m.mu.RUnlock()
	if v == nil {
		return m.Load(ctx)
	}

	if m.configPath != "" {
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := unmarshalConfig(v)
	applyEnvOverrides(cfg)

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Server defaults
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout_seconds", defaults.Server.ReadTimeoutSeconds)
	v.SetDefault("server.write_timeout_seconds", defaults.Server.WriteTimeoutSeconds)
	v.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)

	// LLM slot defaults
	setSlotDefaults(v, "llm", defaults.LLM)
	setSlotDefaults(v, "bundle", defaults.Bundle)

	// Reasoning defaults
	v.SetDefault("reasoning.extended_reasoning", defaults.Reasoning.ExtendedReasoning)
	v.SetDefault("reasoning.bundle_thinking_models", defaults.Reasoning.BundleThinkingModels)
	v.SetDefault("reasoning.bundle_attempts", defaults.Reasoning.BundleAttempts)
	v.SetDefault("reasoning.bundle_backoff_ms", defaults.Reasoning.BundleBackoffMs)
	v.SetDefault("reasoning.bundle_fallback", defaults.Reasoning.BundleFallback)
	v.SetDefault("reasoning.verify_context_budget", defaults.Reasoning.VerifyContextBudget)

	// Dataset defaults
	v.SetDefault("dataset.dir", defaults.Dataset.Dir)
	v.SetDefault("dataset.sqlite_path", defaults.Dataset.SQLitePath)

	// Resolver defaults
	v.SetDefault("resolver.doc_budget", defaults.Resolver.DocBudget)
	v.SetDefault("resolver.release_budget", defaults.Resolver.ReleaseBudget)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	// Audit defaults
	v.SetDefault("audit.enabled", defaults.Audit.Enabled)
	v.SetDefault("audit.path", defaults.Audit.Path)
	v.SetDefault("audit.max_size_mb", defaults.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	v.SetDefault("audit.max_age_days", defaults.Audit.MaxAgeDays)

	// Metrics defaults
	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.path", defaults.Metrics.Path)

	// Tracing defaults
	v.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	v.SetDefault("tracing.protocol", defaults.Tracing.Protocol)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	v.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)
}

func setSlotDefaults(v *viper.Viper, prefix string, slot LLMSlot) {
	v.SetDefault(prefix+".provider", slot.Provider)
	v.SetDefault(prefix+".api_key", slot.APIKey)
	v.SetDefault(prefix+".base_url", slot.BaseURL)
	v.SetDefault(prefix+".model", slot.Model)
	v.SetDefault(prefix+".thinking_level", slot.ThinkingLevel)
	v.SetDefault(prefix+".reasoning_effort", slot.ReasoningEffort)
	v.SetDefault(prefix+".requests_per_minute", slot.RequestsPerMinute)
}

// unmarshalConfig reads viper values into a fresh Config.
func unmarshalConfig(v *viper.Viper) *Config {
	cfg := &Config{}

	// Server
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	cfg.Server.ReadTimeoutSeconds = v.GetInt("server.read_timeout_seconds")
	cfg.Server.WriteTimeoutSeconds = v.GetInt("server.write_timeout_seconds")
	cfg.Server.ShutdownTimeoutSeconds = v.GetInt("server.shutdown_timeout_seconds")

	// LLM slots
	cfg.LLM = slotFrom(v, "llm")
	cfg.Bundle = slotFrom(v, "bundle")

	// Reasoning
	cfg.Reasoning.ExtendedReasoning = v.GetBool("reasoning.extended_reasoning")
	cfg.Reasoning.BundleThinkingModels = v.GetStringSlice("reasoning.bundle_thinking_models")
	cfg.Reasoning.BundleAttempts = v.GetInt("reasoning.bundle_attempts")
	cfg.Reasoning.BundleBackoffMs = v.GetInt("reasoning.bundle_backoff_ms")
	cfg.Reasoning.BundleFallback = v.GetBool("reasoning.bundle_fallback")
	cfg.Reasoning.VerifyContextBudget = v.GetInt("reasoning.verify_context_budget")

	// Dataset
	cfg.Dataset.Dir = v.GetString("dataset.dir")
	cfg.Dataset.SQLitePath = v.GetString("dataset.sqlite_path")

	// Resolver
	cfg.Resolver.DocBudget = v.GetInt("resolver.doc_budget")
	cfg.Resolver.ReleaseBudget = v.GetInt("resolver.release_budget")

	// Logging
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.File = v.GetString("logging.file")
	cfg.Logging.MaxSizeMB = v.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = v.GetInt("logging.max_age_days")
	cfg.Logging.Compress = v.GetBool("logging.compress")

	// Audit
	cfg.Audit.Enabled = v.GetBool("audit.enabled")
	cfg.Audit.Path = v.GetString("audit.path")
	cfg.Audit.MaxSizeMB = v.GetInt("audit.max_size_mb")
	cfg.Audit.MaxBackups = v.GetInt("audit.max_backups")
	cfg.Audit.MaxAgeDays = v.GetInt("audit.max_age_days")

	// Metrics
	cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	cfg.Metrics.Path = v.GetString("metrics.path")

	// Tracing
	cfg.Tracing.Endpoint = v.GetString("tracing.endpoint")
	cfg.Tracing.Protocol = v.GetString("tracing.protocol")
	cfg.Tracing.ServiceName = v.GetString("tracing.service_name")
	cfg.Tracing.SamplingRate = v.GetFloat64("tracing.sampling_rate")

	return cfg
}

func slotFrom(v *viper.Viper, prefix string) LLMSlot {
	return LLMSlot{
		Provider:          strings.ToLower(v.GetString(prefix + ".provider")),
		APIKey:            v.GetString(prefix + ".api_key"),
		BaseURL:           v.GetString(prefix + ".base_url"),
		Model:             v.GetString(prefix + ".model"),
		ThinkingLevel:     v.GetString(prefix + ".thinking_level"),
		ReasoningEffort:   v.GetString(prefix + ".reasoning_effort"),
		RequestsPerMinute: v.GetInt(prefix + ".requests_per_minute"),
	}
}

// applyEnvOverrides applies the provider-native environment variables,
// which take precedence over the file and ASKTRA_* values.
func applyEnvOverrides(cfg *Config) {
	// Default slot credential, matched to its provider
	if key := providerKey(cfg.LLM.Provider); key != "" {
		cfg.LLM.APIKey = key
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" && cfg.LLM.Provider == "gemini" {
		cfg.LLM.Model = model
	}
	if level := strings.TrimSpace(os.Getenv("GEMINI_THINKING_LEVEL")); level != "" {
		cfg.LLM.ThinkingLevel = strings.ToUpper(level)
	}

	// Bundle slot
	if key := firstEnv("ASKTRA_BUNDLE_API_KEY", "GEMINI_BUNDLE_API_KEY"); key != "" {
		cfg.Bundle.APIKey = key
	}
	if model := os.Getenv("GEMINI_BUNDLE_MODEL"); model != "" {
		cfg.Bundle.Model = model
	}

	if flag := os.Getenv("USE_BUNDLE_FALLBACK"); flag != "" {
		cfg.Reasoning.BundleFallback = parseFlag(flag)
	}

	if dir := os.Getenv("ASKTRA_DATA_DIR"); dir != "" {
		cfg.Dataset.Dir = dir
	}

	// Port from environment - only override if it parses
	if portEnv := os.Getenv("ASKTRA_PORT"); portEnv != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(portEnv)); err == nil {
			cfg.Server.Port = port
		}
	}

	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
}

func providerKey(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// parseFlag accepts 1, true and yes in any case.
func parseFlag(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "TRUE", "YES":
		return true
	}
	return false
}
