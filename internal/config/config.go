package config

import "context"

// Package config provides configuration management for asktra.
//
// Configuration Sources (priority order, high to low):
//  1. CLI flags (highest priority)
//  2. Environment variables (ASKTRA_* prefix, plus the provider key
//     variables GEMINI_API_KEY, ANTHROPIC_API_KEY and OPENAI_API_KEY)
//  3. YAML config file (optional, default: ./asktra.yaml)
//  4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//  1. Server      listen port, allowed CORS origins, timeouts
//  2. LLM         default credential slot (provider, key, model)
//  3. Bundle      bundle credential slot; empty fields inherit from LLM
//  4. Reasoning   extended reasoning, bundle retries and fallback
//  5. Dataset     evidence directory or SQLite file
//  6. Resolver    document excerpt budgets
//  7. Logging     level, format, rotated log file
//  8. Audit       audit log file
//  9. Metrics     Prometheus endpoint
//  10. Tracing    OTLP exporter

// LLMSlot configures one credential/model slot.
type LLMSlot struct {
	Provider          string // gemini | anthropic | openai
	APIKey            string
	BaseURL           string
	Model             string
	ThinkingLevel     string
	ReasoningEffort   string
	RequestsPerMinute int
}

// Configured reports whether the slot carries a credential.
func (s LLMSlot) Configured() bool {
	return s.APIKey != ""
}

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port int
		// AllowedOrigins is the CORS allow list. ["*"] allows any origin.
		AllowedOrigins         []string
		ReadTimeoutSeconds     int
		WriteTimeoutSeconds    int // 0 disables; streaming responses need it off
		ShutdownTimeoutSeconds int
	}

	// Default LLM slot, used by every phase except bundle emission
	LLM LLMSlot

	// Bundle LLM slot
	Bundle LLMSlot

	// Reasoning pipeline configuration
	Reasoning struct {
		ExtendedReasoning    bool
		BundleThinkingModels []string
		BundleAttempts       int
		BundleBackoffMs      int
		BundleFallback       bool
		VerifyContextBudget  int
	}

	// Dataset configuration. SQLitePath takes precedence over Dir.
	Dataset struct {
		Dir        string
		SQLitePath string
	}

	// Resolver configuration
	Resolver struct {
		DocBudget     int
		ReleaseBudget int
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		File       string // empty logs to stderr only
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}

	// Audit configuration
	Audit struct {
		Enabled    bool
		Path       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}

	// Metrics configuration
	Metrics struct {
		Enabled bool
		Path    string
	}

	// Tracing configuration
	Tracing struct {
		Endpoint     string
		Protocol     string
		ServiceName  string
		SamplingRate float64
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch reports configuration file changes until ctx is done.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// DefaultConfigPath is read when no --config flag is given.
const DefaultConfigPath = "asktra.yaml"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager(DefaultConfigPath)
}
