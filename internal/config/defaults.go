package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8000
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.ReadTimeoutSeconds = 30
	cfg.Server.WriteTimeoutSeconds = 0
	cfg.Server.ShutdownTimeoutSeconds = 10

	// LLM defaults
	cfg.LLM.Provider = "gemini"
	cfg.LLM.Model = "gemini-3-flash-preview"
	cfg.LLM.ThinkingLevel = "HIGH"
	cfg.LLM.ReasoningEffort = "high"
	cfg.LLM.RequestsPerMinute = 0

	// Bundle defaults: everything unset inherits from the default slot
	cfg.Bundle.Model = ""

	// Reasoning defaults
	cfg.Reasoning.ExtendedReasoning = true
	cfg.Reasoning.BundleThinkingModels = []string{"gemini-3"}
	cfg.Reasoning.BundleAttempts = 3
	cfg.Reasoning.BundleBackoffMs = 1000
	cfg.Reasoning.BundleFallback = false
	cfg.Reasoning.VerifyContextBudget = 2000

	// Dataset defaults
	cfg.Dataset.Dir = "data"
	cfg.Dataset.SQLitePath = ""

	// Resolver defaults
	cfg.Resolver.DocBudget = 800
	cfg.Resolver.ReleaseBudget = 400

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	// Audit defaults
	cfg.Audit.Enabled = false
	cfg.Audit.Path = "logs/audit.log"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAgeDays = 90

	// Metrics defaults
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	// Tracing defaults (no endpoint disables export)
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.Protocol = "http"
	cfg.Tracing.ServiceName = "asktra"
	cfg.Tracing.SamplingRate = 1.0

	return cfg
}
