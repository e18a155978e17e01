package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

var validProviders = map[string]bool{
	"gemini":    true,
	"anthropic": true,
	"openai":    true,
}

// Validate validates the configuration and returns validation errors.
//
// A missing API key is not an error: the service starts degraded and the
// affected operations answer 503 until a key is configured.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.ReadTimeoutSeconds < 0 || c.Server.WriteTimeoutSeconds < 0 || c.Server.ShutdownTimeoutSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.timeouts",
			Message: "timeouts cannot be negative",
		})
	}

	// Validate LLM slots
	errs = append(errs, validateSlot("llm", c.LLM, true)...)
	errs = append(errs, validateSlot("bundle", c.Bundle, false)...)

	// Validate reasoning configuration
	if c.Reasoning.BundleAttempts < 1 || c.Reasoning.BundleAttempts > 10 {
		errs = append(errs, &ValidationError{
			Field:   "reasoning.bundle_attempts",
			Message: fmt.Sprintf("bundle_attempts must be between 1 and 10, got %d", c.Reasoning.BundleAttempts),
		})
	}
	if c.Reasoning.BundleBackoffMs < 0 {
		errs = append(errs, &ValidationError{
			Field:   "reasoning.bundle_backoff_ms",
			Message: fmt.Sprintf("bundle_backoff_ms cannot be negative, got %d", c.Reasoning.BundleBackoffMs),
		})
	}
	if c.Reasoning.VerifyContextBudget < 1 {
		errs = append(errs, &ValidationError{
			Field:   "reasoning.verify_context_budget",
			Message: fmt.Sprintf("verify_context_budget must be positive, got %d", c.Reasoning.VerifyContextBudget),
		})
	}

	// Validate dataset configuration
	if strings.TrimSpace(c.Dataset.Dir) == "" && strings.TrimSpace(c.Dataset.SQLitePath) == "" {
		errs = append(errs, &ValidationError{
			Field:   "dataset.dir",
			Message: "either dataset.dir or dataset.sqlite_path is required",
		})
	}

	// Validate resolver configuration
	if c.Resolver.DocBudget < 1 {
		errs = append(errs, &ValidationError{
			Field:   "resolver.doc_budget",
			Message: fmt.Sprintf("doc_budget must be positive, got %d", c.Resolver.DocBudget),
		})
	}
	if c.Resolver.ReleaseBudget < 1 {
		errs = append(errs, &ValidationError{
			Field:   "resolver.release_budget",
			Message: fmt.Sprintf("release_budget must be positive, got %d", c.Resolver.ReleaseBudget),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
		"text":    true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console, text", c.Logging.Format),
		})
	}

	// Validate audit configuration
	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		errs = append(errs, &ValidationError{
			Field:   "audit.path",
			Message: "path is required when audit is enabled",
		})
	}

	// Validate metrics configuration
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, &ValidationError{
			Field:   "metrics.path",
			Message: fmt.Sprintf("path must start with '/', got '%s'", c.Metrics.Path),
		})
	}

	// Validate tracing configuration
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "http", "http/protobuf", "grpc":
	default:
		errs = append(errs, &ValidationError{
			Field:   "tracing.protocol",
			Message: fmt.Sprintf("invalid protocol '%s', must be one of: http, grpc", c.Tracing.Protocol),
		})
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, &ValidationError{
			Field:   "tracing.sampling_rate",
			Message: fmt.Sprintf("sampling_rate must be between 0 and 1, got %.2f", c.Tracing.SamplingRate),
		})
	}

	return errs
}

// validateSlot checks one LLM slot. The bundle slot may leave the provider
// empty to inherit it from the default slot.
func validateSlot(prefix string, s LLMSlot, requireProvider bool) []error {
	var errs []error

	if s.Provider == "" {
		if requireProvider {
			errs = append(errs, &ValidationError{
				Field:   prefix + ".provider",
				Message: "provider is required",
			})
		}
	} else if !validProviders[s.Provider] {
		errs = append(errs, &ValidationError{
			Field:   prefix + ".provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: gemini, anthropic, openai", s.Provider),
		})
	}

	if requireProvider && s.Configured() && strings.TrimSpace(s.Model) == "" {
		errs = append(errs, &ValidationError{
			Field:   prefix + ".model",
			Message: "model is required when an API key is configured",
		})
	}

	if s.BaseURL != "" {
		if u, err := url.Parse(s.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   prefix + ".base_url",
				Message: fmt.Sprintf("invalid base URL '%s'", s.BaseURL),
			})
		}
	}

	if s.RequestsPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   prefix + ".requests_per_minute",
			Message: fmt.Sprintf("requests_per_minute cannot be negative, got %d", s.RequestsPerMinute),
		})
	}

	return errs
}
