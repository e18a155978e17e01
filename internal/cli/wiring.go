package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/asktra/asktra/internal/audit"
	"github.com/asktra/asktra/internal/config"
	"github.com/asktra/asktra/internal/dataset"
	"github.com/asktra/asktra/internal/llm/adapter"
	"github.com/asktra/asktra/internal/logging"
	"github.com/asktra/asktra/internal/reasoning/engine"
	"github.com/asktra/asktra/internal/resolver"
	"github.com/asktra/asktra/internal/server"
	"github.com/asktra/asktra/internal/tracing"
)

// loadConfig reads and validates configuration from path, the environment
// and defaults.
func loadConfig(ctx context.Context, path string) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(path)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}

func loggingConfig(cfg *config.Config) logging.Config {
	return logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}
}

// newAuditLogger returns the rotated audit log, or a no-op logger when
// auditing is disabled.
func newAuditLogger(cfg *config.Config, logger *zap.Logger) (audit.Logger, error) {
	if !cfg.Audit.Enabled {
		return audit.NewNopLogger(), nil
	}
	return audit.NewLogger(&audit.Config{
		AuditLogPath:  cfg.Audit.Path,
		MaxSize:       cfg.Audit.MaxSizeMB,
		MaxBackups:    cfg.Audit.MaxBackups,
		MaxAge:        cfg.Audit.MaxAgeDays,
		Compress:      true,
		FlushInterval: time.Second,
	}, logger)
}

func tracingConfig(cfg *config.Config) tracing.Config {
	return tracing.Config{
		ServiceName:  cfg.Tracing.ServiceName,
		Endpoint:     cfg.Tracing.Endpoint,
		Protocol:     cfg.Tracing.Protocol,
		SamplingRate: cfg.Tracing.SamplingRate,
	}
}

func slotConfig(s config.LLMSlot) adapter.Config {
	return adapter.Config{
		Provider:          adapter.ProviderType(s.Provider),
		APIKey:            s.APIKey,
		BaseURL:           s.BaseURL,
		Model:             s.Model,
		ThinkingLevel:     s.ThinkingLevel,
		ReasoningEffort:   s.ReasoningEffort,
		RequestsPerMinute: s.RequestsPerMinute,
	}
}

// datasetSource picks the evidence backend. A SQLite path wins over the
// directory.
func datasetSource(cfg *config.Config) dataset.Source {
	if cfg.Dataset.SQLitePath != "" {
		return dataset.SQLiteSource{Path: cfg.Dataset.SQLitePath}
	}
	return dataset.DirSource{Dir: cfg.Dataset.Dir}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		ExtendedReasoning:    cfg.Reasoning.ExtendedReasoning,
		BundleThinkingModels: cfg.Reasoning.BundleThinkingModels,
		BundleAttempts:       cfg.Reasoning.BundleAttempts,
		BundleBackoff:        time.Duration(cfg.Reasoning.BundleBackoffMs) * time.Millisecond,
		BundleFallback:       cfg.Reasoning.BundleFallback,
		VerifyContextBudget:  cfg.Reasoning.VerifyContextBudget,
	}
}

// newEngine wires the reasoning engine from configuration.
func newEngine(cfg *config.Config, logger *zap.Logger, auditLogger audit.Logger) (server.Reasoner, error) {
	factory := adapter.NewFactory(slotConfig(cfg.LLM), slotConfig(cfg.Bundle), logger)
	return engine.New(engineConfig(cfg), engine.Deps{
		Dataset: dataset.NewLoader(datasetSource(cfg), logger),
		Clients: factory,
		Resolver: resolver.New(resolver.Options{
			DocBudget:     cfg.Resolver.DocBudget,
			ReleaseBudget: cfg.Resolver.ReleaseBudget,
		}),
		Audit:  auditLogger,
		Logger: logger,
	}), nil
}

// serverConfig maps configuration to server settings. The bundle model is
// reported after inheritance from the default slot.
func serverConfig(cfg *config.Config, version string) server.Config {
	bundle := adapter.NewFactory(slotConfig(cfg.LLM), slotConfig(cfg.Bundle), nil).Config(adapter.SlotBundle)
	return server.Config{
		Port:            cfg.Server.Port,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsPath:     cfg.Metrics.Path,
		Version:         version,
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		BundleModel:     bundle.Model,
		Configured:      cfg.LLM.Configured(),
	}
}
