package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/asktra/asktra/internal/audit"
	"github.com/asktra/asktra/internal/config"
	"github.com/asktra/asktra/internal/logging"
	"github.com/asktra/asktra/internal/server"
	"github.com/asktra/asktra/internal/tracing"
	"github.com/asktra/asktra/internal/version"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "serve exposes /ask, /ask-stream, /ws/ask and the emission endpoints. " +
			"SIGINT or SIGTERM triggers a graceful shutdown.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}

func (a *app) serve(ctx context.Context, port int) error {
	mgr, cfg, err := loadConfig(ctx, a.configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logger, level, err := logging.NewWithLevel(loggingConfig(cfg))
	if err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Init(ctx, tracingConfig(cfg))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	auditLogger, err := newAuditLogger(cfg, logger)
	if err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	defer auditLogger.Close()

	_ = auditLogger.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithMetadata("config_path", a.configPath).
		WithMetadata("provider", cfg.LLM.Provider))

	if !cfg.LLM.Configured() {
		logger.Warn("No LLM API key configured; reasoning requests will fail until one is set",
			zap.String("provider", cfg.LLM.Provider))
	}

	reasoner, err := a.newReasoner(cfg, logger, auditLogger)
	if err != nil {
		return err
	}
	srv := server.New(serverConfig(cfg, version.Version), reasoner, logger, auditLogger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		watchConfig(gctx, mgr, level, logger, auditLogger)
		return nil
	})
	return g.Wait()
}

// watchConfig applies log level changes from the config file while the
// server runs. Other settings are read once at startup.
func watchConfig(ctx context.Context, mgr config.ConfigManager, level zap.AtomicLevel, logger *zap.Logger, auditLogger audit.Logger) {
	for cfg := range mgr.Watch(ctx) {
		if errs := cfg.Validate(); len(errs) > 0 {
			logger.Warn("Ignoring invalid configuration change", zap.Errors("errors", errs))
			continue
		}
		newLevel, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			continue
		}
		if newLevel != level.Level() {
			level.SetLevel(newLevel)
			logger.Info("Log level changed", zap.String("level", newLevel.String()))
		}
		_ = auditLogger.Log(ctx, audit.NewEvent(audit.EventConfigChanged).
			WithDescription("configuration file changed").
			WithMetadata("log_level", newLevel.String()))
	}
}
