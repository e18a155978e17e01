// Package cli implements the asktra command line: the HTTP server and
// one-shot commands that run the reasoning engine locally.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/asktra/asktra/internal/audit"
	"github.com/asktra/asktra/internal/config"
	"github.com/asktra/asktra/internal/logging"
	"github.com/asktra/asktra/internal/server"
	"github.com/asktra/asktra/internal/version"
)

// reasonerFunc builds the engine from loaded configuration.
type reasonerFunc func(cfg *config.Config, logger *zap.Logger, auditLogger audit.Logger) (server.Reasoner, error)

type app struct {
	configPath string

	newReasoner reasonerFunc

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr, newEngine)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut, newEngine)
}

func newRootCommand(in io.Reader, out, errOut io.Writer, newReasoner reasonerFunc) *cobra.Command {
	a := &app{
		newReasoner: newReasoner,
		stdin:       in,
		stdout:      out,
		stderr:      errOut,
	}

	cmd := &cobra.Command{
		Use:   "asktra",
		Short: "Causal reasoning over chat, commits, issues and docs",
		Long: "asktra answers questions about why a software system behaves the way it does by " +
			"reconciling what people said, what the code does and what the docs claim.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath, "path to the configuration file")

	cmd.AddCommand(
		newServeCmd(a),
		newAskCmd(a),
		newBundleCmd(a),
		newDatasetCmd(a),
		newVersionCmd(),
	)

	cmd.SetVersionTemplate(fmt.Sprintf("asktra {{.Version}} (commit %s, built %s)\n", version.Commit, version.BuildDate))
	return cmd
}

// session is the wiring shared by the one-shot commands.
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	audit    audit.Logger
	reasoner server.Reasoner
}

func (s *session) Close() {
	_ = s.audit.Close()
	_ = s.logger.Sync()
}

func (a *app) openSession(ctx context.Context) (*session, error) {
	_, cfg, err := loadConfig(ctx, a.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(loggingConfig(cfg))
	if err != nil {
		return nil, err
	}
	auditLogger, err := newAuditLogger(cfg, logger)
	if err != nil {
		return nil, err
	}
	reasoner, err := a.newReasoner(cfg, logger, auditLogger)
	if err != nil {
		_ = auditLogger.Close()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, audit: auditLogger, reasoner: reasoner}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show asktra build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "asktra %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
			return nil
		},
	}
}
