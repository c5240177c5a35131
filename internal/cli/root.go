// Package cli defines the command-line interface for deployctl.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/logging"
)

const (
	// defaultConfigPath is the default path to the deployment configuration file.
	defaultConfigPath = "deploy.yaml"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	Namespace  string
	LogLevel   logging.Level
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: defaultConfigPath,
		LogLevel:   logging.LevelInfo,
	}
	applyEnvDefaults(rootOpts)

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// applyEnvDefaults seeds root options from DEPLOYCTL_* env vars before flag parsing.
func applyEnvDefaults(opts *Options) {
	base := baseEnv{}
	if err := parseEnv(&base); err != nil {
		return
	}
	if base.ConfigPath != "" {
		opts.ConfigPath = base.ConfigPath
	}
	if base.Namespace != "" {
		opts.Namespace = base.Namespace
	}
	if base.LogLevel != "" {
		opts.LogLevel = logging.ParseLevel(base.LogLevel)
	}
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployctl",
		Short: "deployctl deploys the QR code application to AKS",
		Long: "deployctl coordinates deployment of the QR code application to a managed Kubernetes cluster,\n" +
			"gated on the success of the infrastructure and image publishing pipelines.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "Path to deploy.yaml configuration file")
	cmd.PersistentFlags().StringVar(&opts.Namespace, "namespace", opts.Namespace, "Target Kubernetes namespace override")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newDeployCommand(opts),
		newUpstreamCommand(opts),
		newRenderCommand(opts),
		newStatusCommand(opts),
		newDiagnoseCommand(opts),
		newDoctorCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
