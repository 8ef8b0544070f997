// Package commands defines all Cobra CLI commands for the castellan binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/castellan-ai/castellan/internal/config"
	"github.com/castellan-ai/castellan/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// cfg is the resolved configuration shared by all subcommands. Populated
// once in PersistentPreRunE before any RunE executes.
var cfg *config.Config

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "castellan",
		Short: "Castellan: security-partitioned document intelligence",
		Long: `Castellan is a self-hosted document intelligence service.

Documents are uploaded at a security tier (LOW, MID, HIGH, VERY_HIGH),
indexed into chunk embeddings, and queried in natural language. Answers
are generated strictly from document content the caller's role is
cleared to read; every query attempt leaves an audit record.

Configuration is resolved from defaults, an optional YAML file
(~/.castellan/config.yaml), and environment variables, in that order.
See 'castellan --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Bootstrap logger: the real level/format live in the config
			// that has not been loaded yet.
			boot := logging.New("info", "text")

			loaded, path, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}
			cfg = loaded

			newLogger().Debug("command starting",
				slog.String("command", cmd.Name()),
				slog.String("config", path),
			)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.castellan/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewUploadCmd(),
		NewIndexCmd(),
		NewVersionCmd(),
	)

	return root
}

// newLogger builds the process logger from the resolved configuration.
func newLogger() *slog.Logger {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format)
}
