package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "parley-cli",
	Short: "Parley CLI tool",
	Long: `Parley CLI runs and pokes at the Parley messaging server.

Available commands:
  serve      Run the HTTP and websocket server
  token      Mint a bearer token for a user
  seed       Create users and conversations in the configured store
  listen     Connect to a running server and print every event
  version    Print the version

Configuration is read from .env and PARLEY_* environment variables.
Use "parley-cli [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logging.New(cfg.GetLogFormat(), cfg.GetLogLevel())
	return cfg, nil
}
