package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"synochat/pkg/config"
	"synochat/pkg/logger"
)

var version = "0.1.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "synochat",
	Short:         "Synology Chat webhook adapter",
	Long:          "Receives Synology Chat outgoing webhooks, validates them, and posts messages to the incoming webhook.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and installs the configured logger as default.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, appLogger, nil
}
