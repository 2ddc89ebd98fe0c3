package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/config"
	"github.com/v0xg/digitwin/internal/observability"
)

var version = "dev"

var (
	configPath string
	verbose    bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "digitwin",
		Short: "Drive web apps toward a goal with an AI planner, and serve document search",
		Long: `digitwin operates a tagged web UI on your behalf: it snapshots the screen,
asks a planner what to do next, executes the returned actions and repeats
until the goal is reached or the step budget runs out.

It also serves similarity search over pre-embedded document chunks.

Examples:
  digitwin agent "http://localhost:5173" "open settings and switch the language to German"
  digitwin serve --config digitwin.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./digitwin.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs")

	rootCmd.AddCommand(newAgentCmd(), newServeCmd(), newTokenCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the logger
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "digitwin %s\n", version)
		},
	}
}
