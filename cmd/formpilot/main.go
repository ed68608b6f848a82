package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"formpilot/internal/config"
	"formpilot/internal/logging"
)

const version = "0.3.0"

var (
	// Global flags
	configPath string
	verbose    bool
	logFormat  string

	// Loaded by the root command before any subcommand runs
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "formpilot",
	Short: "formpilot - conversational form filling",
	Long: `formpilot fills a structured form through conversation.

Each user turn is classified, field values are extracted and merged into the
form, and the assistant asks for whatever is still missing until the form is
complete. Conversations and their forms are persisted in SQLite.

Run "formpilot chat" for the interactive interface or "formpilot serve" for
the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}
		if logFormat != "" {
			loaded.Logging.Format = logFormat
		}
		if err := logging.Initialize(logging.Config{
			Level:      loaded.Logging.Level,
			Format:     loaded.Logging.Format,
			File:       loaded.Logging.File,
			Categories: loaded.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		logging.BootDebug("config loaded from %q", configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the formpilot version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "formpilot %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "formpilot.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log encoding: json or console (default from config)")

	rootCmd.AddCommand(
		versionCmd,
		serveCmd,
		mcpCmd,
		chatCmd,
		askCmd,
		schemaCmd,
		sessionsCmd,
		tracesCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
