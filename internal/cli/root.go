// Package cli implements the agentgov command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/config"
	"github.com/ppiankov/agentgov/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	jsonLogs bool

	cfg    *config.Config
	logger = zap.NewNop()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config YAML (default ~/.agentgov/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs")
}

var rootCmd = &cobra.Command{
	Use:           "agentgov",
	Short:         "Runtime governance for autonomous business agents",
	Long:          "Decides whether an agent action may proceed, at what permission tier, and\nwhether a human must review it. Role constitutions, budgets, drift, trust\nand evaluation gates run in one fail-closed pipeline.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		if jsonLogs {
			loaded.Log.JSON = true
		}
		l, err := logging.New(loaded.Log.Level, loaded.Log.JSON)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
