// Package main provides the roster-scan command line.
package main

import (
	"fmt"
	"os"

	"roster-scan/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	verbose    bool
	logger     = zap.NewNop()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "roster-scan",
		Short: "Turn color-coded planning tables into daily shift rosters",
		Long: `roster-scan reads planning documents (one manifest per document listing page
titles, person names and the raster image of each person row), recognizes the
shift of every cell from its color and writes a per-day, per-unit roster.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := zap.NewProductionConfig()
			if verbose {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			l, err := cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML or TOML, default: built-in palettes)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newRunCmd(), newConfigCmd(), newVersionCmd())
	return root
}

// loadConfig returns the configuration selected by --config.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
