package main

import (
	"fmt"
	"os"

	"docreview/internal/config"
	"docreview/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "docreview",
	Short: "docreview - multi-persona document review",
	Long: `docreview sends a document through a supervisor, any number of reviewer
personas running in parallel, and an aggregator that merges their feedback
into one report.

Personas live in a YAML file or a SQLite database and can be edited while the
server is running; every edit recompiles the review graph.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logCfg := logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File}
		if verbose {
			logCfg.Level = "debug"
		}
		logger, err = logging.Initialize(logCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Config("loaded from %s (provider=%s, store=%s)", configPath, cfg.LLM.Provider, cfg.Personas.Store)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "docreview.yaml", "Config file path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(personasCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
