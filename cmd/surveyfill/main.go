package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"surveyfill/internal/config"
	"surveyfill/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "surveyfill",
	Short: "surveyfill - CSV-driven survey form filler",
	Long: `surveyfill submits one Qualtrics response per row of a CSV export.

A YAML mapping file binds CSV columns to survey questions by matching
question headings. The tool drives a real Chrome instance, fills each
page, and advances with Next until the thank-you page appears. Row
outcomes land in a local ledger so an interrupted batch resumes where
it stopped.

Start with 'surveyfill extract' to capture the survey's structure,
write the mapping against it, preview with 'surveyfill plan', then run
'surveyfill fill'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			logger.Warn("config unreadable, logging with defaults", zap.Error(err))
			cfg = config.DefaultConfig()
		}
		if err := logging.Initialize(resolveWorkspace(), loggingOptions(cfg, verbose)); err != nil {
			logger.Warn("category log files unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: .surveyfill/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Hour, "Operation timeout")

	rootCmd.AddCommand(fillCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(browserCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// loadConfig reads the config file, falling back to defaults when no
// file exists yet.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}

func defaultConfigPath() string {
	return filepath.Join(resolveWorkspace(), ".surveyfill", "config.yaml")
}

// loggingOptions merges the config's logging section with the
// --verbose flag. Verbose forces debug-level category files on even
// when the config leaves them off.
func loggingOptions(cfg *config.Config, verbose bool) logging.Options {
	o := logging.Options{
		Debug:      cfg.Logging.Debug || verbose,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat || cfg.Logging.Format == "json",
	}
	if verbose {
		o.Level = "debug"
	}
	return o
}

// initCmd writes a starter config file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = defaultConfigPath()
		}
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("Config already exists: %s\n", path)
			return nil
		}
		cfg := config.DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		fmt.Println("Fill in survey.url, run.csv_path, and run.mapping_path before running 'surveyfill fill'.")
		return nil
	},
}
