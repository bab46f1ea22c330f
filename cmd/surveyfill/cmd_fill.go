// Package main implements the surveyfill CLI commands.
// This file contains the batch fill command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"surveyfill/internal/config"
	"surveyfill/internal/ledger"
	"surveyfill/internal/mapping"
	"surveyfill/internal/plan"
	"surveyfill/internal/roster"
	"surveyfill/internal/runner"
)

var (
	fillCSV      string
	fillMapping  string
	fillURL      string
	fillHeadless bool
	fillResume   bool
	fillDryRun   bool
	fillRow      int
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Submit one survey response per CSV row",
	Long: `Reads the CSV export, matches each survey question against the
mapping rules, and submits one response per row. Rows recorded as done
in the ledger are skipped unless --resume=false.

Example:
  surveyfill fill --csv roster.csv --mapping mapping.yaml --url "https://example.qualtrics.com/jfe/form/SV_abc?token=xyz"`,
	RunE: runFill,
}

func init() {
	fillCmd.Flags().StringVar(&fillCSV, "csv", "", "CSV export path (overrides config)")
	fillCmd.Flags().StringVar(&fillMapping, "mapping", "", "Mapping YAML path (overrides config)")
	fillCmd.Flags().StringVar(&fillURL, "url", "", "Survey URL with embedded token (overrides config)")
	fillCmd.Flags().BoolVar(&fillHeadless, "headless", true, "Run Chrome headless")
	fillCmd.Flags().BoolVar(&fillResume, "resume", true, "Skip rows already recorded as done")
	fillCmd.Flags().BoolVar(&fillDryRun, "dry-run", false, "Print planned actions instead of driving a browser")
	fillCmd.Flags().IntVar(&fillRow, "row", 0, "Fill only this 1-based row")
}

// applyFillFlags layers command-line flags over the config file.
func applyFillFlags(cmd *cobra.Command, cfg *config.Config) {
	if fillCSV != "" {
		cfg.Run.CSVPath = fillCSV
	}
	if fillMapping != "" {
		cfg.Run.MappingPath = fillMapping
	}
	if fillURL != "" {
		cfg.Survey.URL = fillURL
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = fillHeadless
	}
	if cmd.Flags().Changed("resume") {
		cfg.Run.Resume = fillResume
	}
}

func runFill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFillFlags(cmd, cfg)

	if cfg.Survey.URL == "" {
		return fmt.Errorf("no survey URL: set --url or survey.url in the config")
	}
	if cfg.Run.CSVPath == "" {
		return fmt.Errorf("no CSV path: set --csv or run.csv_path in the config")
	}
	if cfg.Run.MappingPath == "" {
		return fmt.Errorf("no mapping path: set --mapping or run.mapping_path in the config")
	}

	ros, err := roster.Load(cfg.Run.CSVPath)
	if err != nil {
		return err
	}
	rules, err := mapping.Load(cfg.Run.MappingPath)
	if err != nil {
		return err
	}
	if err := rules.Validate(ros.Headers); err != nil {
		return err
	}

	logger.Info("roster loaded",
		zap.Int("rows", len(ros.Rows)),
		zap.Int("rules", len(rules.Rules)))

	if fillDryRun {
		return printDryRun(rules, ros, cfg.Survey.URL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	led, err := ledger.Open(resolvePath(cfg.Run.LedgerPath))
	if err != nil {
		return err
	}
	defer led.Close()

	mgr := newSessionManager(cfg)
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = mgr.Shutdown(context.Background()) }()

	run := runner.New(cfg, mgr, led, rules, logger)

	if cfg.Run.WatchMapping {
		watcher := mapping.NewWatcher(cfg.Run.MappingPath, run.SetRuleset)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("mapping watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	summary, err := run.Run(ctx, ros, fillRow)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s finished in %s\n", summary.RunID, summary.Elapsed.Round(time.Second))
	fmt.Printf("  done:    %d\n", summary.Done)
	fmt.Printf("  failed:  %d\n", summary.Failed)
	fmt.Printf("  skipped: %d\n", summary.Skipped)
	if summary.Failed > 0 {
		fmt.Println("Re-run the same command to retry failed rows.")
	}
	return nil
}

func printDryRun(rules *mapping.Ruleset, ros *roster.Roster, url string) error {
	for _, row := range ros.Rows {
		if fillRow > 0 && row.Index != fillRow {
			continue
		}
		fmt.Printf("--- row %d ---\n", row.Index)
		for _, action := range plan.Build(rules, row, url) {
			fmt.Printf("  %s\n", action)
		}
	}
	return nil
}
