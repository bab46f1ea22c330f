// Package main implements the surveyfill CLI commands.
// This file contains the ledger status command.
package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"surveyfill/cmd/surveyfill/ui"
	"surveyfill/internal/ledger"
)

var (
	statusLimit int
	statusRunID string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and their row counts",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of runs to show")
	statusCmd.Flags().StringVar(&statusRunID, "run", "", "Show per-row outcomes for one run")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	led, err := ledger.Open(resolvePath(cfg.Run.LedgerPath))
	if err != nil {
		return err
	}
	defer led.Close()

	styles := ui.DefaultStyles()

	if statusRunID != "" {
		return showRunRows(led, statusRunID, styles)
	}

	runs, err := led.Runs(statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	table := ui.NewTable("Recent runs",
		ui.Column{Name: "Run"},
		ui.Column{Name: "Started"},
		ui.Column{Name: "Status"},
		ui.Column{Name: "Done", Numeric: true},
		ui.Column{Name: "Failed", Numeric: true},
		ui.Column{Name: "Skipped", Numeric: true},
		ui.Column{Name: "CSV"},
	)
	for _, r := range runs {
		table.AddRow(
			shortID(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			ui.StatusCell(styles, r.Status),
			strconv.Itoa(r.Done),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Skipped),
			r.CSVPath,
		)
	}
	fmt.Print(table.View(styles))
	fmt.Println("Use --run <id> for per-row outcomes.")
	return nil
}

func showRunRows(led *ledger.Ledger, runID string, styles ui.Styles) error {
	// Allow the short ID shown in the runs table.
	if len(runID) == 8 {
		runs, err := led.Runs(200)
		if err != nil {
			return err
		}
		for _, r := range runs {
			if shortID(r.ID) == runID {
				runID = r.ID
				break
			}
		}
	}

	results, err := led.RowResults(runID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Printf("No row outcomes for run %s\n", runID)
		return nil
	}

	table := ui.NewTable(fmt.Sprintf("Run %s", shortID(runID)),
		ui.Column{Name: "Row", Numeric: true},
		ui.Column{Name: "Status"},
		ui.Column{Name: "Attempts", Numeric: true},
		ui.Column{Name: "Error"},
	)
	for _, rr := range results {
		table.AddRow(strconv.Itoa(rr.RowIndex), ui.StatusCell(styles, rr.Status), strconv.Itoa(rr.Attempts), rr.Error)
	}
	fmt.Print(table.View(styles))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
