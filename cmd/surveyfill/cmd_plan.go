// Package main implements the surveyfill CLI commands.
// This file contains the dry-run planner command.
package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"surveyfill/internal/mapping"
	"surveyfill/internal/plan"
	"surveyfill/internal/roster"
)

var (
	planCSV     string
	planMapping string
	planURL     string
	planRow     int
	planJSON    bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the actions a fill would take, without a browser",
	Long: `Builds the action list for one row purely from the mapping and the
CSV, so a mapping change can be reviewed before touching the survey.

Example:
  surveyfill plan --csv roster.csv --mapping mapping.yaml --row 2`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planCSV, "csv", "", "CSV export path (overrides config)")
	planCmd.Flags().StringVar(&planMapping, "mapping", "", "Mapping YAML path (overrides config)")
	planCmd.Flags().StringVar(&planURL, "url", "", "Survey URL (overrides config)")
	planCmd.Flags().IntVar(&planRow, "row", 1, "1-based row to plan")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Emit the plan as JSON")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if planCSV != "" {
		cfg.Run.CSVPath = planCSV
	}
	if planMapping != "" {
		cfg.Run.MappingPath = planMapping
	}
	if planURL != "" {
		cfg.Survey.URL = planURL
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

	if planRow < 1 || planRow > len(ros.Rows) {
		return fmt.Errorf("row %d out of range (csv has %d rows)", planRow, len(ros.Rows))
	}
	row := ros.Rows[planRow-1]
	actions := plan.Build(rules, row, cfg.Survey.URL)

	if planJSON {
		data, err := json.MarshalIndent(actions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Plan for row %d (%d actions):\n", planRow, len(actions))
	for _, action := range actions {
		fmt.Printf("  %s\n", action)
	}
	return nil
}
