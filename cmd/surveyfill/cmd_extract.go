// Package main implements the surveyfill CLI commands.
// This file contains the structure extraction and page inspection commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"surveyfill/internal/browser"
	"surveyfill/internal/extract"
	"surveyfill/internal/survey"
)

var (
	extractURL string
	extractOut string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Walk the survey and dump its structure as JSON",
	Long: `Opens the survey, records every page's headings, input inventories,
and choice lists, and advances with Next until the survey ends or a
mandatory question blocks the walk. The output is the ground truth to
write the mapping file against.

Example:
  surveyfill extract --url "https://example.qualtrics.com/jfe/form/SV_abc?token=xyz" --out structure.json`,
	RunE: runExtract,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the current first page's questions",
	Long: `Prints the visible page's headings and control inventories without
advancing. Attaches to an already-open session when the persisted
store has one (see 'surveyfill browser launch'); otherwise opens the
survey fresh. Quick check that selectors and the URL are right before
a full extract.`,
	RunE: runInspect,
}

func init() {
	extractCmd.Flags().StringVar(&extractURL, "url", "", "Survey URL (overrides config)")
	extractCmd.Flags().StringVar(&extractOut, "out", "structure.json", "Output file")

	inspectCmd.Flags().StringVar(&extractURL, "url", "", "Survey URL (overrides config)")
}

// openSurvey returns a driver on the survey plus a cleanup func. With
// attach set it first tries to rebind to a session the operator already
// has open (via the control-file browser and the persisted session
// store), falling back to a fresh session on the configured URL.
func openSurvey(ctx context.Context, attach bool) (*survey.Driver, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if extractURL != "" {
		cfg.Survey.URL = extractURL
	}

	mgr := newSessionManager(cfg)
	if err := mgr.Start(ctx); err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = mgr.Shutdown(context.Background()) }

	page := (*rod.Page)(nil)
	if attach {
		page = attachLatest(ctx, mgr)
	}
	if page == nil {
		if cfg.Survey.URL == "" {
			cleanup()
			return nil, nil, fmt.Errorf("no survey URL: set --url or survey.url in the config")
		}
		session, err := mgr.CreateSession(ctx, cfg.Survey.URL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		var ok bool
		page, ok = mgr.Page(session.ID)
		if !ok || page == nil {
			cleanup()
			return nil, nil, fmt.Errorf("session %s has no page", session.ID)
		}
	}

	driver := survey.NewDriver(page, survey.Options{
		CanvasSelector:     cfg.Survey.CanvasSelector,
		NextButtonSelector: cfg.Survey.NextButtonSelector,
		ThankYouText:       cfg.Survey.ThankYouText,
		CanvasTimeout:      cfg.GetCanvasTimeout(),
	})
	return driver, cleanup, nil
}

// attachLatest rebinds to the most recently active persisted session
// with a known target. Returns nil when there is nothing to attach to.
func attachLatest(ctx context.Context, mgr *browser.SessionManager) *rod.Page {
	var best *browser.Session
	for _, s := range mgr.List() {
		if s.TargetID == "" {
			continue
		}
		if best == nil || s.LastActive.After(best.LastActive) {
			best = &s
		}
	}
	if best == nil {
		return nil
	}

	attached, err := mgr.Attach(ctx, best.TargetID)
	if err != nil {
		logger.Info("could not attach to existing session, opening a new one", zap.Error(err))
		return nil
	}
	page, ok := mgr.Page(attached.ID)
	if !ok {
		return nil
	}
	return page
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	driver, cleanup, err := openSurvey(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("extracting survey structure", zap.String("out", extractOut))
	doc, err := extract.Walk(driver, cfg.Survey.MaxSteps, cfg.Survey.StuckLimit)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(extractOut, data, 0o644); err != nil {
		return err
	}

	fmt.Printf("Extracted %d pages to %s\n", len(doc.Pages), extractOut)
	if !doc.Complete {
		fmt.Println("Walk stopped before the thank-you page; a mandatory question likely blocked it.")
		fmt.Println("The captured pages are still valid for mapping.")
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	driver, cleanup, err := openSurvey(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := driver.WaitReady(); err != nil {
		return err
	}

	questions, err := driver.Questions()
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		fmt.Println("No questions on this page (welcome or gate page).")
		return nil
	}

	for i, q := range questions {
		fmt.Printf("%d. %s\n", i+1, q.Heading)
		raw, err := driver.SectionHTML(q)
		if err != nil {
			continue
		}
		inv, choices, options := extract.ParseSection(raw)
		fmt.Printf("   radios=%d checkboxes=%d texts=%d dropdowns=%d\n",
			inv.Radios, inv.Checkboxes, inv.Texts, inv.Dropdowns)
		for _, c := range choices {
			fmt.Printf("   choice: %s\n", c)
		}
		for _, o := range options {
			fmt.Printf("   option: %s\n", o)
		}
	}
	return nil
}
