// Package runner drives the batch: one browser session per respondent
// row, filled page by page until the thank-you page appears.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"surveyfill/internal/browser"
	"surveyfill/internal/config"
	"surveyfill/internal/ledger"
	"surveyfill/internal/logging"
	"surveyfill/internal/mapping"
	"surveyfill/internal/roster"
	"surveyfill/internal/survey"
)

// Summary is the outcome of one batch run.
type Summary struct {
	RunID   string
	Total   int
	Done    int
	Failed  int
	Skipped int
	Elapsed time.Duration
}

// Runner owns one batch. Rows run strictly in sequence; the only
// concurrency is the mapping watcher swapping in a new ruleset
// between rows.
type Runner struct {
	cfg      *config.Config
	sessions *browser.SessionManager
	ledger   *ledger.Ledger
	log      *zap.Logger

	rulesMu sync.RWMutex
	rules   *mapping.Ruleset

	// fillRow is swappable for tests.
	fillRow func(ctx context.Context, row roster.Row) error
}

// New creates a runner.
func New(cfg *config.Config, sessions *browser.SessionManager, led *ledger.Ledger, rules *mapping.Ruleset, log *zap.Logger) *Runner {
	r := &Runner{
		cfg:      cfg,
		sessions: sessions,
		ledger:   led,
		log:      log,
		rules:    rules,
	}
	r.fillRow = r.fillRowInBrowser
	return r
}

// SetRuleset swaps the active ruleset. The next row picks it up.
func (r *Runner) SetRuleset(rs *mapping.Ruleset) {
	r.rulesMu.Lock()
	r.rules = rs
	r.rulesMu.Unlock()
}

func (r *Runner) ruleset() *mapping.Ruleset {
	r.rulesMu.RLock()
	defer r.rulesMu.RUnlock()
	return r.rules
}

// Run fills the survey once per roster row. onlyRow limits the batch
// to a single 1-based row index when positive. Rows already recorded
// as done for this CSV are skipped when resume is enabled.
func (r *Runner) Run(ctx context.Context, ros *roster.Roster, onlyRow int) (*Summary, error) {
	start := time.Now()

	if err := r.ruleset().Validate(ros.Headers); err != nil {
		return nil, err
	}

	done := map[int]bool{}
	if r.cfg.Run.Resume {
		var err error
		done, err = r.ledger.DoneRows(r.cfg.Run.CSVPath)
		if err != nil {
			return nil, err
		}
	}

	runID, err := r.ledger.BeginRun(r.cfg.Run.CSVPath, r.cfg.Run.MappingPath, r.cfg.Survey.URL)
	if err != nil {
		return nil, err
	}

	summary := &Summary{RunID: runID, Total: len(ros.Rows)}
	retryCfg := RetryConfig{
		MaxAttempts:       r.cfg.Run.Retry.MaxAttempts,
		InitialDelay:      r.cfg.Run.Retry.InitialDelayDuration(),
		MaxDelay:          r.cfg.Run.Retry.MaxDelayDuration(),
		BackoffMultiplier: r.cfg.Run.Retry.BackoffMultiplier,
	}
	runStatus := ledger.RunCompleted

	for _, row := range ros.Rows {
		if ctx.Err() != nil {
			runStatus = ledger.RunAborted
			break
		}
		if onlyRow > 0 && row.Index != onlyRow {
			continue
		}
		if done[row.Index] {
			summary.Skipped++
			r.log.Info("row already submitted, skipping", zap.Int("row", row.Index))
			if err := r.ledger.RecordRow(runID, row.Index, ledger.StatusSkipped, 0, ""); err != nil {
				r.log.Warn("ledger write failed", zap.Error(err))
			}
			continue
		}

		result := ExecuteWithRetry(ctx, retryCfg, func() error {
			return r.fillRow(ctx, row)
		})

		if result.Success {
			summary.Done++
			r.log.Info("row submitted", zap.Int("row", row.Index), zap.Int("attempts", result.Attempts))
			if err := r.ledger.RecordRow(runID, row.Index, ledger.StatusDone, result.Attempts, ""); err != nil {
				r.log.Warn("ledger write failed", zap.Error(err))
			}
		} else {
			summary.Failed++
			r.log.Error("row failed", zap.Int("row", row.Index), zap.Int("attempts", result.Attempts), zap.Error(result.LastError))
			if err := r.ledger.RecordRow(runID, row.Index, ledger.StatusFailed, result.Attempts, result.LastError.Error()); err != nil {
				r.log.Warn("ledger write failed", zap.Error(err))
			}
			if ctx.Err() != nil {
				runStatus = ledger.RunAborted
				break
			}
		}

		if delay := r.cfg.GetRowDelay(); delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}

	summary.Elapsed = time.Since(start)
	if err := r.ledger.FinishRun(runID, runStatus); err != nil {
		r.log.Warn("ledger write failed", zap.Error(err))
	}
	return summary, nil
}

// pageDriver is the slice of the survey driver the page loop needs,
// split out so the loop is testable without a browser.
type pageDriver interface {
	ThankYouVisible() (bool, error)
	Signature() (string, error)
	Questions() ([]survey.Question, error)
	ClickNext() error
	ClickRadio(survey.Question, string) error
	ClickYesNo(survey.Question, string) error
	ClickCheckbox(survey.Question, []string) error
	SelectDropdown(survey.Question, string) error
	FillText(survey.Question, string) error
	FillTexts(survey.Question, []string) error
	FillOtherText(survey.Question, string) error
}

// fillRowInBrowser runs one respondent through the whole survey in a
// fresh incognito session.
func (r *Runner) fillRowInBrowser(ctx context.Context, row roster.Row) error {
	session, err := r.sessions.CreateSession(ctx, r.cfg.Survey.URL)
	if err != nil {
		return fmt.Errorf("open survey: %w", err)
	}
	defer func() {
		if cerr := r.sessions.CloseSession(session.ID); cerr != nil {
			logging.Get(logging.CategoryBrowser).Warn("close session: %v", cerr)
		}
	}()

	page, ok := r.sessions.Page(session.ID)
	if !ok || page == nil {
		return fmt.Errorf("session %s has no page", session.ID)
	}

	driver := survey.NewDriver(page, survey.Options{
		CanvasSelector:     r.cfg.Survey.CanvasSelector,
		NextButtonSelector: r.cfg.Survey.NextButtonSelector,
		ThankYouText:       r.cfg.Survey.ThankYouText,
		CanvasTimeout:      r.cfg.GetCanvasTimeout(),
	})
	if err := driver.WaitReady(); err != nil {
		return err
	}

	return r.fillPages(ctx, driver, row)
}

// fillPages walks the survey one page at a time. The step limit bounds
// runaway loops and the signature check catches a page that refuses to
// advance, usually a mandatory question the mapping missed.
func (r *Runner) fillPages(ctx context.Context, driver pageDriver, row roster.Row) error {
	maxSteps := r.cfg.Survey.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 120
	}
	stuckLimit := r.cfg.Survey.StuckLimit
	if stuckLimit <= 0 {
		stuckLimit = 3
	}

	lastSig := "\x00"
	repeats := 0

	for step := 0; step < maxSteps; step++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		done, err := driver.ThankYouVisible()
		if err != nil {
			return fmt.Errorf("check completion: %w", err)
		}
		if done {
			return nil
		}

		sig, err := driver.Signature()
		if err != nil {
			return fmt.Errorf("read page: %w", err)
		}
		if sig == lastSig {
			repeats++
			if repeats >= stuckLimit {
				return fmt.Errorf("page did not advance after %d next clicks (row %d, page %q)", repeats, row.Index, truncate(sig, 80))
			}
		} else {
			repeats = 0
			lastSig = sig
		}

		// Fill runs every step. A page that truly did not change gets
		// the same answers again, which is harmless; a new page whose
		// headings happen to match the previous page's still gets
		// filled. The signature only counts no-progress clicks.
		if err := r.fillPage(driver, row); err != nil {
			return err
		}

		if err := driver.ClickNext(); err != nil {
			return err
		}
		time.Sleep(stepDelay)
	}
	return fmt.Errorf("row %d exceeded %d pages without finishing", row.Index, maxSteps)
}

// stepDelay gives Qualtrics time to swap pages after a Next click.
var stepDelay = 500 * time.Millisecond

// fillPage answers every mapped question on the current page. A fill
// primitive failing is logged and the page still advances; the stuck
// detector catches the case where that answer was mandatory.
func (r *Runner) fillPage(driver pageDriver, row roster.Row) error {
	questions, err := driver.Questions()
	if err != nil {
		return err
	}
	rules := r.ruleset()
	log := logging.Get(logging.CategoryRunner)

	for _, q := range questions {
		rule := rules.Match(q.Heading)
		if rule == nil {
			log.Debug("no rule for %q, leaving untouched", q.Heading)
			continue
		}
		res := rule.Resolve(row)
		if res.Empty() {
			log.Debug("empty cell for %q, leaving untouched", q.Heading)
			continue
		}

		var ferr error
		switch rule.Kind {
		case mapping.KindRadio:
			ferr = driver.ClickRadio(q, res.Value)
		case mapping.KindYesNo, mapping.KindOptIn:
			ferr = driver.ClickYesNo(q, res.Value)
		case mapping.KindCheckbox:
			ferr = driver.ClickCheckbox(q, res.Values)
		case mapping.KindDropdown:
			ferr = driver.SelectDropdown(q, res.Value)
		case mapping.KindMultiText:
			ferr = driver.FillTexts(q, res.Values)
		default:
			ferr = driver.FillText(q, res.Value)
		}
		if ferr != nil {
			log.Warn("fill %q: %v", q.Heading, ferr)
			continue
		}

		if res.OtherText != "" {
			if err := driver.FillOtherText(q, res.OtherText); err != nil {
				log.Warn("other text for %q: %v", q.Heading, err)
			}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
