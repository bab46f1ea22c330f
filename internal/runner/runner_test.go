package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"surveyfill/internal/config"
	"surveyfill/internal/ledger"
	"surveyfill/internal/mapping"
	"surveyfill/internal/roster"
	"surveyfill/internal/survey"
)

func TestMain(m *testing.M) {
	stepDelay = time.Millisecond
	m.Run()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Survey.URL = "https://example.com/form?token=t"
	cfg.Run.CSVPath = "test.csv"
	cfg.Run.MappingPath = "mapping.yaml"
	cfg.Run.RowDelay = "0s"
	cfg.Run.Retry.MaxAttempts = 2
	cfg.Run.Retry.InitialDelay = "1ms"
	cfg.Run.Retry.MaxDelay = "2ms"
	return cfg
}

func testRoster(t *testing.T, rows int) *roster.Roster {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("Name\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "Person%d\n", i+1)
	}
	r, err := roster.Parse(strings.NewReader(sb.String()))
	require.NoError(t, err)
	return r
}

func testRules(t *testing.T) *mapping.Ruleset {
	t.Helper()
	rs, err := mapping.Parse([]byte("rules:\n  - pattern: name\n    kind: text\n    column: Name\n"))
	require.NoError(t, err)
	return rs
}

func testRunner(t *testing.T, cfg *config.Config) (*Runner, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })
	return New(cfg, nil, led, testRules(t), zap.NewNop()), led
}

func TestRunAllRowsSucceed(t *testing.T) {
	cfg := testConfig(t)
	r, led := testRunner(t, cfg)

	var filled []int
	r.fillRow = func(ctx context.Context, row roster.Row) error {
		filled = append(filled, row.Index)
		return nil
	}

	summary, err := r.Run(context.Background(), testRoster(t, 3), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Done)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []int{1, 2, 3}, filled)

	runs, err := led.Runs(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.RunCompleted, runs[0].Status)
	assert.Equal(t, 3, runs[0].Done)
}

func TestRunRetriesThenFails(t *testing.T) {
	cfg := testConfig(t)
	r, led := testRunner(t, cfg)

	attempts := 0
	r.fillRow = func(ctx context.Context, row roster.Row) error {
		attempts++
		return errors.New("canvas never appeared")
	}

	summary, err := r.Run(context.Background(), testRoster(t, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, attempts)

	results, err := led.RowResults(summary.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ledger.StatusFailed, results[0].Status)
	assert.Equal(t, 2, results[0].Attempts)
	assert.Contains(t, results[0].Error, "canvas")
}

func TestRunFailedRowDoesNotStopBatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Retry.MaxAttempts = 1
	r, _ := testRunner(t, cfg)

	r.fillRow = func(ctx context.Context, row roster.Row) error {
		if row.Index == 2 {
			return errors.New("boom")
		}
		return nil
	}

	summary, err := r.Run(context.Background(), testRoster(t, 3), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Done)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunResumeSkipsDoneRows(t *testing.T) {
	cfg := testConfig(t)
	r, led := testRunner(t, cfg)

	// A previous run already submitted rows 1 and 3.
	prev, err := led.BeginRun(cfg.Run.CSVPath, cfg.Run.MappingPath, cfg.Survey.URL)
	require.NoError(t, err)
	require.NoError(t, led.RecordRow(prev, 1, ledger.StatusDone, 1, ""))
	require.NoError(t, led.RecordRow(prev, 3, ledger.StatusDone, 1, ""))
	require.NoError(t, led.FinishRun(prev, ledger.RunAborted))

	var filled []int
	r.fillRow = func(ctx context.Context, row roster.Row) error {
		filled = append(filled, row.Index)
		return nil
	}

	summary, err := r.Run(context.Background(), testRoster(t, 3), 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, filled)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 2, summary.Skipped)
}

func TestRunResumeDisabledRefills(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Resume = false
	r, led := testRunner(t, cfg)

	prev, err := led.BeginRun(cfg.Run.CSVPath, cfg.Run.MappingPath, cfg.Survey.URL)
	require.NoError(t, err)
	require.NoError(t, led.RecordRow(prev, 1, ledger.StatusDone, 1, ""))

	var filled []int
	r.fillRow = func(ctx context.Context, row roster.Row) error {
		filled = append(filled, row.Index)
		return nil
	}

	_, err = r.Run(context.Background(), testRoster(t, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, filled)
}

func TestRunOnlyRow(t *testing.T) {
	cfg := testConfig(t)
	r, _ := testRunner(t, cfg)

	var filled []int
	r.fillRow = func(ctx context.Context, row roster.Row) error {
		filled = append(filled, row.Index)
		return nil
	}

	summary, err := r.Run(context.Background(), testRoster(t, 5), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, filled)
	assert.Equal(t, 1, summary.Done)
}

func TestRunValidatesMapping(t *testing.T) {
	cfg := testConfig(t)
	r, _ := testRunner(t, cfg)

	ros, err := roster.Parse(strings.NewReader("Wrong Column\nv\n"))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), ros, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in csv")
}

func TestRunCancelledContextAborts(t *testing.T) {
	cfg := testConfig(t)
	r, led := testRunner(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	r.fillRow = func(ctx context.Context, row roster.Row) error {
		cancel()
		return nil
	}

	summary, err := r.Run(ctx, testRoster(t, 5), 0)
	require.NoError(t, err)
	assert.Less(t, summary.Done, 5)

	runs, err := led.Runs(1)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunAborted, runs[0].Status)
}

func TestSetRulesetSwapsBetweenRows(t *testing.T) {
	cfg := testConfig(t)
	r, _ := testRunner(t, cfg)

	replacement, err := mapping.Parse([]byte("rules:\n  - pattern: na+me\n    kind: text\n    column: Name\n"))
	require.NoError(t, err)

	r.fillRow = func(ctx context.Context, row roster.Row) error {
		if row.Index == 1 {
			r.SetRuleset(replacement)
		}
		require.NotNil(t, r.ruleset().Match("name"))
		return nil
	}

	_, err = r.Run(context.Background(), testRoster(t, 2), 0)
	require.NoError(t, err)
	assert.Same(t, replacement, r.ruleset())
}

// fakeSurvey drives fillPages without a browser. Each entry of pages
// is served in order; the walk sees the last entry forever after.
type surveyPage struct {
	headings []string
	thankYou bool
}

type fakeSurvey struct {
	pages  []surveyPage
	pos    int
	clicks int
	filled []string
}

func (f *fakeSurvey) current() surveyPage {
	if f.pos >= len(f.pages) {
		return f.pages[len(f.pages)-1]
	}
	return f.pages[f.pos]
}

func (f *fakeSurvey) ThankYouVisible() (bool, error) { return f.current().thankYou, nil }

func (f *fakeSurvey) Signature() (string, error) {
	return strings.Join(f.current().headings, " || "), nil
}

func (f *fakeSurvey) Questions() ([]survey.Question, error) {
	var out []survey.Question
	for _, h := range f.current().headings {
		out = append(out, survey.Question{Heading: h})
	}
	return out, nil
}

func (f *fakeSurvey) ClickNext() error {
	f.clicks++
	if f.pos < len(f.pages)-1 {
		f.pos++
	}
	return nil
}

func (f *fakeSurvey) fill(q survey.Question, v string) error {
	f.filled = append(f.filled, fmt.Sprintf("%d:%s=%s", f.pos, q.Heading, v))
	return nil
}

func (f *fakeSurvey) ClickRadio(q survey.Question, v string) error     { return f.fill(q, v) }
func (f *fakeSurvey) ClickYesNo(q survey.Question, v string) error     { return f.fill(q, v) }
func (f *fakeSurvey) SelectDropdown(q survey.Question, v string) error { return f.fill(q, v) }
func (f *fakeSurvey) FillText(q survey.Question, v string) error       { return f.fill(q, v) }
func (f *fakeSurvey) FillOtherText(q survey.Question, v string) error  { return f.fill(q, v) }

func (f *fakeSurvey) ClickCheckbox(q survey.Question, vs []string) error {
	return f.fill(q, strings.Join(vs, ";"))
}

func (f *fakeSurvey) FillTexts(q survey.Question, vs []string) error {
	return f.fill(q, strings.Join(vs, "/"))
}

func pageLoopRunner(t *testing.T) (*Runner, roster.Row) {
	t.Helper()
	cfg := testConfig(t)
	cfg.Survey.StuckLimit = 3
	r, _ := testRunner(t, cfg)
	ros := testRoster(t, 1)
	return r, ros.Rows[0]
}

func TestFillPagesStopsAtThankYou(t *testing.T) {
	r, row := pageLoopRunner(t)
	d := &fakeSurvey{pages: []surveyPage{
		{headings: []string{"Name"}},
		{thankYou: true},
	}}

	require.NoError(t, r.fillPages(context.Background(), d, row))
	assert.Equal(t, []string{"0:Name=Person1"}, d.filled)
	assert.Equal(t, 1, d.clicks)
}

func TestFillPagesAdvancesGatePages(t *testing.T) {
	r, row := pageLoopRunner(t)
	d := &fakeSurvey{pages: []surveyPage{
		{}, // welcome page, no questions
		{headings: []string{"Name"}},
		{thankYou: true},
	}}

	require.NoError(t, r.fillPages(context.Background(), d, row))
	assert.Equal(t, []string{"1:Name=Person1"}, d.filled)
	assert.Equal(t, 2, d.clicks)
}

func TestFillPagesFillsRepeatedHeadingPages(t *testing.T) {
	// Two consecutive pages share the heading, so their signatures
	// match. The second page must still be filled.
	r, row := pageLoopRunner(t)
	d := &fakeSurvey{pages: []surveyPage{
		{headings: []string{"Name"}},
		{headings: []string{"Name"}},
		{thankYou: true},
	}}

	require.NoError(t, r.fillPages(context.Background(), d, row))
	assert.Equal(t, []string{"0:Name=Person1", "1:Name=Person1"}, d.filled)
}

func TestFillPagesAbortsWhenStuck(t *testing.T) {
	r, row := pageLoopRunner(t)
	d := &fakeSurvey{pages: []surveyPage{
		{headings: []string{"Mandatory question"}},
	}}

	err := r.fillPages(context.Background(), d, row)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not advance")
	assert.LessOrEqual(t, d.clicks, r.cfg.Survey.StuckLimit+1)
}

func TestFillPagesStepLimit(t *testing.T) {
	r, row := pageLoopRunner(t)
	r.cfg.Survey.MaxSteps = 6

	// Alternate signatures so the stuck detector never trips.
	d := &alternatingSurvey{}
	err := r.fillPages(context.Background(), d, row)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
	assert.Equal(t, 6, d.fakeSurvey.clicks)
}

type alternatingSurvey struct{ fakeSurvey }

func (a *alternatingSurvey) ThankYouVisible() (bool, error) { return false, nil }

func (a *alternatingSurvey) Signature() (string, error) {
	if a.clicks%2 == 0 {
		return "A", nil
	}
	return "B", nil
}

func (a *alternatingSurvey) Questions() ([]survey.Question, error) { return nil, nil }

func TestExecuteWithRetryBackoff(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2}

	calls := 0
	result := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, result.Errors, 2)
	assert.Contains(t, result.String(), "succeeded after 3 attempts")
}

func TestExecuteWithRetryExhausted(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}

	result := ExecuteWithRetry(context.Background(), cfg, func() error {
		return errors.New("always")
	})
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
	assert.EqualError(t, result.LastError, "always")
	assert.Contains(t, result.String(), "failed after 2 attempts")
}

func TestExecuteWithRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := ExecuteWithRetry(ctx, DefaultRetryConfig(), func() error {
		t.Fatal("should not run")
		return nil
	})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.InitialDelay)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdefg", 3))
}
