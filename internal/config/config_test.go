package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "surveyfill", cfg.Name)
	assert.Equal(t, "#survey-canvas", cfg.Survey.CanvasSelector)
	assert.Equal(t, "#next-button", cfg.Survey.NextButtonSelector)
	assert.Equal(t, 120, cfg.Survey.MaxSteps)
	assert.Equal(t, 3, cfg.Survey.StuckLimit)
	assert.Equal(t, 3, cfg.Run.Retry.MaxAttempts)
	assert.True(t, cfg.Run.Resume)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Survey.MaxSteps, cfg.Survey.MaxSteps)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "surveyfill.yaml")
	data := `
survey:
  url: "https://example.qualtrics.com/jfe/form/SV_abc?RID=tok"
  max_steps: 40
  stuck_limit: 5
browser:
  headless: true
run:
  csv_path: respondents.csv
  retry:
    max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.qualtrics.com/jfe/form/SV_abc?RID=tok", cfg.Survey.URL)
	assert.Equal(t, 40, cfg.Survey.MaxSteps)
	assert.Equal(t, 5, cfg.Survey.StuckLimit)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "respondents.csv", cfg.Run.CSVPath)
	assert.Equal(t, 5, cfg.Run.Retry.MaxAttempts)

	// Untouched sections keep defaults
	assert.Equal(t, "#next-button", cfg.Survey.NextButtonSelector)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("survey: [not: a, map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SURVEYFILL_URL", "https://env.example/form")
	t.Setenv("SURVEYFILL_CSV", "/tmp/env.csv")
	t.Setenv("SURVEYFILL_HEADLESS", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example/form", cfg.Survey.URL)
	assert.Equal(t, "/tmp/env.csv", cfg.Run.CSVPath)
	assert.True(t, cfg.Browser.Headless)
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 15*time.Second, cfg.GetCanvasTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetNavigationTimeout())
	assert.Equal(t, time.Second, cfg.GetRowDelay())
	assert.Equal(t, 2*time.Second, cfg.Run.Retry.InitialDelayDuration())
	assert.Equal(t, 30*time.Second, cfg.Run.Retry.MaxDelayDuration())

	cfg.Survey.CanvasTimeout = "nonsense"
	assert.Equal(t, 15*time.Second, cfg.GetCanvasTimeout(), "bad duration falls back to default")
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "surveyfill.yaml")

	cfg := DefaultConfig()
	cfg.Survey.URL = "https://example.qualtrics.com/jfe/form/SV_xyz"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Survey.URL, loaded.Survey.URL)
}
