package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all surveyfill configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Survey describes the target form
	Survey SurveyConfig `yaml:"survey"`

	// Browser configures the Chrome session
	Browser BrowserConfig `yaml:"browser"`

	// Run configures the submission loop
	Run RunConfig `yaml:"run"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// SurveyConfig describes the Qualtrics form being driven.
type SurveyConfig struct {
	URL string `yaml:"url"`

	// Selectors. The defaults match the Qualtrics JFE renderer; they are
	// configurable because themed surveys occasionally rename them.
	CanvasSelector     string `yaml:"canvas_selector"`
	NextButtonSelector string `yaml:"next_button_selector"`
	ThankYouText       string `yaml:"thank_you_text"`

	CanvasTimeout string `yaml:"canvas_timeout"`

	// MaxSteps caps the page loop per row so a broken mapping can never
	// spin forever.
	MaxSteps int `yaml:"max_steps"`

	// StuckLimit aborts a row after this many consecutive steps where the
	// page signature did not change.
	StuckLimit int `yaml:"stuck_limit"`
}

// BrowserConfig configures the Chrome session manager.
type BrowserConfig struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"` // binary followed by flags
	Headless            bool     `yaml:"headless"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
	SessionStore        string   `yaml:"session_store"`
	ControlFile         string   `yaml:"control_file"`
}

// RunConfig configures the row loop.
type RunConfig struct {
	CSVPath     string `yaml:"csv_path"`
	MappingPath string `yaml:"mapping_path"`
	LedgerPath  string `yaml:"ledger_path"`

	// Retry controls per-row retry before the row is skipped.
	Retry RetryConfig `yaml:"retry"`

	// RowDelay is the pacing delay between rows.
	RowDelay string `yaml:"row_delay"`

	// Resume skips rows already recorded as done for the same CSV.
	Resume bool `yaml:"resume"`

	// WatchMapping reloads the mapping file between rows when it changes
	// on disk, so an operator can fix a rule mid-run.
	WatchMapping bool `yaml:"watch_mapping"`
}

// RetryConfig configures per-row retry with exponential backoff.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelay      string  `yaml:"initial_delay"`
	MaxDelay          string  `yaml:"max_delay"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text
	Debug      bool   `yaml:"debug"`  // enables category log files
	JSONFormat bool   `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "surveyfill",
		Version: "1.0.0",

		Survey: SurveyConfig{
			CanvasSelector:     "#survey-canvas",
			NextButtonSelector: "#next-button",
			ThankYouText:       "Thank you",
			CanvasTimeout:      "15s",
			MaxSteps:           120,
			StuckLimit:         3,
		},

		Browser: BrowserConfig{
			Headless:            false,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
			SessionStore:        filepath.Join(".surveyfill", "browser", "sessions.json"),
			ControlFile:         filepath.Join(".surveyfill", "browser", "control.txt"),
		},

		Run: RunConfig{
			CSVPath:     "data.csv",
			MappingPath: "mapping.yaml",
			LedgerPath:  filepath.Join(".surveyfill", "ledger.db"),
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialDelay:      "2s",
				MaxDelay:          "30s",
				BackoffMultiplier: 2.0,
			},
			RowDelay:     "1s",
			Resume:       true,
			WatchMapping: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing config file means defaults; env overrides still apply
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("SURVEYFILL_URL"); url != "" {
		c.Survey.URL = url
	}
	if path := os.Getenv("SURVEYFILL_CSV"); path != "" {
		c.Run.CSVPath = path
	}
	if path := os.Getenv("SURVEYFILL_MAPPING"); path != "" {
		c.Run.MappingPath = path
	}
	if path := os.Getenv("SURVEYFILL_LEDGER"); path != "" {
		c.Run.LedgerPath = path
	}
	if v := os.Getenv("SURVEYFILL_HEADLESS"); v != "" {
		if headless, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = headless
		}
	}
	if url := os.Getenv("SURVEYFILL_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
}

// GetCanvasTimeout returns the survey canvas wait timeout as a duration.
func (c *Config) GetCanvasTimeout() time.Duration {
	d, err := time.ParseDuration(c.Survey.CanvasTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetNavigationTimeout returns the browser navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	if c.Browser.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Browser.NavigationTimeoutMs) * time.Millisecond
}

// GetRowDelay returns the pacing delay between rows.
func (c *Config) GetRowDelay() time.Duration {
	d, err := time.ParseDuration(c.Run.RowDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// InitialDelayDuration returns the initial retry delay.
func (c *RetryConfig) InitialDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.InitialDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// MaxDelayDuration returns the retry delay ceiling.
func (c *RetryConfig) MaxDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.MaxDelay)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
