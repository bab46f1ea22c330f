// Package main implements the surveyfill CLI commands.
// This file contains browser lifecycle commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"surveyfill/internal/browser"
	"surveyfill/internal/config"
	"surveyfill/internal/logging"
)

var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Browser lifecycle commands",
	Long: `Manage the Chrome instance surveyfill drives. Normally 'fill'
launches its own browser; these commands keep one running across
invocations, which is useful while debugging a mapping with
--headless=false.`,
}

var browserLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a browser and keep it running",
	RunE:  browserLaunch,
}

var browserSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known browser sessions",
	RunE:  browserSessions,
}

var browserOpenCmd = &cobra.Command{
	Use:   "open [url]",
	Short: "Open a URL in a new session",
	Args:  cobra.ExactArgs(1),
	RunE:  browserOpen,
}

func init() {
	browserCmd.AddCommand(browserLaunchCmd)
	browserCmd.AddCommand(browserSessionsCmd)
	browserCmd.AddCommand(browserOpenCmd)
}

// newSessionManager builds a session manager from the config, attaching
// to an already-launched browser when a control file is present.
func newSessionManager(cfg *config.Config) *browser.SessionManager {
	bcfg := browser.Config{
		DebuggerURL:         cfg.Browser.DebuggerURL,
		Launch:              cfg.Browser.Launch,
		Headless:            cfg.Browser.Headless,
		ViewportWidth:       cfg.Browser.ViewportWidth,
		ViewportHeight:      cfg.Browser.ViewportHeight,
		NavigationTimeoutMs: cfg.Browser.NavigationTimeoutMs,
		SessionStore:        resolvePath(cfg.Browser.SessionStore),
	}

	if bcfg.DebuggerURL == "" {
		controlFile := resolvePath(cfg.Browser.ControlFile)
		if data, err := os.ReadFile(controlFile); err == nil && len(data) > 0 {
			bcfg.DebuggerURL = strings.TrimSpace(string(data))
			logger.Info("Connecting to existing browser", zap.String("url", bcfg.DebuggerURL))
		}
	}
	return browser.NewSessionManager(bcfg)
}

func resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(resolveWorkspace(), path)
}

// browserLaunch starts a browser and blocks until interrupted. The
// control file lets later commands attach to the same instance.
func browserLaunch(cmd *cobra.Command, args []string) error {
	logger.Info("Launching browser")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr := newSessionManager(cfg)
	if err := mgr.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}

	controlFile := resolvePath(cfg.Browser.ControlFile)
	if err := os.MkdirAll(filepath.Dir(controlFile), 0o755); err == nil {
		if err := os.WriteFile(controlFile, []byte(mgr.ControlURL()), 0o644); err != nil {
			logging.Get(logging.CategoryBrowser).Warn("failed to write control file: %v", err)
		}
	}

	fmt.Printf("Browser launched. Control URL: %s\n", mgr.ControlURL())
	fmt.Printf("Control file: %s\n", controlFile)
	fmt.Println("Press Ctrl+C to shutdown")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := os.Remove(controlFile); err != nil && !os.IsNotExist(err) {
		logging.Get(logging.CategoryBrowser).Warn("failed to remove control file: %v", err)
	}
	if err := mgr.Shutdown(context.Background()); err != nil {
		logging.Get(logging.CategoryBrowser).Warn("shutdown: %v", err)
	}
	return nil
}

// browserSessions lists sessions from the persisted store.
func browserSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	mgr := newSessionManager(cfg)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	sessions := mgr.List()
	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("  %s  [%s] %s\n", s.ID, s.Status, s.URL)
	}
	return nil
}

// browserOpen creates a session pointed at a URL and leaves it open.
func browserOpen(cmd *cobra.Command, args []string) error {
	url := args[0]
	logger.Info("Creating browser session", zap.String("url", url))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	mgr := newSessionManager(cfg)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}

	session, err := mgr.CreateSession(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	fmt.Printf("Session created: %s\n", session.ID)
	fmt.Printf("Target ID: %s\n", session.TargetID)
	fmt.Printf("URL: %s\n", session.URL)
	return nil
}
