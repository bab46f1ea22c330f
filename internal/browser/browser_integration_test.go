//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"surveyfill/internal/browser"
)

func TestSessionManagerLifecycle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "<html><body><h1>Hello</h1></body></html>")
	}))
	defer ts.Close()

	cfg := browser.DefaultConfig()
	cfg.Headless = true
	cfg.NavigationTimeoutMs = 10000

	sm := browser.NewSessionManager(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	defer func() {
		if err := sm.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown error: %v", err)
		}
	}()

	require.NoError(t, sm.Start(ctx))
	require.True(t, sm.IsConnected())
	require.NotEmpty(t, sm.ControlURL())

	session, err := sm.CreateSession(ctx, ts.URL)
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	require.Equal(t, ts.URL, session.URL)

	retrieved, ok := sm.GetSession(session.ID)
	require.True(t, ok)
	require.Equal(t, "active", retrieved.Status)

	require.NoError(t, sm.Navigate(ctx, session.ID, ts.URL+"/page2"))

	page, ok := sm.Page(session.ID)
	require.True(t, ok)
	require.NotNil(t, page)

	shot, err := sm.Screenshot(ctx, session.ID, false)
	require.NoError(t, err)
	require.NotEmpty(t, shot)

	require.NoError(t, sm.CloseSession(session.ID))
	_, ok = sm.GetSession(session.ID)
	require.False(t, ok)
}

func TestAttachRebindsToExistingTarget(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "<html><body><h1>Open page</h1></body></html>")
	}))
	defer ts.Close()

	cfg := browser.DefaultConfig()
	sm := browser.NewSessionManager(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer func() { _ = sm.Shutdown(context.Background()) }()

	require.NoError(t, sm.Start(ctx))
	original, err := sm.CreateSession(ctx, ts.URL)
	require.NoError(t, err)

	attached, err := sm.Attach(ctx, original.TargetID)
	require.NoError(t, err)
	require.NotEqual(t, original.ID, attached.ID)
	require.Equal(t, "attached", attached.Status)

	page, ok := sm.Page(attached.ID)
	require.True(t, ok)
	require.NotNil(t, page)
}
