package browser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Headless)
	assert.Equal(t, 1920, cfg.GetViewportWidth())
	assert.Equal(t, 1080, cfg.GetViewportHeight())
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout())
}

func TestConfigZeroValuesFallBack(t *testing.T) {
	var cfg Config
	assert.Equal(t, 1920, cfg.GetViewportWidth())
	assert.Equal(t, 1080, cfg.GetViewportHeight())
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout())

	cfg.NavigationTimeoutMs = 5000
	assert.Equal(t, 5*time.Second, cfg.NavigationTimeout())
}

func TestLoadSessionsMarksDetached(t *testing.T) {
	store := filepath.Join(t.TempDir(), "sessions.json")
	persisted := []Session{
		{ID: "abc", TargetID: "t1", URL: "https://example.com", Status: "active", CreatedAt: time.Now()},
	}
	data, err := json.Marshal(persisted)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store, data, 0644))

	m := NewSessionManager(Config{SessionStore: store})
	m.mu.Lock()
	require.NoError(t, m.loadSessionsLocked())
	m.mu.Unlock()

	meta, ok := m.GetSession("abc")
	require.True(t, ok)
	assert.Equal(t, "detached", meta.Status)

	// Detached sessions have no live page.
	page, ok := m.Page("abc")
	assert.True(t, ok)
	assert.Nil(t, page)
}

func TestLoadSessionsMissingStore(t *testing.T) {
	m := NewSessionManager(Config{SessionStore: filepath.Join(t.TempDir(), "nope.json")})
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NoError(t, m.loadSessionsLocked())
}

func TestPersistSessionsRoundTrip(t *testing.T) {
	store := filepath.Join(t.TempDir(), "state", "sessions.json")
	m := NewSessionManager(Config{SessionStore: store})
	m.sessions["s1"] = &sessionRecord{meta: Session{ID: "s1", URL: "u", Status: "active"}}

	require.NoError(t, m.persistSessions())

	data, err := os.ReadFile(store)
	require.NoError(t, err)
	var got []Session
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
}

func TestUpdateMetadata(t *testing.T) {
	m := NewSessionManager(Config{})
	m.sessions["s1"] = &sessionRecord{meta: Session{ID: "s1", Status: "active"}}

	m.UpdateMetadata("s1", func(s Session) Session {
		s.Status = "filling"
		return s
	})
	meta, ok := m.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, "filling", meta.Status)

	// Unknown IDs are ignored.
	m.UpdateMetadata("nope", func(s Session) Session { return s })
}

func TestListAndUnknownSession(t *testing.T) {
	m := NewSessionManager(Config{})
	assert.Empty(t, m.List())
	assert.False(t, m.IsConnected())

	_, ok := m.GetSession("missing")
	assert.False(t, ok)
	_, ok = m.Page("missing")
	assert.False(t, ok)

	assert.Error(t, m.CloseSession("missing"))
}
