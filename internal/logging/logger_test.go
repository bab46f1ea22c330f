package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		CloseAll()
		optsMu.Lock()
		opts = Options{}
		logLevel = LevelInfo
		optsMu.Unlock()
		logsDir = ""
	})
}

func TestInitializeRequiresWorkspace(t *testing.T) {
	reset(t)
	assert.Error(t, Initialize("", Options{}))
}

func TestDisabledLoggingIsNoOp(t *testing.T) {
	reset(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Options{Debug: false}))

	l := Get(CategoryRunner)
	l.Info("nothing should be written")

	_, err := os.Stat(filepath.Join(dir, ".surveyfill", "logs"))
	assert.True(t, os.IsNotExist(err))
}

func TestGetBeforeInitializeIsSafe(t *testing.T) {
	reset(t)
	l := Get(CategoryBrowser)
	l.Debug("no-op")
	l.Warn("no-op")
	assert.False(t, IsDebugMode())
}

func TestDebugModeWritesCategoryFiles(t *testing.T) {
	reset(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Options{Debug: true, Level: "debug"}))

	Get(CategoryRunner).Info("row 1 submitted")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, ".surveyfill", "logs"))
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".log" {
			data, rerr := os.ReadFile(filepath.Join(dir, ".surveyfill", "logs", e.Name()))
			require.NoError(t, rerr)
			if strings.Contains(string(data), "row 1 submitted") {
				found = true
			}
		}
	}
	assert.True(t, found, "expected an entry in a category log file")
}

func TestLevelFiltering(t *testing.T) {
	reset(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Options{Debug: true, Level: "error"}))

	l := Get(CategoryMapping)
	l.Info("filtered out")
	l.Error("kept")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, ".surveyfill", "logs"))
	require.NoError(t, err)

	for _, e := range entries {
		if strings.Contains(e.Name(), string(CategoryMapping)) {
			data, rerr := os.ReadFile(filepath.Join(dir, ".surveyfill", "logs", e.Name()))
			require.NoError(t, rerr)
			assert.NotContains(t, string(data), "filtered out")
			assert.Contains(t, string(data), "kept")
		}
	}
}
