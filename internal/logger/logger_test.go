package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelNone, ParseLevel("none"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := New(LevelWarn, path, "")
	require.NoError(t, err)
	defer l.Close()

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	l.Error("error line")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, "error line")
}

func TestWithPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := New(LevelInfo, path, "ws")
	require.NoError(t, err)
	defer l.Close()

	l.WithPrefix("session").Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[ws:session] hello")
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := New(LevelError, path, "")
	require.NoError(t, err)
	defer l.Close()

	l.Info("before")
	l.SetLevel(LevelInfo)
	l.Info("after")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.TrimSpace(string(data))
	assert.NotContains(t, lines, "before")
	assert.Contains(t, lines, "after")
}

func TestLevelNoneDiscards(t *testing.T) {
	l, err := New(LevelNone, filepath.Join(t.TempDir(), "unused.log"), "")
	require.NoError(t, err)
	defer l.Close()

	// Nothing to assert beyond not panicking; LevelNone writes nowhere
	l.Error("dropped")
	assert.Equal(t, LevelNone, l.GetLevel())
}
