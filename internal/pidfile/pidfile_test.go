package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "taskboard.pid")

	p, err := Acquire(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, p.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireRejectsLivePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskboard.pid")

	// Our own PID is always alive
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644))

	_, err := Acquire(path)
	assert.Error(t, err)
}

func TestAcquireReplacesStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskboard.pid")

	// Huge PIDs are outside the default pid_max
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0644))

	p, err := Acquire(path)
	require.NoError(t, err)
	defer p.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestAcquireReplacesGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskboard.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0644))

	p, err := Acquire(path)
	require.NoError(t, err)
	defer p.Release()
}
