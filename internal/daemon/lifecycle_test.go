package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLifecycle(t *testing.T) *LifecycleManager {
	t.Helper()
	cfg := testConfig(t, filepath.Join(t.TempDir(), "data"))
	return NewLifecycleManager(&Daemon{config: cfg, logger: testLogger(t)})
}

func TestLifecycle_StartWritesPIDFile(t *testing.T) {
	l := newTestLifecycle(t)

	require.NoError(t, l.Start())

	pid, err := l.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, l.IsRunning())

	require.NoError(t, l.Stop())
	_, err = os.Stat(l.pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, l.IsRunning())

	// Removing a missing PID file is not an error.
	assert.NoError(t, l.Stop())
}

func TestLifecycle_StaleOwnPIDIsOverwritten(t *testing.T) {
	l := newTestLifecycle(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.pidFile), 0700))
	require.NoError(t, os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))

	assert.NoError(t, l.Start())
}

func TestLifecycle_RefusesLiveForeignPID(t *testing.T) {
	l := newTestLifecycle(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.pidFile), 0700))
	// PID 1 is always alive.
	require.NoError(t, os.WriteFile(l.pidFile, []byte("1"), 0644))

	err := l.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "ok.pid")
		require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0644))
		pid, err := ReadPID(path)
		require.NoError(t, err)
		assert.Equal(t, 4242, pid)
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "bad.pid")
		require.NoError(t, os.WriteFile(path, []byte("nope"), 0644))
		_, err := ReadPID(path)
		assert.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadPID(filepath.Join(dir, "missing.pid"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(1<<22+12345))
}
