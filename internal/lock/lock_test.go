package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_TryLockWritesPID(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")

	fl := NewFileLock(lockPath)
	require.NoError(t, fl.TryLock())
	defer fl.Unlock()

	pid, err := ReadPID(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestFileLock_DoubleLockRejected(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")

	fl1 := NewFileLock(lockPath)
	require.NoError(t, fl1.TryLock())
	defer fl1.Unlock()

	fl2 := NewFileLock(lockPath)
	err := fl2.TryLock()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}

func TestFileLock_UnlockAllowsRelock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")

	fl1 := NewFileLock(lockPath)
	require.NoError(t, fl1.TryLock())
	require.NoError(t, fl1.Unlock())

	_, err := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))

	fl2 := NewFileLock(lockPath)
	require.NoError(t, fl2.TryLock())
	require.NoError(t, fl2.Unlock())
}

func TestFileLock_DoubleUnlockSafe(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "daemon.lock"))
	require.NoError(t, fl.TryLock())
	require.NoError(t, fl.Unlock())
	assert.NoError(t, fl.Unlock())
}

func TestReadPID_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0600))

	_, err := ReadPID(path)
	assert.Error(t, err)
}
