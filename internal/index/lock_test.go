package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_TryLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	first := NewFileLock(dir)
	second := NewFileLock(dir)

	assert.Equal(t, filepath.Join(dir, LockFileName), first.Path())

	// Given: the first lock is held
	ok, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, first.IsLocked())

	// When: a second lock tries the same file
	ok, err = second.TryLock()

	// Then: it is refused until the first releases
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, second.IsLocked())

	require.NoError(t, first.Unlock())
	ok, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock())
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	l := NewFileLock(t.TempDir())
	assert.NoError(t, l.Unlock())
	assert.False(t, l.IsLocked())
}
