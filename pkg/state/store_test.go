package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationLatchIsOneWay(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenStore(dir)
	require.NoError(t, err)
	assert.False(t, st.HasMigrated())

	require.NoError(t, st.MarkMigrated())
	assert.True(t, st.HasMigrated())
	// a second call is a no-op, not an error
	require.NoError(t, st.MarkMigrated())

	// the latch survives a reopen
	st2, err := OpenStore(dir)
	require.NoError(t, err)
	assert.True(t, st2.HasMigrated())
}

func TestLastSyncRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenStore(dir)
	require.NoError(t, err)

	_, ok := st.LastSync()
	assert.False(t, ok)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetLastSync(ts))

	got, ok := st.LastSync()
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	st2, err := OpenStore(dir)
	require.NoError(t, err)
	got, ok = st2.LastSync()
	require.True(t, ok)
	assert.True(t, got.Equal(ts))
}

func TestMalformedStateFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{garbage"), 0o600))

	st, err := OpenStore(dir)
	require.NoError(t, err)
	assert.False(t, st.HasMigrated())
	_, ok := st.LastSync()
	assert.False(t, ok)
}

func TestEnsureStateDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	require.NoError(t, EnsureStateDirs(root))

	for _, p := range []string{PathsVar.Store, PathsVar.State, PathsVar.Legacy} {
		fi, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
		assert.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
	}
}

func TestEnsureStateDirsRejectsSymlink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real")
	require.NoError(t, os.MkdirAll(target, 0o700))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "store")))

	err := EnsureStateDirs(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlink")
}
