package session

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession() Session {
	now := time.Now().Truncate(time.Second)

	return Session{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		Role:         "repartidor",
		UserID:       42,
		IssuedAt:     now,
		ExpiresAt:    now.Add(12 * time.Hour),
	}
}

func TestFileStore_SaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path, testLogger())

	want := testSession()
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.Equal(t, want.Role, got.Role)
	assert.Equal(t, want.UserID, got.UserID)
	assert.True(t, want.IssuedAt.Equal(got.IssuedAt))
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
}

func TestFileStore_LoadMissingYieldsAnonymous(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"), testLogger())

	got, err := store.Load()
	require.NoError(t, err)
	assert.True(t, got.IsAnonymous())
}

func TestFileStore_LoadCorruptClearsAndYieldsAnonymous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewFileStore(path, testLogger())

	got, err := store.Load()
	require.NoError(t, err)
	assert.True(t, got.IsAnonymous())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt file must be removed")
}

func TestFileStore_SaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "session.json")
	store := NewFileStore(path, testLogger())

	require.NoError(t, store.Save(testSession()))

	got, err := store.Load()
	require.NoError(t, err)
	assert.False(t, got.IsAnonymous())
}

func TestFileStore_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}

	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path, testLogger())

	require.NoError(t, store.Save(testSession()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestFileStore_ClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path, testLogger())

	require.NoError(t, store.Save(testSession()))
	require.NoError(t, store.Clear())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	got, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.True(t, got.IsAnonymous())
}

func TestFileStore_ClearMissingIsNoop(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"), testLogger())
	assert.NoError(t, store.Clear())
}

func TestFileStore_SaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path, testLogger())

	first := testSession()
	require.NoError(t, store.Save(first))

	second := first
	second.AccessToken = "rotated-token"
	require.NoError(t, store.Save(second))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "rotated-token", got.AccessToken)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "session.json", entries[0].Name())
}
