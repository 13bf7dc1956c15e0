package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxSize int64) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir(), maxSize, []string{"image/", "application/pdf"})
	require.NoError(t, err)
	return store
}

func TestStoreAndRemove(t *testing.T) {
	store := newTestStore(t, 1024)

	stored, err := store.Store(context.Background(), strings.NewReader("hello"), "pic.png", 5, "image/png")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stored.URL, "/files/"))
	assert.True(t, strings.HasSuffix(stored.Name, "_pic.png"))
	assert.EqualValues(t, 5, stored.Size)

	onDisk := filepath.Join(store.root, stored.Name)
	data, err := os.ReadFile(onDisk)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.Remove(context.Background(), stored.URL))
	_, err = os.Stat(onDisk)
	assert.True(t, os.IsNotExist(err))

	// removing again is a no-op, not an error
	require.NoError(t, store.Remove(context.Background(), stored.URL))
}

func TestStoreRejectsDeclaredOversize(t *testing.T) {
	store := newTestStore(t, 10)

	_, err := store.Store(context.Background(), strings.NewReader("x"), "big.png", 11, "image/png")
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestStoreRejectsActualOversize(t *testing.T) {
	store := newTestStore(t, 4)

	// declared size lies; the stream itself is over the limit
	_, err := store.Store(context.Background(), strings.NewReader("hello"), "pic.png", 3, "image/png")
	require.ErrorIs(t, err, ErrFileTooLarge)

	entries, err := os.ReadDir(store.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected upload must leave no partial file")
}

func TestStoreRejectsUnsupportedType(t *testing.T) {
	store := newTestStore(t, 1024)

	_, err := store.Store(context.Background(), strings.NewReader("MZ"), "run.exe", 2, "application/x-msdownload")
	require.ErrorIs(t, err, ErrUnsupportedMediaType)
}

func TestRemoveIgnoresForeignURLs(t *testing.T) {
	store := newTestStore(t, 1024)

	require.NoError(t, store.Remove(context.Background(), "https://elsewhere.example/file.png"))
	require.NoError(t, store.Remove(context.Background(), "/files/../etc/passwd"))
}

func TestStoreSanitizesName(t *testing.T) {
	store := newTestStore(t, 1024)

	stored, err := store.Store(context.Background(), strings.NewReader("x"), "../sneaky name.png", 1, "image/png")
	require.NoError(t, err)
	assert.NotContains(t, stored.Name, "..")
	assert.NotContains(t, stored.Name, " ")
}
