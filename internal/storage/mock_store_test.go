package storage_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/wikisync/internal/storage"
)

var _ storage.FileStore = (*storage.MockStore)(nil)
var _ storage.FileStore = (*storage.LocalStore)(nil)

func TestMockStoreClock(t *testing.T) {
	store := storage.NewMockStore()

	require.NoError(t, store.Write("book/a.md", []byte("one"), 0644))
	first, err := store.Stat("book/a.md")
	require.NoError(t, err)

	require.NoError(t, store.Write("book/a.md", []byte("one"), 0644))
	second, err := store.Stat("book/a.md")
	require.NoError(t, err)
	assert.True(t, second.ModTime.After(first.ModTime))

	store.Touch("book/a.md")
	third, err := store.Stat("book/a.md")
	require.NoError(t, err)
	assert.True(t, third.ModTime.After(second.ModTime))
	assert.Equal(t, "one", store.Content("book/a.md"))
}

func TestMockStoreListAndDirs(t *testing.T) {
	store := storage.NewMockStore()

	for _, p := range []string{"handbook/intro.md", "handbook/sub/deep.md", ".git/x.md", "top.md", "handbook/notes.txt"} {
		require.NoError(t, store.Write(p, []byte("x"), 0644))
	}

	files, err := store.ListPages()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "handbook/intro.md", files[0].Path)

	assert.True(t, store.DirExists("handbook"))
	removed, err := store.RemoveDirIfEmpty("handbook")
	require.NoError(t, err)
	assert.False(t, removed)

	store.EnsureDir("empty")
	removed, err = store.RemoveDirIfEmpty("empty")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, store.DirExists("empty"))
}

func TestMockStoreErrors(t *testing.T) {
	store := storage.NewMockStore()

	_, err := store.Read("nope.md")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = store.Stat("nope.md")
	assert.ErrorIs(t, err, os.ErrNotExist)

	boom := errors.New("disk full")
	store.FailWrite["book/a.md"] = boom
	assert.ErrorIs(t, store.Write("book/a.md", []byte("x"), 0644), boom)
	assert.False(t, store.FileExists("book/a.md"))
}
