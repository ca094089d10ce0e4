package storage_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/storage"
)

func newLocalStore(t *testing.T) (*storage.LocalStore, string) {
	t.Helper()
	tmpDir := t.TempDir()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := storage.NewLocalStore(tmpDir, logger)
	require.NoError(t, err)
	return store, tmpDir
}

func TestAtomicWrites(t *testing.T) {
	store, tmpDir := newLocalStore(t)

	t.Run("concurrent writes different files", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 10)

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()

				path := fmt.Sprintf("book/page-%d.md", n)
				data := fmt.Sprintf("content-%d", n)

				if err := store.Write(path, []byte(data), 0644); err != nil {
					errs <- err
				}
			}(i)
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("Write error: %v", err)
		}

		for i := 0; i < 10; i++ {
			data, err := store.Read(fmt.Sprintf("book/page-%d.md", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("content-%d", i), string(data))
		}
	})

	t.Run("overwrite replaces content", func(t *testing.T) {
		require.NoError(t, store.Write("book/over.md", []byte("original"), 0644))
		require.NoError(t, store.Write("book/over.md", []byte("new content"), 0644))

		data, err := store.Read("book/over.md")
		require.NoError(t, err)
		assert.Equal(t, "new content", string(data))
	})

	t.Run("size limit", func(t *testing.T) {
		store.SetMaxFileSize(1024)
		defer store.SetMaxFileSize(32 * 1024 * 1024)

		err := store.Write("book/large.md", []byte(strings.Repeat("b", 2048)), 0644)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "too large")

		exists, _ := store.Exists("book/large.md")
		assert.False(t, exists)
	})

	t.Run("write failure leaves no temp file", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "blocker", "inner"), 0755))

		err := store.Write("blocker", []byte("data"), 0644)
		assert.Error(t, err)

		entries, err := os.ReadDir(tmpDir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp.", "found temp file")
		}
	})
}

func TestReadMissing(t *testing.T) {
	store, _ := newLocalStore(t)

	_, err := store.Read("book/missing.md")
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = store.Stat("book/missing.md")
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.NoError(t, store.Delete("book/missing.md"))
}

func TestModTime(t *testing.T) {
	store, _ := newLocalStore(t)
	require.NoError(t, store.Write("book/page.md", []byte("x"), 0644))

	when := time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetModTime("book/page.md", when))

	info, err := store.Stat("book/page.md")
	require.NoError(t, err)
	assert.True(t, info.ModTime.Equal(when))
	assert.Equal(t, int64(1), info.Size)
}

func TestListPages(t *testing.T) {
	store, tmpDir := newLocalStore(t)

	for _, p := range []string{
		"handbook/intro.md",
		"handbook/faq.md",
		"guides/setup.md",
		"guides/notes.txt",
		"guides/.hidden.md",
		"guides/nested/deep.md",
		".git/config.md",
		".trash/workspace.md",
		"top.md",
	} {
		require.NoError(t, store.Write(p, []byte("x"), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "guides", "dir.md"), 0755))

	files, err := store.ListPages()
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
		assert.False(t, f.ModTime.IsZero())
	}
	assert.Equal(t, []string{"guides/setup.md", "handbook/faq.md", "handbook/intro.md"}, paths)
}

func TestRemoveDirIfEmpty(t *testing.T) {
	store, tmpDir := newLocalStore(t)

	require.NoError(t, store.Write("handbook/intro.md", []byte("x"), 0644))

	removed, err := store.RemoveDirIfEmpty("handbook")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, store.Delete("handbook/intro.md"))
	assert.DirExists(t, filepath.Join(tmpDir, "handbook"))

	removed, err = store.RemoveDirIfEmpty("handbook")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, filepath.Join(tmpDir, "handbook"))

	removed, err = store.RemoveDirIfEmpty("handbook")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = store.RemoveDirIfEmpty("")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.DirExists(t, tmpDir)
}
