package manifest_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/manifest"
	"github.com/TheMichaelB/wikisync/internal/models"
)

func testLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

func sampleManifest() *models.Manifest {
	m := models.NewManifest("https://wiki.example.com")
	m.Put("handbook/intro", &models.TrackedPage{
		Path: "handbook/intro.md",
		Page: models.Page{
			ID:        1,
			Name:      "Intro",
			Slug:      "intro",
			BookID:    3,
			BookSlug:  "handbook",
			UpdatedAt: "2024-01-01T00:00:00.000000Z",
			Editor:    "markdown",
		},
		LastSyncedMtime: time.Date(2024, 1, 1, 10, 30, 0, 123456789, time.UTC),
	})
	m.Put("guides/setup", &models.TrackedPage{
		Path: "guides/setup.md",
		Page: models.Page{
			ID:        2,
			Name:      "Setup ✓",
			Slug:      "setup",
			BookID:    4,
			BookSlug:  "guides",
			ChapterID: 9,
			UpdatedAt: "2024-01-02T00:00:00.000000Z",
		},
		LastSyncedMtime: time.Date(2024, 1, 2, 9, 0, 0, 0, time.FixedZone("CET", 3600)),
	})
	return m
}

func TestJSONStore(t *testing.T) {
	store, err := manifest.NewJSONStore(filepath.Join(t.TempDir(), ".bookstack.json"), testLogger())
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := manifest.NewSQLiteStore(filepath.Join(t.TempDir(), "manifest.db"), testLogger())
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func testStoreOperations(t *testing.T, store manifest.Store) {
	t.Run("load non-existent", func(t *testing.T) {
		_, err := store.Load()
		assert.ErrorIs(t, err, manifest.ErrNotFound)
		assert.ErrorIs(t, err, models.ErrManifestNotFound)
	})

	t.Run("save and load", func(t *testing.T) {
		want := sampleManifest()
		require.NoError(t, store.Save(want))

		loaded, err := store.Load()
		require.NoError(t, err)

		assert.Equal(t, want.URL, loaded.URL)
		assert.Equal(t, want.Keys(), loaded.Keys())
		for _, k := range want.Keys() {
			assert.Equal(t, want.Get(k).Path, loaded.Get(k).Path)
			assert.Equal(t, want.Get(k).Page, loaded.Get(k).Page)
			assert.True(t, want.Get(k).LastSyncedMtime.Equal(loaded.Get(k).LastSyncedMtime), "mtime of %s", k)
		}
	})

	t.Run("replace drops removed entries", func(t *testing.T) {
		m := sampleManifest()
		delete(m.Pages, "guides/setup")
		m.Get("handbook/intro").Page.UpdatedAt = "2024-03-01T00:00:00.000000Z"
		require.NoError(t, store.Save(m))

		loaded, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, []models.Key{"handbook/intro"}, loaded.Keys())
		assert.Equal(t, "2024-03-01T00:00:00.000000Z", loaded.Get("handbook/intro").Page.UpdatedAt)
	})

	t.Run("empty manifest", func(t *testing.T) {
		require.NoError(t, store.Save(models.NewManifest("https://wiki.example.com")))

		loaded, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, 0, loaded.Len())
		assert.NotNil(t, loaded.Pages)
	})

	t.Run("invalid manifest is not saved", func(t *testing.T) {
		m := sampleManifest()
		m.Put("handbook/other", m.Get("handbook/intro"))
		assert.Error(t, store.Save(m))

		loaded, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, 0, loaded.Len())
	})
}

func TestJSONStoreFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".bookstack.json")
	store, err := manifest.NewJSONStore(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleManifest()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(1), raw["schema_version"])
	assert.Equal(t, "https://wiki.example.com", raw["url"])
	assert.NotEmpty(t, raw["checksum"])

	pages := raw["pages"].(map[string]interface{})
	intro := pages["handbook/intro"].(map[string]interface{})
	assert.Equal(t, "handbook/intro.md", intro["path"])
	assert.Equal(t, "2024-01-01T10:30:00.123456789Z", intro["last_synced_mtime"])
}

func TestJSONStoreHandWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".bookstack.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"url": "https://wiki.example.com", "pages": {}}`), 0644))

	store, err := manifest.NewJSONStore(path, testLogger())
	require.NoError(t, err)

	m, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://wiki.example.com", m.URL)
	assert.Equal(t, 0, m.Len())
}

func TestJSONStoreCorruption(t *testing.T) {
	tests := []struct {
		name    string
		content func(t *testing.T, valid []byte) []byte
	}{
		{
			name: "not json",
			content: func(t *testing.T, valid []byte) []byte {
				return []byte("{not json")
			},
		},
		{
			name: "checksum mismatch",
			content: func(t *testing.T, valid []byte) []byte {
				return bytes.Replace(valid, []byte("Setup ✓"), []byte("Tampered"), 1)
			},
		},
		{
			name: "missing url",
			content: func(t *testing.T, valid []byte) []byte {
				return []byte(`{"pages": {}}`)
			},
		},
		{
			name: "key does not match page",
			content: func(t *testing.T, valid []byte) []byte {
				return []byte(`{"url": "https://w", "pages": {"a/b": {"path": "a/b.md", "page": {"id": 1, "slug": "c", "book_slug": "a"}}}}`)
			},
		},
		{
			name: "future schema",
			content: func(t *testing.T, valid []byte) []byte {
				return []byte(`{"schema_version": 99, "url": "https://w", "pages": {}}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ".bookstack.json")
			store, err := manifest.NewJSONStore(path, testLogger())
			require.NoError(t, err)
			require.NoError(t, store.Save(sampleManifest()))

			valid, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tt.content(t, valid), 0644))

			_, err = store.Load()
			assert.ErrorIs(t, err, manifest.ErrCorrupt)
		})
	}
}

func TestJSONStoreBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".bookstack.json")
	store, err := manifest.NewJSONStore(path, testLogger())
	require.NoError(t, err)

	first := sampleManifest()
	require.NoError(t, store.Save(first))
	firstData, err := os.ReadFile(path)
	require.NoError(t, err)

	second := sampleManifest()
	delete(second.Pages, "guides/setup")
	require.NoError(t, store.Save(second))

	backup, err := os.ReadFile(path + ".backup")
	require.NoError(t, err)
	assert.Equal(t, firstData, backup)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp.")
	}

	store.SetBackup(false)
	require.NoError(t, os.Remove(path+".backup"))
	require.NoError(t, store.Save(first))
	assert.NoFileExists(t, path+".backup")
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := manifest.Open(filepath.Join(dir, ".bookstack.json"), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &manifest.JSONStore{}, s)
	require.NoError(t, s.Close())

	s, err = manifest.Open(filepath.Join(dir, "manifest.sqlite"), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &manifest.SQLiteStore{}, s)
	require.NoError(t, s.Close())

	assert.True(t, manifest.IsSQLite("x.DB"))
	assert.False(t, manifest.IsSQLite(".bookstack.json"))
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()

	src, err := manifest.NewJSONStore(filepath.Join(dir, ".bookstack.json"), testLogger())
	require.NoError(t, err)
	require.NoError(t, src.Save(sampleManifest()))

	dst, err := manifest.NewSQLiteStore(filepath.Join(dir, "manifest.db"), testLogger())
	require.NoError(t, err)
	defer dst.Close()

	copied, err := manifest.Copy(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, copied.Len())

	loaded, err := dst.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleManifest().Keys(), loaded.Keys())

	_, err = manifest.Copy(manifest.NewMockStore(nil), dst)
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestMockStore(t *testing.T) {
	store := manifest.NewMockStore(sampleManifest())

	m, err := store.Load()
	require.NoError(t, err)
	m.Get("handbook/intro").Page.UpdatedAt = "changed"

	again, err := store.Load()
	require.NoError(t, err)
	assert.NotEqual(t, "changed", again.Get("handbook/intro").Page.UpdatedAt)

	require.NoError(t, store.Save(m))
	assert.Equal(t, 1, store.Saves)
}
