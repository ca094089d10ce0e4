// Package manifest persists the record of what was last synchronised: one
// entry per page, keyed by "<book-slug>/<page-slug>".
package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/models"
)

// Store manages manifest persistence.
type Store interface {
	// Load reads the manifest.
	Load() (*models.Manifest, error)

	// Save replaces the persisted manifest as a whole.
	Save(m *models.Manifest) error

	// Path returns the file backing the store.
	Path() string

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrNotFound = models.ErrManifestNotFound
	ErrLocked   = errors.New("manifest is locked by another sync")
	ErrCorrupt  = errors.New("manifest is corrupt")
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// Open returns the store for path: SQLite for .db and .sqlite files, JSON
// otherwise.
func Open(path string, logger *events.Logger) (Store, error) {
	if IsSQLite(path) {
		return NewSQLiteStore(path, logger)
	}
	return NewJSONStore(path, logger)
}

// IsSQLite reports whether path selects the SQLite backend.
func IsSQLite(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// Copy loads the manifest from src and saves it to dst.
func Copy(src, dst Store) (*models.Manifest, error) {
	m, err := src.Load()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src.Path(), err)
	}

	if err := dst.Save(m); err != nil {
		return nil, fmt.Errorf("save %s: %w", dst.Path(), err)
	}

	return m, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}
