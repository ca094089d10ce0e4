package manifest

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/models"
)

// SQLiteStore implements SQLite-based manifest storage.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *events.Logger

	mu sync.Mutex
}

// NewSQLiteStore creates a SQLite manifest store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	db, err := sql.Open("sqlite3", absPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		path:   absPath,
		logger: logger.WithField("component", "sqlite_manifest_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS manifest (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        url TEXT NOT NULL,
        schema_version INTEGER NOT NULL,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS pages (
        page_key TEXT PRIMARY KEY,
        page_id INTEGER NOT NULL,
        path TEXT NOT NULL,
        updated_at TEXT NOT NULL,
        last_synced_mtime TEXT NOT NULL,
        page TEXT NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_pages_path ON pages(path);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Load retrieves the manifest from database.
func (s *SQLiteStore) Load() (*models.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("path", s.path).Debug("Loading manifest from SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var url string
	var version int
	err = tx.QueryRow(`SELECT url, schema_version FROM manifest WHERE id = 1`).Scan(&url, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	if version > CurrentSchemaVersion {
		return nil, corrupt(fmt.Errorf("schema version %d is newer than supported %d", version, CurrentSchemaVersion))
	}

	m := models.NewManifest(url)

	rows, err := tx.Query(`
        SELECT page_key, path, last_synced_mtime, page
        FROM pages
    `)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, path, mtime, pageJSON string
		if err := rows.Scan(&key, &path, &mtime, &pageJSON); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}

		entry := &models.TrackedPage{Path: path}
		if err := json.Unmarshal([]byte(pageJSON), &entry.Page); err != nil {
			return nil, corrupt(fmt.Errorf("page %s: %w", key, err))
		}
		if entry.LastSyncedMtime, err = time.Parse(time.RFC3339Nano, mtime); err != nil {
			return nil, corrupt(fmt.Errorf("page %s: %w", key, err))
		}
		m.Put(models.Key(key), entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, corrupt(err)
	}

	return m, nil
}

// Save replaces the manifest in a single transaction.
func (s *SQLiteStore) Save(m *models.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"path":  s.path,
		"pages": m.Len(),
	}).Debug("Saving manifest to SQLite")

	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid manifest: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
        INSERT INTO manifest (id, url, schema_version, updated_at)
        VALUES (1, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(id) DO UPDATE SET
            url = excluded.url,
            schema_version = excluded.schema_version,
            updated_at = CURRENT_TIMESTAMP
    `, m.URL, CurrentSchemaVersion)
	if err != nil {
		return fmt.Errorf("upsert manifest: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM pages"); err != nil {
		return fmt.Errorf("delete old pages: %w", err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO pages (page_key, page_id, path, updated_at, last_synced_mtime, page)
        VALUES (?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, key := range m.Keys() {
		entry := m.Pages[key]
		pageJSON, err := json.Marshal(entry.Page)
		if err != nil {
			return fmt.Errorf("marshal page %s: %w", key, err)
		}

		if _, err := stmt.Exec(
			string(key),
			entry.Page.ID,
			entry.Path,
			entry.Page.UpdatedAt,
			entry.LastSyncedMtime.UTC().Format(time.RFC3339Nano),
			string(pageJSON),
		); err != nil {
			return fmt.Errorf("insert page %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
