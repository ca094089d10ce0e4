package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/models"
)

// document is the on-disk JSON layout.
type document struct {
	SchemaVersion int                                `json:"schema_version,omitempty"`
	URL           string                             `json:"url"`
	Pages         map[models.Key]*models.TrackedPage `json:"pages"`
	Checksum      string                             `json:"checksum,omitempty"`
}

func (d document) checksum() (string, error) {
	d.Checksum = ""
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// JSONStore implements file-based manifest storage.
type JSONStore struct {
	path   string
	backup bool
	logger *events.Logger

	mu sync.RWMutex
}

// NewJSONStore creates a JSON-based manifest store.
func NewJSONStore(path string, logger *events.Logger) (*JSONStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	return &JSONStore{
		path:   absPath,
		backup: true,
		logger: logger.WithField("component", "json_manifest_store"),
	}, nil
}

// SetBackup controls whether Save keeps the previous file as <path>.backup.
func (s *JSONStore) SetBackup(enabled bool) {
	s.backup = enabled
}

// Path returns the manifest file.
func (s *JSONStore) Path() string {
	return s.path
}

// Load reads the manifest from JSON file.
func (s *JSONStore) Load() (*models.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.logger.WithField("path", s.path).Debug("Loading manifest")

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read manifest file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, corrupt(fmt.Errorf("parse JSON: %w", err))
	}
	if doc.Pages == nil {
		doc.Pages = make(map[models.Key]*models.TrackedPage)
	}

	// Verify checksum if present
	if doc.Checksum != "" {
		calculated, err := doc.checksum()
		if err != nil {
			return nil, corrupt(err)
		}
		if calculated != doc.Checksum {
			s.logger.WithFields(map[string]interface{}{
				"expected": doc.Checksum,
				"actual":   calculated,
			}).Error("Manifest checksum mismatch")
			return nil, corrupt(errors.New("checksum mismatch"))
		}
	}

	if doc.SchemaVersion > CurrentSchemaVersion {
		return nil, corrupt(fmt.Errorf("schema version %d is newer than supported %d", doc.SchemaVersion, CurrentSchemaVersion))
	}

	m := &models.Manifest{URL: doc.URL, Pages: doc.Pages}
	if err := m.Validate(); err != nil {
		return nil, corrupt(err)
	}

	return m, nil
}

// Save writes the manifest to JSON file.
func (s *JSONStore) Save(m *models.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"path":  s.path,
		"pages": m.Len(),
	}).Debug("Saving manifest")

	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid manifest: %w", err)
	}

	doc := document{
		SchemaVersion: CurrentSchemaVersion,
		URL:           m.URL,
		Pages:         make(map[models.Key]*models.TrackedPage, m.Len()),
	}
	for k, t := range m.Pages {
		entry := *t
		entry.LastSyncedMtime = entry.LastSyncedMtime.UTC()
		doc.Pages[k] = &entry
	}

	checksum, err := doc.checksum()
	if err != nil {
		return fmt.Errorf("marshal manifest for checksum: %w", err)
	}
	doc.Checksum = checksum

	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	jsonData = append(jsonData, '\n')

	if s.backup {
		if _, err := os.Stat(s.path); err == nil {
			if err := copyFile(s.path, s.path+".backup"); err != nil {
				s.logger.WithError(err).Warn("Failed to create backup")
			}
		}
	}

	return writeAtomic(s.path, jsonData, 0644)
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

// writeAtomic replaces path with data via a synced temp file and rename.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename manifest file: %w", err)
	}

	success = true
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
