package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/TheMichaelB/wikisync/internal/events"
)

// LocalStore implements FileStore on the local filesystem.
type LocalStore struct {
	baseDir string
	logger  *events.Logger

	allowSymlinks bool
	maxPathLength int
	maxFileSize   int64
}

// NewLocalStore creates a filesystem store rooted at baseDir.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	maxPath := 4096
	if runtime.GOOS == "windows" {
		maxPath = 260
	}

	return &LocalStore{
		baseDir:       absPath,
		logger:        logger.WithField("component", "local_store"),
		allowSymlinks: false,
		maxPathLength: maxPath,
		maxFileSize:   32 * 1024 * 1024,
	}, nil
}

// SetMaxFileSize sets the largest page file accepted on write.
func (s *LocalStore) SetMaxFileSize(size int64) {
	s.maxFileSize = size
}

// Root returns the absolute wiki root.
func (s *LocalStore) Root() string {
	return s.baseDir
}

// Write saves data to a file atomically.
func (s *LocalStore) Write(path string, data []byte, mode os.FileMode) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"path": path,
		"size": len(data),
	}).Debug("Writing file")

	if int64(len(data)) > s.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max: %d)", len(data), s.maxFileSize)
	}

	parentDir := filepath.Dir(safePath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	// Temp file lives next to the target so the rename stays on one device.
	tempFile, err := os.CreateTemp(parentDir, "."+filepath.Base(safePath)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, safePath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}

// Read retrieves file contents.
func (s *LocalStore) Read(path string) ([]byte, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return nil, fmt.Errorf("sanitize path: %w", err)
	}

	if !s.allowSymlinks {
		stat, err := os.Lstat(safePath)
		if err == nil && stat.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("symlinks not allowed: %s", path)
		}
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s: %w", path, os.ErrNotExist)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// Delete removes a file.
func (s *LocalStore) Delete(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithField("path", path).Debug("Deleting file")

	if err := os.Remove(safePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("delete file: %w", err)
	}

	return nil
}

// Exists checks if a file exists.
func (s *LocalStore) Exists(path string) (bool, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return false, fmt.Errorf("sanitize path: %w", err)
	}

	_, err = os.Stat(safePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Stat returns file information.
func (s *LocalStore) Stat(path string) (FileInfo, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("sanitize path: %w", err)
	}

	stat, err := os.Lstat(safePath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat file: %w", err)
	}

	info := FileInfo{
		Path:      path,
		Size:      stat.Size(),
		Mode:      stat.Mode(),
		ModTime:   stat.ModTime(),
		IsDir:     stat.IsDir(),
		IsSymlink: stat.Mode()&os.ModeSymlink != 0,
	}

	if info.IsSymlink {
		target, err := os.Readlink(safePath)
		if err == nil {
			info.LinkTarget = target
		}
	}

	return info, nil
}

// SetModTime updates file modification time.
func (s *LocalStore) SetModTime(path string, modTime time.Time) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	return os.Chtimes(safePath, time.Now(), modTime)
}

// ListPages returns <book>/<page>.md files under the root, sorted by path.
func (s *LocalStore) ListPages() ([]FileInfo, error) {
	books, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read root directory: %w", err)
	}

	var files []FileInfo
	for _, book := range books {
		if !book.IsDir() || SkipDir(book.Name()) {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(s.baseDir, book.Name()))
		if err != nil {
			s.logger.WithError(err).WithField("book", book.Name()).Warn("Cannot read book directory")
			continue
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() || !isPageFile(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}

			files = append(files, FileInfo{
				Path:    path.Join(book.Name(), entry.Name()),
				Size:    info.Size(),
				Mode:    info.Mode(),
				ModTime: info.ModTime(),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// RemoveDirIfEmpty removes an empty directory below the root.
func (s *LocalStore) RemoveDirIfEmpty(path string) (bool, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return false, fmt.Errorf("sanitize path: %w", err)
	}
	if safePath == s.baseDir {
		return false, nil
	}

	entries, err := os.ReadDir(safePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read directory: %w", err)
	}
	if len(entries) > 0 {
		return false, nil
	}

	if err := os.Remove(safePath); err != nil {
		return false, fmt.Errorf("remove directory: %w", err)
	}

	s.logger.WithField("path", path).Debug("Removed empty directory")
	return true, nil
}

// Helper methods

// sanitizePath validates and normalizes a file path.
func (s *LocalStore) sanitizePath(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null bytes")
	}

	normalized := filepath.FromSlash(path)
	cleaned := filepath.Clean(normalized)

	// Check for directory traversal
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("invalid path: contains '..'")
		}
	}

	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	fullPath := filepath.Join(s.baseDir, cleaned)

	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) && fullPath != s.baseDir {
		return "", fmt.Errorf("path escapes base directory")
	}

	if len(fullPath) > s.maxPathLength {
		return "", fmt.Errorf("path too long: %d characters (max: %d)", len(fullPath), s.maxPathLength)
	}

	if err := s.validatePlatformPath(cleaned); err != nil {
		return "", err
	}

	return fullPath, nil
}

// validatePlatformPath checks platform-specific path restrictions.
func (s *LocalStore) validatePlatformPath(path string) error {
	if runtime.GOOS != "windows" {
		return nil
	}

	reserved := []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4",
		"COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3",
		"LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}

	for _, part := range strings.Split(path, string(filepath.Separator)) {
		upperName := strings.ToUpper(strings.TrimSuffix(part, filepath.Ext(part)))
		for _, name := range reserved {
			if upperName == name {
				return fmt.Errorf("invalid path: contains reserved name '%s'", part)
			}
		}

		for _, char := range `<>:"|?*` {
			if strings.ContainsRune(part, char) {
				return fmt.Errorf("invalid path: contains character '%c'", char)
			}
		}
	}

	return nil
}
