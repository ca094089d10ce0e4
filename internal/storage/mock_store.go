package storage

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type mockFile struct {
	data    []byte
	modTime time.Time
}

// MockStore is an in-memory FileStore for tests. Its clock advances by one
// second on every write so consecutive edits always change the mtime.
type MockStore struct {
	mu    sync.RWMutex
	files map[string]*mockFile
	dirs  map[string]bool
	now   time.Time

	// FailWrite makes Write fail for the listed paths.
	FailWrite map[string]error
}

// NewMockStore creates a mock file store.
func NewMockStore() *MockStore {
	return &MockStore{
		files:     make(map[string]*mockFile),
		dirs:      make(map[string]bool),
		now:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		FailWrite: make(map[string]error),
	}
}

// Root returns a fixed fake root.
func (m *MockStore) Root() string {
	return "/mock"
}

func (m *MockStore) tick() time.Time {
	m.now = m.now.Add(time.Second)
	return m.now
}

// Write saves data to a file.
func (m *MockStore) Write(p string, data []byte, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean(p)
	if err := m.FailWrite[p]; err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[p] = &mockFile{data: buf, modTime: m.tick()}

	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
	return nil
}

// Read retrieves file contents.
func (m *MockStore) Read(p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if f, ok := m.files[path.Clean(p)]; ok {
		result := make([]byte, len(f.data))
		copy(result, f.data)
		return result, nil
	}

	return nil, fmt.Errorf("file not found: %s: %w", p, os.ErrNotExist)
}

// Delete removes a file.
func (m *MockStore) Delete(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, path.Clean(p))
	return nil
}

// Exists checks if a file exists.
func (m *MockStore) Exists(p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p = path.Clean(p)
	_, file := m.files[p]
	return file || m.dirs[p], nil
}

// Stat returns file information.
func (m *MockStore) Stat(p string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p = path.Clean(p)
	if f, ok := m.files[p]; ok {
		return FileInfo{
			Path:    p,
			Size:    int64(len(f.data)),
			Mode:    0644,
			ModTime: f.modTime,
		}, nil
	}

	if m.dirs[p] {
		return FileInfo{
			Path:  p,
			Mode:  os.ModeDir | 0755,
			IsDir: true,
		}, nil
	}

	return FileInfo{}, fmt.Errorf("stat file: %s: %w", p, os.ErrNotExist)
}

// SetModTime updates file modification time.
func (m *MockStore) SetModTime(p string, modTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[path.Clean(p)]; ok {
		f.modTime = modTime
		return nil
	}

	return fmt.Errorf("file not found: %s: %w", p, os.ErrNotExist)
}

// ListPages returns <book>/<page>.md files, sorted by path.
func (m *MockStore) ListPages() ([]FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var files []FileInfo
	for p, f := range m.files {
		book, name, ok := strings.Cut(p, "/")
		if !ok || strings.Contains(name, "/") || SkipDir(book) || !isPageFile(name) {
			continue
		}
		files = append(files, FileInfo{
			Path:    p,
			Size:    int64(len(f.data)),
			Mode:    0644,
			ModTime: f.modTime,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// RemoveDirIfEmpty removes a directory with no files or subdirectories.
func (m *MockStore) RemoveDirIfEmpty(p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean(p)
	if !m.dirs[p] {
		return false, nil
	}

	prefix := p + "/"
	for f := range m.files {
		if strings.HasPrefix(f, prefix) {
			return false, nil
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, prefix) {
			return false, nil
		}
	}

	delete(m.dirs, p)
	return true, nil
}

// Helper methods for testing

// EnsureDir records a directory.
func (m *MockStore) EnsureDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dirs[path.Clean(p)] = true
}

// Touch bumps the mtime of a file as an editor save would.
func (m *MockStore) Touch(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[path.Clean(p)]; ok {
		f.modTime = m.tick()
	}
}

// FileExists checks if a file exists.
func (m *MockStore) FileExists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.files[path.Clean(p)]
	return exists
}

// DirExists checks if a directory is recorded.
func (m *MockStore) DirExists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.dirs[path.Clean(p)]
}

// Content returns file contents as a string, or "" when missing.
func (m *MockStore) Content(p string) string {
	data, err := m.Read(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// Paths returns all file paths, sorted.
func (m *MockStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clear removes all files and directories.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files = make(map[string]*mockFile)
	m.dirs = make(map[string]bool)
}
