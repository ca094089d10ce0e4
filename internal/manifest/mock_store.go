package manifest

import (
	"sync"

	"github.com/TheMichaelB/wikisync/internal/models"
)

// MockStore provides an in-memory Store for testing.
type MockStore struct {
	mu       sync.RWMutex
	manifest *models.Manifest

	// SaveErr, when set, is returned by Save.
	SaveErr error
	// Saves counts successful Save calls.
	Saves int
}

// NewMockStore creates a mock store, optionally holding m.
func NewMockStore(m *models.Manifest) *MockStore {
	s := &MockStore{}
	if m != nil {
		s.manifest = m.Clone()
	}
	return s
}

// Path returns a placeholder path.
func (s *MockStore) Path() string {
	return "memory"
}

// Load returns a copy of the held manifest.
func (s *MockStore) Load() (*models.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.manifest == nil {
		return nil, ErrNotFound
	}
	return s.manifest.Clone(), nil
}

// Save stores a copy of m.
func (s *MockStore) Save(m *models.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.manifest = m.Clone()
	s.Saves++
	return nil
}

// Close releases resources.
func (s *MockStore) Close() error {
	return nil
}
