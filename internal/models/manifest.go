package models

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// TrackedPage is one manifest entry: where the page lives locally, what the
// wiki reported for it last time, and the file mtime at which local content
// was last known to match the wiki.
type TrackedPage struct {
	Path            string    `json:"path"`
	Page            Page      `json:"page"`
	LastSyncedMtime time.Time `json:"last_synced_mtime"`
}

// Key returns the identity of the tracked page.
func (t *TrackedPage) Key() Key {
	return t.Page.Key()
}

// Manifest is the persisted mapping of page keys to tracked pages.
type Manifest struct {
	URL   string               `json:"url"`
	Pages map[Key]*TrackedPage `json:"pages"`
}

// NewManifest creates an empty manifest for the wiki at url.
func NewManifest(url string) *Manifest {
	return &Manifest{
		URL:   strings.TrimRight(url, "/"),
		Pages: make(map[Key]*TrackedPage),
	}
}

// Get returns the entry for key, or nil.
func (m *Manifest) Get(key Key) *TrackedPage {
	if m.Pages == nil {
		return nil
	}
	return m.Pages[key]
}

// Put adds or replaces the entry for key.
func (m *Manifest) Put(key Key, page *TrackedPage) {
	if m.Pages == nil {
		m.Pages = make(map[Key]*TrackedPage)
	}
	m.Pages[key] = page
}

// Len returns the number of tracked pages.
func (m *Manifest) Len() int {
	return len(m.Pages)
}

// Keys returns all keys in sorted order.
func (m *Manifest) Keys() []Key {
	keys := make([]Key, 0, len(m.Pages))
	for k := range m.Pages {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// FindByPath returns the entry whose local path is relPath.
func (m *Manifest) FindByPath(relPath string) (Key, *TrackedPage, bool) {
	relPath = path.Clean(strings.ReplaceAll(relPath, "\\", "/"))
	for k, t := range m.Pages {
		if t.Path == relPath {
			return k, t, true
		}
	}
	return "", nil, false
}

// Link returns the wiki URL of the page stored at relPath. An optional
// ":<line>" suffix is accepted and ignored.
func (m *Manifest) Link(relPath string) (string, error) {
	if i := strings.LastIndex(relPath, ":"); i > 0 && isDigits(relPath[i+1:]) {
		relPath = relPath[:i]
	}
	key, _, ok := m.FindByPath(relPath)
	if !ok {
		return "", fmt.Errorf("%s: %w", relPath, ErrPageNotTracked)
	}
	return PageURL(m.URL, key), nil
}

// Validate checks the shape of a loaded manifest.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("url is required")
	}
	if m.Pages == nil {
		return fmt.Errorf("pages map cannot be nil")
	}

	paths := make(map[string]Key, len(m.Pages))
	for key, t := range m.Pages {
		if t == nil {
			return fmt.Errorf("page %s: entry is empty", key)
		}
		if t.Key() != key {
			return fmt.Errorf("page %s: entry belongs to %s", key, t.Key())
		}
		if strings.TrimSpace(t.Path) == "" {
			return fmt.Errorf("page %s: path is required", key)
		}
		p := path.Clean(t.Path)
		if other, dup := paths[p]; dup {
			return fmt.Errorf("path %s tracked as both %s and %s", p, other, key)
		}
		paths[p] = key
	}
	return nil
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := &Manifest{
		URL:   m.URL,
		Pages: make(map[Key]*TrackedPage, len(m.Pages)),
	}
	for k, t := range m.Pages {
		cp := *t
		clone.Pages[k] = &cp
	}
	return clone
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
