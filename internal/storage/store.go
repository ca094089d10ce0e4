package storage

import (
	"os"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/TheMichaelB/wikisync/internal/models"
)

// FileStore is the local side of a sync: markdown files under a wiki root,
// addressed by slash paths relative to that root.
type FileStore interface {
	// Write saves data atomically, creating parent directories.
	Write(path string, data []byte, mode os.FileMode) error

	// Read retrieves file contents. A missing file yields an error matching
	// os.ErrNotExist.
	Read(path string) ([]byte, error)

	// Delete removes a file. Deleting a missing file is not an error.
	Delete(path string) error

	// Exists checks if a file exists.
	Exists(path string) (bool, error)

	// Stat returns file information. A missing file yields an error
	// matching os.ErrNotExist.
	Stat(path string) (FileInfo, error)

	// SetModTime updates file modification time.
	SetModTime(path string, modTime time.Time) error

	// ListPages returns every <book>/<page>.md file exactly two levels below
	// the root, skipping hidden and tool directories.
	ListPages() ([]FileInfo, error)

	// RemoveDirIfEmpty removes a directory when it has no entries left and
	// reports whether it did.
	RemoveDirIfEmpty(path string) (bool, error)

	// Root returns the wiki root the store is bound to.
	Root() string
}

// FileInfo contains file metadata.
type FileInfo struct {
	Path       string // Slash path relative to the root
	Size       int64
	Mode       os.FileMode
	ModTime    time.Time
	IsDir      bool
	IsSymlink  bool
	LinkTarget string
}

var ignoredDirs = mapset.NewSet(".git", ".hg", ".svn", ".idea", ".vscode")

// SkipDir reports whether a book-level directory is never scanned for pages.
func SkipDir(name string) bool {
	return ignoredDirs.Contains(name) || strings.HasPrefix(name, ".")
}

// isPageFile reports whether name is a candidate page file.
func isPageFile(name string) bool {
	return strings.HasSuffix(name, models.MarkdownExt) &&
		!strings.HasPrefix(name, ".") &&
		len(name) > len(models.MarkdownExt)
}
