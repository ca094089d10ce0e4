package testutil

import (
	"bytes"
	"time"

	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/models"
)

// TestURL is the wiki URL used by fixtures.
const TestURL = "https://wiki.example.com"

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// Stamp returns a wiki updated_at value n seconds after a fixed epoch.
func Stamp(n int) string {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second)
	return t.Format("2006-01-02T15:04:05.000000Z")
}

// SamplePage builds a listed page in book with the given slug and stamp.
func SamplePage(id int, bookSlug, slug string, stamp int) models.Page {
	return models.Page{
		ID:            id,
		Name:          slug,
		Slug:          slug,
		BookID:        BookID(bookSlug),
		BookSlug:      bookSlug,
		CreatedAt:     Stamp(0),
		UpdatedAt:     Stamp(stamp),
		OwnedBy:       1,
		CreatedBy:     1,
		UpdatedBy:     1,
		RevisionCount: 1,
		Editor:        "markdown",
	}
}

// SampleBooks are the books behind SamplePage book slugs.
func SampleBooks() []models.Book {
	return []models.Book{
		{ID: 100, Name: "Guides", Slug: "guides"},
		{ID: 200, Name: "Reference", Slug: "reference"},
		{ID: 300, Name: "Notes", Slug: "notes"},
	}
}

// BookID returns the id of a sample book, or 0.
func BookID(slug string) int {
	for _, b := range SampleBooks() {
		if b.Slug == slug {
			return b.ID
		}
	}
	return 0
}

// Track builds a manifest entry for page as if it was synced at mtime.
func Track(page models.Page, mtime time.Time) *models.TrackedPage {
	return &models.TrackedPage{
		Path:            page.Key().Path(),
		Page:            page,
		LastSyncedMtime: mtime,
	}
}

// SampleExports are wiki markdown exports with the title heading.
var SampleExports = map[string]string{
	"plain":    "# Title\n\nbody",
	"crlf":     "# Title\r\n\r\nfirst\r\nsecond\r\n",
	"noheader": "just text\r\nmore",
	"subhead":  "## Not a title\n\ntext",
}
