package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/wikisync/internal/config"
	"github.com/TheMichaelB/wikisync/internal/models"
)

// Test tokens accepted by TestServer.
const (
	TestTokenID     = "test-token-id"
	TestTokenSecret = "test-token-secret"
)

// ServerPage is a page held by TestServer.
type ServerPage struct {
	Page     models.Page
	Markdown string
}

// TestServer is an in-process BookStack API with enough behaviour for
// end-to-end sync tests.
type TestServer struct {
	*httptest.Server

	mu       sync.Mutex
	books    map[int]*models.Book
	pages    map[int]*ServerPage
	nextID   int
	tick     int
	failures map[string]int
	requests []string

	// OmitBookSlug drops book_slug from page listings, as older instances do.
	OmitBookSlug bool
}

// NewTestServer creates and starts a fake wiki.
func NewTestServer() *TestServer {
	ts := &TestServer{
		books:    make(map[int]*models.Book),
		pages:    make(map[int]*ServerPage),
		nextID:   1,
		failures: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pages", ts.handleListPages)
	mux.HandleFunc("GET /api/books", ts.handleListBooks)
	mux.HandleFunc("GET /api/pages/{id}/export/markdown", ts.handleExport)
	mux.HandleFunc("POST /api/pages", ts.handleCreate)
	mux.HandleFunc("PUT /api/pages/{id}", ts.handleUpdate)
	mux.HandleFunc("DELETE /api/pages/{id}", ts.handleDelete)

	ts.Server = httptest.NewServer(ts.authenticate(mux))
	return ts
}

// AddBook creates a book.
func (ts *TestServer) AddBook(slug, name string) *models.Book {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	book := &models.Book{
		ID:        ts.newID(),
		Name:      name,
		Slug:      slug,
		CreatedAt: ts.now(),
		UpdatedAt: ts.now(),
	}
	ts.books[book.ID] = book
	return book
}

// AddPage creates a page in the book with the given slug.
func (ts *TestServer) AddPage(bookSlug, name, markdown string) models.Page {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	book := ts.bookBySlug(bookSlug)
	if book == nil {
		panic(fmt.Sprintf("testutil: no book %s", bookSlug))
	}
	return ts.createPage(book, name, markdown).Page
}

// EditPage replaces a page's markdown as a wiki user would.
func (ts *TestServer) EditPage(id int, markdown string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	p := ts.pages[id]
	p.Markdown = markdown
	p.Page.UpdatedAt = ts.now()
	p.Page.RevisionCount++
}

// RemovePage deletes a page as a wiki user would.
func (ts *TestServer) RemovePage(id int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.pages, id)
}

// Page returns a page by id.
func (ts *TestServer) Page(id int) (ServerPage, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	p, ok := ts.pages[id]
	if !ok {
		return ServerPage{}, false
	}
	return *p, true
}

// PageByKey returns a page by "<book>/<page>" key.
func (ts *TestServer) PageByKey(key models.Key) (ServerPage, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for _, p := range ts.pages {
		if p.Page.Key() == key {
			return *p, true
		}
	}
	return ServerPage{}, false
}

// PageCount returns the number of pages.
func (ts *TestServer) PageCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.pages)
}

// Fail makes requests matching "METHOD path" answer with status.
func (ts *TestServer) Fail(route string, status int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.failures[route] = status
}

// Requests returns "METHOD path" of every request served.
func (ts *TestServer) Requests() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.requests...)
}

// Mutations counts POST, PUT and DELETE requests.
func (ts *TestServer) Mutations() int {
	n := 0
	for _, r := range ts.Requests() {
		if !strings.HasPrefix(r, http.MethodGet+" ") {
			n++
		}
	}
	return n
}

// ResetRequests forgets recorded requests.
func (ts *TestServer) ResetRequests() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.requests = nil
}

func (ts *TestServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path

		ts.mu.Lock()
		ts.requests = append(ts.requests, route)
		status := ts.failures[route]
		ts.mu.Unlock()

		if r.Header.Get("Authorization") != "Token "+TestTokenID+":"+TestTokenSecret {
			writeError(w, http.StatusUnauthorized, "The owner of the used API token does not have permission to make API calls")
			return
		}
		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (ts *TestServer) handleListPages(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	pages := make([]models.Page, 0, len(ts.pages))
	for _, p := range ts.pages {
		page := p.Page
		if ts.OmitBookSlug {
			page.BookSlug = ""
		}
		pages = append(pages, page)
	}
	ts.mu.Unlock()

	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	writePaged(w, r, pages)
}

func (ts *TestServer) handleListBooks(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	books := make([]models.Book, 0, len(ts.books))
	for _, b := range ts.books {
		books = append(books, *b)
	}
	ts.mu.Unlock()

	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	writePaged(w, r, books)
}

func (ts *TestServer) handleExport(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	p, ok := ts.pageFromPath(r)
	var body string
	if ok {
		body = "# " + p.Page.Name + "\r\n\r\n" + p.Markdown
	}
	ts.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, body)
}

func (ts *TestServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "The given data was invalid.")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	book := ts.books[req.BookID]
	if book == nil {
		writeError(w, http.StatusNotFound, "Book not found")
		return
	}
	p := ts.createPage(book, req.Name, req.Markdown)
	writeJSON(w, ts.detail(p))
}

func (ts *TestServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "The given data was invalid.")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	p, ok := ts.pageFromPath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	_, hasBook := req["book_id"]
	_, hasChapter := req["chapter_id"]
	if hasBook && hasChapter {
		writeError(w, http.StatusUnprocessableEntity, "Only one of book_id or chapter_id may be given.")
		return
	}

	if md, ok := req["markdown"].(string); ok {
		p.Markdown = md
	}
	if name, ok := req["name"].(string); ok && name != "" {
		p.Page.Name = name
	}
	p.Page.UpdatedAt = ts.now()
	p.Page.RevisionCount++
	writeJSON(w, ts.detail(p))
}

func (ts *TestServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	p, ok := ts.pageFromPath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	delete(ts.pages, p.Page.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (ts *TestServer) pageFromPath(r *http.Request) (*ServerPage, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return nil, false
	}
	p, ok := ts.pages[id]
	return p, ok
}

func (ts *TestServer) createPage(book *models.Book, name, markdown string) *ServerPage {
	slug := ts.uniqueSlug(book.ID, Slugify(name))
	now := ts.now()
	p := &ServerPage{
		Page: models.Page{
			ID:            ts.newID(),
			Name:          name,
			Slug:          slug,
			BookID:        book.ID,
			BookSlug:      book.Slug,
			CreatedAt:     now,
			UpdatedAt:     now,
			OwnedBy:       1,
			CreatedBy:     1,
			UpdatedBy:     1,
			RevisionCount: 1,
			Editor:        "markdown",
		},
		Markdown: markdown,
	}
	ts.pages[p.Page.ID] = p
	return p
}

func (ts *TestServer) detail(p *ServerPage) models.PageDetail {
	user := models.UserRef{ID: 1, Name: "Admin", Slug: "admin"}
	return models.PageDetail{
		ID:            p.Page.ID,
		BookID:        p.Page.BookID,
		ChapterID:     p.Page.ChapterID,
		Name:          p.Page.Name,
		Slug:          p.Page.Slug,
		Markdown:      p.Markdown,
		CreatedAt:     p.Page.CreatedAt,
		UpdatedAt:     p.Page.UpdatedAt,
		CreatedBy:     user,
		UpdatedBy:     user,
		OwnedBy:       user,
		RevisionCount: p.Page.RevisionCount,
		Editor:        p.Page.Editor,
	}
}

func (ts *TestServer) bookBySlug(slug string) *models.Book {
	for _, b := range ts.books {
		if b.Slug == slug {
			return b
		}
	}
	return nil
}

func (ts *TestServer) uniqueSlug(bookID int, slug string) string {
	taken := make(map[string]bool)
	for _, p := range ts.pages {
		if p.Page.BookID == bookID {
			taken[p.Page.Slug] = true
		}
	}
	candidate := slug
	for i := 1; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s-%d", slug, i)
	}
	return candidate
}

func (ts *TestServer) newID() int {
	id := ts.nextID
	ts.nextID++
	return id
}

// now returns a strictly increasing timestamp in the wiki's format.
func (ts *TestServer) now() string {
	ts.tick++
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(ts.tick) * time.Second)
	return t.Format("2006-01-02T15:04:05.000000Z")
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify approximates the wiki's slug rules.
func Slugify(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func writePaged[T any](w http.ResponseWriter, r *http.Request, items []T) {
	total := len(items)
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count <= 0 {
		count = 100
	}

	if offset > total {
		offset = total
	}
	end := offset + count
	if end > total {
		end = total
	}

	writeJSON(w, map[string]interface{}{
		"data":  items[offset:end],
		"total": total,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
		},
	})
}

// TestHelpers provides common test utilities.
type TestHelpers struct {
	t       *testing.T
	tempDir string
}

// NewTestHelpers creates test helpers rooted at a fresh temp directory.
func NewTestHelpers(t *testing.T) *TestHelpers {
	return &TestHelpers{
		t:       t,
		tempDir: t.TempDir(),
	}
}

// TempDir returns the temporary directory.
func (h *TestHelpers) TempDir() string {
	return h.tempDir
}

// WriteFile creates a file below the temp directory.
func (h *TestHelpers) WriteFile(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.tempDir, filepath.FromSlash(name))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// AssertFileContent checks file content.
func (h *TestHelpers) AssertFileContent(name, expected string) {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.tempDir, filepath.FromSlash(name)))
	require.NoError(h.t, err)
	assert.Equal(h.t, expected, string(data))
}

// AssertFileNotExists checks file doesn't exist.
func (h *TestHelpers) AssertFileNotExists(name string) {
	h.t.Helper()
	_, err := os.Stat(filepath.Join(h.tempDir, filepath.FromSlash(name)))
	assert.True(h.t, os.IsNotExist(err), "file should not exist: %s", name)
}

// Backdate sets a file's mtime into the past so a later write always
// changes it, whatever the filesystem's timestamp resolution.
func (h *TestHelpers) Backdate(name string, d time.Duration) {
	h.t.Helper()
	path := filepath.Join(h.tempDir, filepath.FromSlash(name))
	when := time.Now().Add(-d)
	require.NoError(h.t, os.Chtimes(path, when, when))
}

// TestTimeout creates a context with timeout for tests.
func TestTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// TestContext creates a context with a default test timeout.
func TestContext() (context.Context, context.CancelFunc) {
	return TestTimeout(30 * time.Second)
}

// TestConfig returns a configuration pointed at a test server.
func TestConfig(serverURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = serverURL
	cfg.API.Timeout = 5 * time.Second
	cfg.API.RetryDelay = 10 * time.Millisecond
	cfg.API.PageSize = 2
	cfg.Auth.TokenID = TestTokenID
	cfg.Auth.TokenSecret = TestTokenSecret
	cfg.Log.Level = "debug"
	cfg.Log.Color = false
	return cfg
}

// LogOutput captures JSON log lines for assertions.
type LogOutput struct {
	mu    sync.Mutex
	lines []string
}

// LogEntry is one decoded log line.
type LogEntry map[string]interface{}

// NewLogOutput creates a log capture.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

func (lo *LogOutput) Write(p []byte) (n int, err error) {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		if line != "" {
			lo.lines = append(lo.lines, line)
		}
	}
	return len(p), nil
}

// Entries returns decoded log entries.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	var entries []LogEntry
	for _, line := range lo.lines {
		var e LogEntry
		if json.Unmarshal([]byte(line), &e) == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

// HasMessage reports whether any entry at level has exactly message.
func (lo *LogOutput) HasMessage(level, message string) bool {
	for _, e := range lo.Entries() {
		if e["level"] == level && e["msg"] == message {
			return true
		}
	}
	return false
}

// SkipIfShort skips the test in -short mode.
func SkipIfShort(t *testing.T, reason string) {
	if testing.Short() {
		t.Skip(reason)
	}
}
