package sync_test

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"

	"github.com/TheMichaelB/wikisync/internal/models"
	"github.com/TheMichaelB/wikisync/test/testutil"
)

type fakePage struct {
	page     models.Page
	markdown string
}

// fakeWiki is a stateful in-memory wiki directory.
type fakeWiki struct {
	mu        gosync.Mutex
	pages     map[int]*fakePage
	books     []models.Book
	nextID    int
	tick      int
	mutations []string
	requests  map[string]int

	failExport map[int]error
	failUpdate map[int]error
	failDelete map[int]error
	failBooks  error
}

func newFakeWiki() *fakeWiki {
	return &fakeWiki{
		pages:      make(map[int]*fakePage),
		books:      testutil.SampleBooks(),
		nextID:     1,
		tick:       1000,
		requests:   make(map[string]int),
		failExport: make(map[int]error),
		failUpdate: make(map[int]error),
		failDelete: make(map[int]error),
	}
}

func (w *fakeWiki) stamp() string {
	w.tick++
	return testutil.Stamp(w.tick)
}

// add creates a page directly on the wiki.
func (w *fakeWiki) add(bookSlug, slug, markdown string) models.Page {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	page := testutil.SamplePage(id, bookSlug, slug, 0)
	page.UpdatedAt = w.stamp()
	w.pages[id] = &fakePage{page: page, markdown: markdown}
	return page
}

// edit changes a page as a wiki user would.
func (w *fakeWiki) edit(id int, markdown string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p := w.pages[id]
	p.markdown = markdown
	p.page.UpdatedAt = w.stamp()
}

func (w *fakeWiki) remove(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pages, id)
}

func (w *fakeWiki) get(id int) (fakePage, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pages[id]
	if !ok {
		return fakePage{}, false
	}
	return *p, true
}

func (w *fakeWiki) find(key models.Key) (fakePage, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range w.pages {
		if p.page.Key() == key {
			return *p, true
		}
	}
	return fakePage{}, false
}

func (w *fakeWiki) mutationCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.mutations)
}

func (w *fakeWiki) calls(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests[name]
}

func (w *fakeWiki) ListPages(ctx context.Context) ([]models.Page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests["ListPages"]++

	pages := make([]models.Page, 0, len(w.pages))
	for _, p := range w.pages {
		pages = append(pages, p.page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	return pages, nil
}

func (w *fakeWiki) ListBooks(ctx context.Context) ([]models.Book, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests["ListBooks"]++

	if w.failBooks != nil {
		return nil, w.failBooks
	}
	return append([]models.Book(nil), w.books...), nil
}

func (w *fakeWiki) ExportMarkdown(ctx context.Context, pageID int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests["ExportMarkdown"]++

	if err := w.failExport[pageID]; err != nil {
		return "", err
	}
	p, ok := w.pages[pageID]
	if !ok {
		return "", &models.APIError{StatusCode: 404, Message: "not found"}
	}
	return "# " + p.page.Name + "\r\n\r\n" + p.markdown + "\r\n", nil
}

func (w *fakeWiki) CreatePage(ctx context.Context, book *models.Book, name, markdown string) (*models.Page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests["CreatePage"]++
	w.mutations = append(w.mutations, fmt.Sprintf("create %s/%s", book.Slug, name))

	id := w.nextID
	w.nextID++
	page := testutil.SamplePage(id, book.Slug, testutil.Slugify(name), 0)
	page.Name = name
	page.BookID = book.ID
	page.UpdatedAt = w.stamp()
	w.pages[id] = &fakePage{page: page, markdown: markdown}

	out := page
	return &out, nil
}

func (w *fakeWiki) UpdatePage(ctx context.Context, page *models.Page, markdown string) (*models.PageDetail, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests["UpdatePage"]++
	w.mutations = append(w.mutations, fmt.Sprintf("update %d", page.ID))

	if err := w.failUpdate[page.ID]; err != nil {
		return nil, err
	}
	p, ok := w.pages[page.ID]
	if !ok {
		return nil, &models.APIError{StatusCode: 404, Message: "not found"}
	}
	p.markdown = markdown
	p.page.UpdatedAt = w.stamp()

	return &models.PageDetail{
		ID:        p.page.ID,
		BookID:    p.page.BookID,
		ChapterID: p.page.ChapterID,
		Name:      p.page.Name,
		Slug:      p.page.Slug,
		Markdown:  markdown,
		UpdatedAt: p.page.UpdatedAt,
	}, nil
}

func (w *fakeWiki) DeletePage(ctx context.Context, pageID int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests["DeletePage"]++
	w.mutations = append(w.mutations, fmt.Sprintf("delete %d", pageID))

	if err := w.failDelete[pageID]; err != nil {
		return err
	}
	delete(w.pages, pageID)
	return nil
}
