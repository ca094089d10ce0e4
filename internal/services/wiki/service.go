// Package wiki is the remote side of a sync: the pages and books of one
// BookStack instance.
package wiki

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/models"
	"github.com/TheMichaelB/wikisync/internal/transport"
)

// DefaultPageSize is the listing batch size when none is configured.
const DefaultPageSize = 100

// Directory is what the sync engine needs from the wiki. Listings are full
// snapshots; paging is handled underneath.
type Directory interface {
	ListPages(ctx context.Context) ([]models.Page, error)
	ListBooks(ctx context.Context) ([]models.Book, error)
	ExportMarkdown(ctx context.Context, pageID int) (string, error)
	CreatePage(ctx context.Context, book *models.Book, name, markdown string) (*models.Page, error)
	UpdatePage(ctx context.Context, page *models.Page, markdown string) (*models.PageDetail, error)
	DeletePage(ctx context.Context, pageID int) error
}

// Targetable is implemented by directories that can be pointed at the wiki
// a manifest belongs to.
type Targetable interface {
	BaseURL() string
	SetBaseURL(baseURL string)
}

// Service implements Directory over the BookStack REST API.
type Service struct {
	transport transport.Transport
	logger    *events.Logger
	pageSize  int

	// Cache
	mu        sync.RWMutex
	bookSlugs map[int]string
}

// NewService creates a wiki service.
func NewService(transport transport.Transport, pageSize int, logger *events.Logger) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Service{
		transport: transport,
		logger:    logger.WithField("service", "wiki"),
		pageSize:  pageSize,
		bookSlugs: make(map[int]string),
	}
}

// listing is one batch of a paged BookStack listing.
type listing[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// listAll follows count/offset paging until total items were read.
func listAll[T any](ctx context.Context, t transport.Transport, path string, pageSize int) ([]T, error) {
	var all []T
	for offset := 0; ; {
		query := url.Values{
			"count":  {strconv.Itoa(pageSize)},
			"offset": {strconv.Itoa(offset)},
		}

		var batch listing[T]
		if err := t.GetJSON(ctx, path, query, &batch); err != nil {
			return nil, err
		}

		all = append(all, batch.Data...)
		offset += len(batch.Data)

		if len(batch.Data) == 0 || offset >= batch.Total {
			return all, nil
		}
	}
}

// ListPages fetches every page visible to the token. Instances that omit
// book_slug from the listing get it filled in from the book list.
func (s *Service) ListPages(ctx context.Context) ([]models.Page, error) {
	s.logger.Debug("Fetching page list")

	pages, err := listAll[models.Page](ctx, s.transport, "/api/pages", s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	missing := false
	for i := range pages {
		if pages[i].BookSlug == "" {
			missing = true
			break
		}
	}

	if missing {
		if err := s.fillBookSlugs(ctx, pages); err != nil {
			return nil, err
		}
	}

	s.logger.WithField("count", len(pages)).Info("Fetched pages")
	return pages, nil
}

func (s *Service) fillBookSlugs(ctx context.Context, pages []models.Page) error {
	s.mu.RLock()
	cached := len(s.bookSlugs) > 0
	s.mu.RUnlock()

	if !cached {
		if _, err := s.ListBooks(ctx); err != nil {
			return fmt.Errorf("list pages: %w", err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range pages {
		if pages[i].BookSlug != "" {
			continue
		}
		slug, ok := s.bookSlugs[pages[i].BookID]
		if !ok {
			return fmt.Errorf("list pages: page %d: book %d: %w", pages[i].ID, pages[i].BookID, models.ErrBookNotFound)
		}
		pages[i].BookSlug = slug
	}
	return nil
}

// ListBooks fetches every book and refreshes the slug cache.
func (s *Service) ListBooks(ctx context.Context) ([]models.Book, error) {
	s.logger.Debug("Fetching book list")

	books, err := listAll[models.Book](ctx, s.transport, "/api/books", s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	s.mu.Lock()
	s.bookSlugs = make(map[int]string, len(books))
	for _, b := range books {
		s.bookSlugs[b.ID] = b.Slug
	}
	s.mu.Unlock()

	s.logger.WithField("count", len(books)).Debug("Fetched books")
	return books, nil
}

// ExportMarkdown returns the raw markdown export of a page.
func (s *Service) ExportMarkdown(ctx context.Context, pageID int) (string, error) {
	text, err := s.transport.GetText(ctx, fmt.Sprintf("/api/pages/%d/export/markdown", pageID))
	if err != nil {
		return "", fmt.Errorf("export page %d: %w", pageID, err)
	}
	return text, nil
}

// CreatePage creates a page at the top level of book.
func (s *Service) CreatePage(ctx context.Context, book *models.Book, name, markdown string) (*models.Page, error) {
	req := models.CreatePageRequest{
		BookID:   book.ID,
		Name:     name,
		Markdown: markdown,
	}

	var detail models.PageDetail
	if err := s.transport.PostJSON(ctx, "/api/pages", req, &detail); err != nil {
		return nil, fmt.Errorf("create page %q in %s: %w", name, book.Slug, err)
	}

	page := detail.ToPage(book.Slug)

	s.logger.WithFields(map[string]interface{}{
		"id":  page.ID,
		"key": page.Key(),
	}).Debug("Created page")

	return &page, nil
}

// UpdatePage replaces the markdown of page and returns what the wiki stored.
func (s *Service) UpdatePage(ctx context.Context, page *models.Page, markdown string) (*models.PageDetail, error) {
	req := models.NewUpdateRequest(page, markdown)

	var detail models.PageDetail
	if err := s.transport.PutJSON(ctx, fmt.Sprintf("/api/pages/%d", page.ID), req, &detail); err != nil {
		return nil, fmt.Errorf("update page %d: %w", page.ID, err)
	}

	if detail.BookSlug == "" {
		s.mu.RLock()
		detail.BookSlug = s.bookSlugs[detail.BookID]
		s.mu.RUnlock()
	}

	return &detail, nil
}

// DeletePage moves a page to the wiki recycle bin.
func (s *Service) DeletePage(ctx context.Context, pageID int) error {
	if err := s.transport.Delete(ctx, fmt.Sprintf("/api/pages/%d", pageID)); err != nil {
		return fmt.Errorf("delete page %d: %w", pageID, err)
	}
	return nil
}

// BaseURL returns the wiki the service talks to.
func (s *Service) BaseURL() string {
	return s.transport.BaseURL()
}

// SetBaseURL points the service at another wiki.
func (s *Service) SetBaseURL(baseURL string) {
	s.transport.SetBaseURL(baseURL)
	s.ClearCache()
}

// ClearCache forgets cached book slugs.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookSlugs = make(map[int]string)
}
