package models

import (
	"fmt"
	"strings"
)

// Key identifies a page as "<book-slug>/<page-slug>" on both sides of a sync.
type Key string

// NewKey builds a key from a book and page slug.
func NewKey(bookSlug, pageSlug string) Key {
	return Key(bookSlug + "/" + pageSlug)
}

// BookSlug returns the book part of the key.
func (k Key) BookSlug() string {
	book, _, _ := strings.Cut(string(k), "/")
	return book
}

// PageSlug returns the page part of the key.
func (k Key) PageSlug() string {
	_, page, _ := strings.Cut(string(k), "/")
	return page
}

// Path returns the local slash path a downloaded page is written to.
func (k Key) Path() string {
	return string(k) + MarkdownExt
}

// MarkdownExt is the extension of every page file.
const MarkdownExt = ".md"

// Page is a page as listed by the wiki. UpdatedAt is compared verbatim and
// is the only remote change marker.
type Page struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	BookID        int    `json:"book_id"`
	BookSlug      string `json:"book_slug"`
	ChapterID     int    `json:"chapter_id"`
	Draft         bool   `json:"draft"`
	Template      bool   `json:"template"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	Priority      int    `json:"priority"`
	OwnedBy       int    `json:"owned_by"`
	CreatedBy     int    `json:"created_by"`
	UpdatedBy     int    `json:"updated_by"`
	RevisionCount int    `json:"revision_count"`
	Editor        string `json:"editor"`
}

// Key returns the compound identity of the page.
func (p *Page) Key() Key {
	return NewKey(p.BookSlug, p.Slug)
}

// URL returns the browser URL of the page on the wiki at baseURL.
func (p *Page) URL(baseURL string) string {
	return PageURL(baseURL, p.Key())
}

// PageURL returns the browser URL for a key.
func PageURL(baseURL string, key Key) string {
	return fmt.Sprintf("%s/books/%s/page/%s", strings.TrimRight(baseURL, "/"), key.BookSlug(), key.PageSlug())
}

// MergeUpdate copies the fields the wiki may normalise on write.
func (p *Page) MergeUpdate(d *PageDetail) {
	p.UpdatedAt = d.UpdatedAt
	p.BookID = d.BookID
	p.ChapterID = d.ChapterID
	p.Name = d.Name
	if d.BookSlug != "" {
		p.BookSlug = d.BookSlug
	}
	if d.RevisionCount > 0 {
		p.RevisionCount = d.RevisionCount
	}
}

// Book is a top level container of pages.
type Book struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	OwnedBy     int    `json:"owned_by"`
	CreatedBy   int    `json:"created_by"`
	UpdatedBy   int    `json:"updated_by"`
}

// UserRef is the expanded user object of single page responses.
type UserRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// PageDetail is the response of page create, read and update calls.
type PageDetail struct {
	ID            int       `json:"id"`
	BookID        int       `json:"book_id"`
	BookSlug      string    `json:"book_slug,omitempty"`
	ChapterID     int       `json:"chapter_id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Markdown      string    `json:"markdown"`
	Priority      int       `json:"priority"`
	CreatedAt     string    `json:"created_at"`
	UpdatedAt     string    `json:"updated_at"`
	CreatedBy     UserRef   `json:"created_by"`
	UpdatedBy     UserRef   `json:"updated_by"`
	OwnedBy       UserRef   `json:"owned_by"`
	RevisionCount int       `json:"revision_count"`
	Draft         bool      `json:"draft"`
	Template      bool      `json:"template"`
	Editor        string    `json:"editor"`
	Tags          []PageTag `json:"tags,omitempty"`
}

// PageTag is a name/value tag attached to a page.
type PageTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ToPage flattens the detail into a listing entry of the given book.
func (d *PageDetail) ToPage(bookSlug string) Page {
	if d.BookSlug != "" {
		bookSlug = d.BookSlug
	}
	return Page{
		ID:            d.ID,
		Name:          d.Name,
		Slug:          d.Slug,
		BookID:        d.BookID,
		BookSlug:      bookSlug,
		ChapterID:     d.ChapterID,
		Draft:         d.Draft,
		Template:      d.Template,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		Priority:      d.Priority,
		OwnedBy:       d.OwnedBy.ID,
		CreatedBy:     d.CreatedBy.ID,
		UpdatedBy:     d.UpdatedBy.ID,
		RevisionCount: d.RevisionCount,
		Editor:        d.Editor,
	}
}

// CreatePageRequest is the payload of a page create call.
type CreatePageRequest struct {
	BookID    int    `json:"book_id,omitempty"`
	ChapterID int    `json:"chapter_id,omitempty"`
	Name      string `json:"name"`
	Markdown  string `json:"markdown"`
}

// UpdatePageRequest is the payload of a page update call. A page lives in
// exactly one of a book or a chapter, so only one parent id is ever sent.
type UpdatePageRequest struct {
	BookID    int    `json:"book_id,omitempty"`
	ChapterID int    `json:"chapter_id,omitempty"`
	Name      string `json:"name"`
	Markdown  string `json:"markdown"`
	Priority  int    `json:"priority,omitempty"`
	Editor    string `json:"editor"`
}

// NewUpdateRequest builds the update payload for page with new markdown.
func NewUpdateRequest(page *Page, markdown string) UpdatePageRequest {
	req := UpdatePageRequest{
		Name:     page.Name,
		Markdown: markdown,
		Priority: page.Priority,
		Editor:   "markdown",
	}
	if page.ChapterID != 0 {
		req.ChapterID = page.ChapterID
	} else {
		req.BookID = page.BookID
	}
	return req
}
