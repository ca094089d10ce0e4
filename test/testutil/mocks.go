package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/wikisync/internal/models"
	"github.com/TheMichaelB/wikisync/internal/services/wiki"
)

var _ wiki.Directory = (*MockDirectory)(nil)

// MockDirectory mocks the wiki directory.
type MockDirectory struct {
	mock.Mock
}

// NewMockDirectory creates a directory mock with no expectations.
func NewMockDirectory() *MockDirectory {
	return &MockDirectory{}
}

func (m *MockDirectory) ListPages(ctx context.Context) ([]models.Page, error) {
	args := m.Called(ctx)
	if pages := args.Get(0); pages != nil {
		return pages.([]models.Page), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDirectory) ListBooks(ctx context.Context) ([]models.Book, error) {
	args := m.Called(ctx)
	if books := args.Get(0); books != nil {
		return books.([]models.Book), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDirectory) ExportMarkdown(ctx context.Context, pageID int) (string, error) {
	args := m.Called(ctx, pageID)
	return args.String(0), args.Error(1)
}

func (m *MockDirectory) CreatePage(ctx context.Context, book *models.Book, name, markdown string) (*models.Page, error) {
	args := m.Called(ctx, book, name, markdown)
	if page := args.Get(0); page != nil {
		return page.(*models.Page), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDirectory) UpdatePage(ctx context.Context, page *models.Page, markdown string) (*models.PageDetail, error) {
	args := m.Called(ctx, page, markdown)
	if detail := args.Get(0); detail != nil {
		return detail.(*models.PageDetail), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDirectory) DeletePage(ctx context.Context, pageID int) error {
	args := m.Called(ctx, pageID)
	return args.Error(0)
}
