package transport

import (
	"context"
	"net/url"

	"github.com/TheMichaelB/wikisync/internal/config"
	"github.com/TheMichaelB/wikisync/internal/events"
)

// Transport is the wire to a BookStack instance. Paths are relative to the
// wiki base URL, e.g. "/api/pages". Non-2xx answers surface as
// *models.APIError.
type Transport interface {
	GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error
	GetText(ctx context.Context, path string) (string, error)
	PostJSON(ctx context.Context, path string, payload, out interface{}) error
	PutJSON(ctx context.Context, path string, payload, out interface{}) error
	Delete(ctx context.Context, path string) error

	// Authentication
	SetCredentials(tokenID, tokenSecret string)

	// Target
	SetBaseURL(baseURL string)
	BaseURL() string

	// Lifecycle
	Close() error
}

// NewTransport creates the default HTTP transport.
func NewTransport(cfg *config.APIConfig, logger *events.Logger) Transport {
	return NewHTTPClient(cfg, logger)
}
