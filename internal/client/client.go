// Package client wires the wikisync services for one wiki root.
package client

import (
	"errors"
	"fmt"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/TheMichaelB/wikisync/internal/config"
	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/manifest"
	"github.com/TheMichaelB/wikisync/internal/models"
	"github.com/TheMichaelB/wikisync/internal/services/sync"
	"github.com/TheMichaelB/wikisync/internal/services/wiki"
	"github.com/TheMichaelB/wikisync/internal/storage"
	"github.com/TheMichaelB/wikisync/internal/transport"
)

// Client provides the high-level API for wikisync operations.
type Client struct {
	Wiki     *wiki.Service
	Sync     *sync.Service
	Manifest manifest.Store
	Files    *storage.LocalStore

	transport transport.Transport
}

// Open creates a client for the wiki whose manifest is at manifestPath. The
// directory holding the manifest is the wiki root. Credentials are required
// unless requireAuth is false.
func Open(cfg *config.Config, manifestPath string, requireAuth bool, logger *events.Logger) (*Client, error) {
	if requireAuth {
		if err := cfg.Auth.Require(); err != nil {
			return nil, err
		}
	}

	store, err := manifest.Open(manifestPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	if js, ok := store.(*manifest.JSONStore); ok {
		js.SetBackup(cfg.Manifest.Backup)
	}

	files, err := storage.NewLocalStore(filepath.Dir(manifestPath), logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	files.SetMaxFileSize(cfg.Sync.MaxFileSize)

	t := transport.NewTransport(&cfg.API, logger)
	t.SetCredentials(cfg.Auth.TokenID, cfg.Auth.TokenSecret)

	wikiService := wiki.NewService(t, cfg.API.PageSize, logger)
	syncService := sync.NewService(wikiService, files, store, &cfg.Sync, logger)

	return &Client{
		Wiki:      wikiService,
		Sync:      syncService,
		Manifest:  store,
		Files:     files,
		transport: t,
	}, nil
}

// Root returns the absolute wiki root.
func (c *Client) Root() string {
	return c.Files.Root()
}

// Link returns the wiki URL of the tracked page at path. path may be
// absolute or relative to the wiki root, with an optional ":<line>" suffix.
func (c *Client) Link(path string) (string, error) {
	m, err := c.Manifest.Load()
	if err != nil {
		return "", fmt.Errorf("load manifest: %w", err)
	}

	rel := path
	if filepath.IsAbs(path) {
		if rel, err = filepath.Rel(c.Root(), path); err != nil {
			return "", fmt.Errorf("%s: %w", path, models.ErrPageNotTracked)
		}
	}
	return m.Link(filepath.ToSlash(rel))
}

// Close releases the manifest store and network connections.
func (c *Client) Close() error {
	var firstErr error
	if err := c.Manifest.Close(); err != nil {
		firstErr = err
	}
	if err := c.transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Init creates an empty manifest for the wiki at url in dir. It fails when
// a manifest already exists there.
func Init(cfg *config.Config, dir, url string, logger *events.Logger) (string, error) {
	if err := validation.Validate(url, validation.Required, validation.By(config.HTTPURL)); err != nil {
		return "", fmt.Errorf("%w: url: %v", models.ErrInvalidConfig, err)
	}

	path := filepath.Join(dir, cfg.Manifest.Filename)

	store, err := manifest.Open(path, logger)
	if err != nil {
		return "", fmt.Errorf("open manifest: %w", err)
	}
	defer store.Close()

	if _, err := store.Load(); err == nil {
		return "", fmt.Errorf("manifest already exists at %s", path)
	} else if !errors.Is(err, manifest.ErrNotFound) {
		return "", err
	}

	m := models.NewManifest(url)
	if err := store.Save(m); err != nil {
		return "", fmt.Errorf("save manifest: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"path": path,
		"url":  m.URL,
	}).Info("Created manifest")

	return path, nil
}

// Convert copies the manifest at src into a new store at dst, choosing the
// backend from the extension of dst.
func Convert(src manifest.Store, dst string, logger *events.Logger) (*models.Manifest, error) {
	out, err := manifest.Open(dst, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dst, err)
	}
	defer out.Close()

	return manifest.Copy(src, out)
}
