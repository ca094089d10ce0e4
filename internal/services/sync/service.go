package sync

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/wikisync/internal/config"
	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/manifest"
	"github.com/TheMichaelB/wikisync/internal/services/wiki"
	"github.com/TheMichaelB/wikisync/internal/storage"
)

// Options configures a sync operation.
type Options struct {
	Force  bool // Push local copies of conflicting pages
	DryRun bool // Classify only, change nothing
}

// Service runs a whole sync: lock, load, list, reconcile, save.
type Service struct {
	wiki   wiki.Directory
	store  manifest.Store
	engine *Engine
	logger *events.Logger

	// Locker guards the manifest for the duration of a run. Nil disables
	// locking.
	Locker func(path string) (manifest.UnlockFunc, error)
}

// NewService creates a sync service.
func NewService(
	dir wiki.Directory,
	files storage.FileStore,
	store manifest.Store,
	cfg *config.SyncConfig,
	logger *events.Logger,
) *Service {
	return &Service{
		wiki:   dir,
		store:  store,
		engine: NewEngine(files, dir, cfg, logger),
		logger: logger.WithField("service", "sync"),
		Locker: manifest.Lock,
	}
}

// Sync performs one run. The manifest is replaced exactly once, after every
// page was handled; a failing or cancelled run leaves it as it was. With
// DryRun the result carries the plan and predicted counts.
func (s *Service) Sync(ctx context.Context, opts Options) (*Result, error) {
	if s.Locker != nil {
		unlock, err := s.Locker(s.store.Path())
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(); err != nil {
				s.logger.WithError(err).Warn("Failed to release manifest lock")
			}
		}()
	}

	previous, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	if t, ok := s.wiki.(wiki.Targetable); ok {
		switch current := t.BaseURL(); {
		case current == "":
			t.SetBaseURL(previous.URL)
		case current != previous.URL:
			s.logger.WithFields(map[string]interface{}{
				"configured": current,
				"manifest":   previous.URL,
			}).Warn("Configured wiki URL differs from the manifest")
		}
	}

	remote, err := s.wiki.ListPages(ctx)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		plan, err := s.engine.Plan(ctx, previous, remote)
		if err != nil {
			return nil, err
		}
		return &Result{
			Manifest: previous,
			Summary:  plan.Summary(opts.Force),
			Plan:     plan,
		}, nil
	}

	result, err := s.engine.Reconcile(ctx, previous, remote, opts.Force)
	if err != nil {
		return nil, err
	}

	if err := result.Manifest.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to save manifest: %w", err)
	}
	if err := s.store.Save(result.Manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"pages":   result.Manifest.Len(),
		"changes": result.Summary.Changes(),
	}).Debug("Manifest saved")

	return result, nil
}

// Status classifies every page without changing anything.
func (s *Service) Status(ctx context.Context) (*Result, error) {
	return s.Sync(ctx, Options{DryRun: true})
}

// Events returns the event channel of the next or current run.
func (s *Service) Events() <-chan Event {
	return s.engine.Events()
}
