// Package sync reconciles a local markdown tree with a BookStack wiki.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/wikisync/internal/config"
	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/models"
	"github.com/TheMichaelB/wikisync/internal/services/wiki"
	"github.com/TheMichaelB/wikisync/internal/storage"
)

const eventBuffer = 100

// Engine implements the reconciliation algorithm.
type Engine struct {
	files  storage.FileStore
	wiki   wiki.Directory
	logger *events.Logger

	// Configuration
	maxConcurrent int
	ignoreFile    string

	mu      sync.Mutex
	running bool
	events  chan Event
}

// Summary counts what a run did.
type Summary struct {
	Downloaded    int
	Created       int
	Updated       int
	DeletedLocal  int // local files removed because the page left the wiki
	DeletedRemote int // wiki pages removed because the file was deleted
	Conflicts     int
	Kept          int
	Unchanged     int
	Failed        int
	Bytes         int64
	Duration      time.Duration
}

// Changes returns the number of mutations on either side.
func (s Summary) Changes() int {
	return s.Downloaded + s.Created + s.Updated + s.DeletedLocal + s.DeletedRemote
}

// Result is the outcome of a run. Manifest is the next manifest to persist.
type Result struct {
	Manifest *models.Manifest
	Summary  Summary
	Plan     *Plan
	Errors   []error
}

// Event represents a sync event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Key       models.Key
	Path      string
	URL       string
	Error     error
	Summary   *Summary
}

// EventType defines sync event types.
type EventType string

const (
	EventStarted       EventType = "started"
	EventDownloaded    EventType = "downloaded"
	EventUpdated       EventType = "updated"
	EventCreated       EventType = "created"
	EventDeletedLocal  EventType = "deleted_local"
	EventDeletedRemote EventType = "deleted_remote"
	EventKept          EventType = "kept"
	EventConflict      EventType = "conflict"
	EventPageError     EventType = "page_error"
	EventCompleted     EventType = "completed"
)

// NewEngine creates a sync engine.
func NewEngine(files storage.FileStore, dir wiki.Directory, cfg *config.SyncConfig, logger *events.Logger) *Engine {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Engine{
		files:         files,
		wiki:          dir,
		logger:        logger.WithField("component", "sync_engine"),
		maxConcurrent: maxConcurrent,
		ignoreFile:    cfg.IgnoreFile,
		events:        make(chan Event, eventBuffer),
	}
}

// Events returns the event channel of the next or current run. It is
// closed when that run ends.
func (e *Engine) Events() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// Scan returns the page files under the root plus every tracked path that
// the listing does not cover.
func (e *Engine) Scan(previous *models.Manifest) (LocalFiles, error) {
	listed, err := e.files.ListPages()
	if err != nil {
		return nil, fmt.Errorf("scan local pages: %w", err)
	}

	files := make(LocalFiles, len(listed))
	for _, f := range listed {
		files[f.Path] = f
	}

	if previous == nil {
		return files, nil
	}
	for _, t := range previous.Pages {
		p := path.Clean(t.Path)
		if _, ok := files[p]; ok {
			continue
		}
		info, err := e.files.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir {
			files[p] = info
		}
	}
	return files, nil
}

// Plan classifies every page without changing anything.
func (e *Engine) Plan(ctx context.Context, previous *models.Manifest, remote []models.Page) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := e.Scan(previous)
	if err != nil {
		return nil, err
	}

	ignore, err := storage.LoadIgnoreList(e.files, e.ignoreFile)
	if err != nil {
		return nil, fmt.Errorf("load ignore file: %w", err)
	}

	plan := Classify(previous, remote, files, ignore)
	for _, dup := range plan.Duplicates {
		e.logger.WithFields(map[string]interface{}{
			"key": dup.Key(),
			"id":  dup.ID,
		}).Warn("Two wiki pages share a key, ignoring one")
	}
	return plan, nil
}

// Reconcile classifies every page, applies the actions to both sides and
// returns the next manifest. previous is never modified. Failures on single
// pages are counted and leave that page's previous entry in place; only
// scan errors and cancellation abort the run.
func (e *Engine) Reconcile(ctx context.Context, previous *models.Manifest, remote []models.Page, force bool) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		close(e.events)
		e.events = make(chan Event, eventBuffer)
		e.mu.Unlock()
	}()

	if previous == nil {
		previous = models.NewManifest("")
	}

	logger := e.logger
	if id := events.GetRunID(ctx); id != "" {
		logger = logger.WithField("run_id", id)
	}

	start := time.Now()
	plan, err := e.Plan(ctx, previous, remote)
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"tracked": previous.Len(),
		"remote":  len(remote),
		"actions": len(plan.Actions),
		"force":   force,
	}).Info("Starting sync")
	e.emit(Event{Type: EventStarted})

	r := &run{
		engine:  e,
		logger:  logger,
		plan:    plan,
		force:   force,
		url:     previous.URL,
		next:    models.NewManifest(previous.URL),
		cleanup: mapset.NewSet[string](),
	}

	steps := []func(context.Context){
		r.removeOrphans,
		r.removeRemote,
		r.cleanupDirs,
		r.carryForward,
		r.download,
		r.push,
		r.createNew,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.summary.Duration = time.Since(start)
	summary := r.summary
	e.emit(Event{Type: EventCompleted, Summary: &summary})

	logger.WithFields(map[string]interface{}{
		"downloaded":     summary.Downloaded,
		"created":        summary.Created,
		"updated":        summary.Updated,
		"deleted_local":  summary.DeletedLocal,
		"deleted_remote": summary.DeletedRemote,
		"conflicts":      summary.Conflicts,
		"failed":         summary.Failed,
		"duration":       summary.Duration.String(),
	}).Info("Sync completed")

	return &Result{
		Manifest: r.next,
		Summary:  summary,
		Plan:     plan,
		Errors:   r.errs,
	}, nil
}

func (e *Engine) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case e.events <- event:
	default:
		// Channel full, drop event
	}
}

// run holds the state of one Reconcile call.
type run struct {
	engine *Engine
	logger *events.Logger
	plan   *Plan
	force  bool
	url    string

	mu      sync.Mutex
	next    *models.Manifest
	summary Summary
	errs    []error

	cleanup mapset.Set[string]

	books    map[string]*models.Book
	booksErr error
}

func (r *run) put(key models.Key, t *models.TrackedPage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next.Put(key, t)
}

// keep carries the previous entry of a forward unchanged.
func (r *run) keep(a Action) {
	if a.Tracked == nil {
		return
	}
	cp := *a.Tracked
	r.put(a.Key, &cp)
}

func (r *run) count(fn func(s *Summary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.summary)
}

// fail records a failed page and keeps its previous entry so the next run
// retries it.
func (r *run) fail(op string, a Action, err error) {
	pageErr := &models.PageError{Op: op, Key: a.Key, Path: a.Path, Err: err}

	r.mu.Lock()
	r.summary.Failed++
	r.errs = append(r.errs, pageErr)
	r.mu.Unlock()

	r.keep(a)

	r.logger.WithError(err).WithFields(map[string]interface{}{
		"op":   op,
		"key":  a.Key,
		"path": a.Path,
	}).Error("Page sync failed")
	r.engine.emit(Event{Type: EventPageError, Key: a.Key, Path: a.Path, Error: pageErr})
}

func (r *run) pageURL(key models.Key) string {
	return models.PageURL(r.url, key)
}

// removeOrphans deletes local copies of pages that left the wiki, unless
// they were edited since the last sync.
func (r *run) removeOrphans(ctx context.Context) {
	for _, a := range r.plan.Filter(RemovedRemote) {
		log := r.logger.WithFields(map[string]interface{}{"key": a.Key, "path": a.Path})

		switch {
		case a.File == nil:
			log.Debug("Page removed on both sides")

		case a.LocallyModified:
			log.Warn("Page was removed from the wiki but has local changes, keeping it")
			r.keep(a)
			r.count(func(s *Summary) { s.Kept++ })
			r.engine.emit(Event{Type: EventKept, Key: a.Key, Path: a.Path})

		default:
			if err := r.engine.files.Delete(a.Path); err != nil {
				r.fail(models.OpRemove, a, err)
				continue
			}
			if dir := path.Dir(a.Path); dir != "." {
				r.cleanup.Add(dir)
			}
			log.Info("Removed page deleted from the wiki")
			r.count(func(s *Summary) { s.DeletedLocal++ })
			r.engine.emit(Event{Type: EventDeletedLocal, Key: a.Key, Path: a.Path})
		}
	}
}

// removeRemote deletes wiki pages whose local file was deleted, unless the
// wiki copy changed since the last sync.
func (r *run) removeRemote(ctx context.Context) {
	for _, a := range r.plan.Filter(RemovedLocal) {
		log := r.logger.WithFields(map[string]interface{}{"key": a.Key, "path": a.Path})

		if a.RemotelyModified {
			log.WithField("url", r.pageURL(a.Key)).Warn("Page was deleted locally but changed on the wiki, leaving it untouched")
			r.keep(a)
			r.count(func(s *Summary) { s.Kept++ })
			r.engine.emit(Event{Type: EventKept, Key: a.Key, Path: a.Path, URL: r.pageURL(a.Key)})
			continue
		}

		if ctx.Err() != nil {
			return
		}
		if err := r.engine.wiki.DeletePage(ctx, a.Remote.ID); err != nil {
			r.fail(models.OpDelete, a, err)
			continue
		}
		log.Info("Deleted wiki page removed locally")
		r.count(func(s *Summary) { s.DeletedRemote++ })
		r.engine.emit(Event{Type: EventDeletedRemote, Key: a.Key, Path: a.Path})
	}
}

// cleanupDirs removes book directories emptied by removeOrphans.
func (r *run) cleanupDirs(ctx context.Context) {
	dirs := r.cleanup.ToSlice()
	sort.Strings(dirs)

	for _, dir := range dirs {
		removed, err := r.engine.files.RemoveDirIfEmpty(dir)
		if err != nil {
			r.logger.WithError(err).WithField("dir", dir).Warn("Failed to remove book directory")
			continue
		}
		if removed {
			r.logger.WithField("dir", dir).Info("Removed empty book directory")
		}
	}
}

// carryForward keeps unchanged pages and skipped conflicts as they were.
func (r *run) carryForward(ctx context.Context) {
	for _, a := range r.plan.Filter(Unchanged, Conflict) {
		if a.Kind == Unchanged {
			r.keep(a)
			r.count(func(s *Summary) { s.Unchanged++ })
			continue
		}
		if r.force {
			continue
		}

		url := r.pageURL(a.Key)
		r.logger.WithFields(map[string]interface{}{
			"key":  a.Key,
			"path": a.Path,
			"url":  url,
		}).Warn("Page changed locally and on the wiki, skipping (use --force to push the local copy)")
		r.keep(a)
		r.count(func(s *Summary) { s.Conflicts++ })
		r.engine.emit(Event{Type: EventConflict, Key: a.Key, Path: a.Path, URL: url})
	}
}

// download writes the wiki copy of changed and new pages.
func (r *run) download(ctx context.Context) {
	r.parallel(ctx, r.plan.Filter(RemoteOnly, NewRemote), r.downloadPage)
}

func (r *run) downloadPage(ctx context.Context, a Action) {
	if a.Kind == NewRemote && a.File != nil {
		r.logger.WithField("path", a.Path).Warn("Replacing untracked file with the wiki page of the same name")
	}

	text, err := r.engine.wiki.ExportMarkdown(ctx, a.Remote.ID)
	if err != nil {
		r.fail(models.OpExport, a, err)
		return
	}
	content := []byte(models.CleanExport(text))

	if err := r.engine.files.Write(a.Path, content, 0644); err != nil {
		r.fail(models.OpWrite, a, err)
		return
	}
	info, err := r.engine.files.Stat(a.Path)
	if err != nil {
		r.fail(models.OpWrite, a, err)
		return
	}

	r.put(a.Key, &models.TrackedPage{
		Path:            a.Path,
		Page:            *a.Remote,
		LastSyncedMtime: info.ModTime,
	})
	r.count(func(s *Summary) {
		s.Downloaded++
		s.Bytes += int64(len(content))
	})

	r.logger.WithFields(map[string]interface{}{
		"key":  a.Key,
		"size": len(content),
	}).Info("Synced page")
	r.engine.emit(Event{Type: EventDownloaded, Key: a.Key, Path: a.Path})
}

// push sends local edits to the wiki, including forced conflicts.
func (r *run) push(ctx context.Context) {
	kinds := []Kind{LocalOnly}
	if r.force {
		kinds = append(kinds, Conflict)
	}
	r.parallel(ctx, r.plan.Filter(kinds...), r.pushPage)
}

func (r *run) pushPage(ctx context.Context, a Action) {
	data, err := r.engine.files.Read(a.Path)
	if err != nil {
		r.fail(models.OpRead, a, err)
		return
	}
	info, err := r.engine.files.Stat(a.Path)
	if err != nil {
		r.fail(models.OpRead, a, err)
		return
	}

	page := *a.Remote
	detail, err := r.engine.wiki.UpdatePage(ctx, &page, string(data))
	if err != nil {
		r.fail(models.OpUpdate, a, err)
		return
	}
	page.MergeUpdate(detail)

	r.put(page.Key(), &models.TrackedPage{
		Path:            a.Path,
		Page:            page,
		LastSyncedMtime: info.ModTime,
	})
	r.count(func(s *Summary) {
		s.Updated++
		s.Bytes += int64(len(data))
	})

	log := r.logger.WithField("path", a.Path)
	if a.Kind == Conflict {
		log = log.WithField("forced", true)
	}
	log.Info("Updated page")
	r.engine.emit(Event{Type: EventUpdated, Key: page.Key(), Path: a.Path})
}

// createNew creates wiki pages for untracked files in existing books.
func (r *run) createNew(ctx context.Context) {
	for _, a := range r.plan.Filter(NewLocal) {
		if ctx.Err() != nil {
			return
		}
		r.createPage(ctx, a)
	}
}

func (r *run) createPage(ctx context.Context, a Action) {
	bookSlug := path.Dir(a.Path)
	log := r.logger.WithFields(map[string]interface{}{"path": a.Path, "book": bookSlug})
	log.Info("Found new page")

	book, err := r.book(ctx, bookSlug)
	if err != nil {
		r.fail(models.OpCreate, a, err)
		return
	}

	data, err := r.engine.files.Read(a.Path)
	if err != nil {
		r.fail(models.OpRead, a, err)
		return
	}
	info, err := r.engine.files.Stat(a.Path)
	if err != nil {
		r.fail(models.OpRead, a, err)
		return
	}

	name := norm.NFC.String(strings.TrimSuffix(path.Base(a.Path), models.MarkdownExt))
	page, err := r.engine.wiki.CreatePage(ctx, book, name, string(data))
	if err != nil {
		r.fail(models.OpCreate, a, err)
		return
	}

	key := page.Key()
	r.mu.Lock()
	taken := r.next.Get(key) != nil
	r.mu.Unlock()
	if taken {
		r.fail(models.OpCreate, a, fmt.Errorf("created page %d but key %s is already tracked", page.ID, key))
		return
	}

	r.put(key, &models.TrackedPage{
		Path:            a.Path,
		Page:            *page,
		LastSyncedMtime: info.ModTime,
	})
	r.count(func(s *Summary) {
		s.Created++
		s.Bytes += int64(len(data))
	})

	log.WithFields(map[string]interface{}{
		"key": key,
		"url": r.pageURL(key),
	}).Info("Created page")
	r.engine.emit(Event{Type: EventCreated, Key: key, Path: a.Path, URL: r.pageURL(key)})
}

// book looks a book up by slug, listing books once per run.
func (r *run) book(ctx context.Context, slug string) (*models.Book, error) {
	if r.books == nil && r.booksErr == nil {
		books, err := r.engine.wiki.ListBooks(ctx)
		if err != nil {
			r.booksErr = err
		} else {
			r.books = make(map[string]*models.Book, len(books))
			for i := range books {
				r.books[books[i].Slug] = &books[i]
			}
		}
	}
	if r.booksErr != nil {
		return nil, r.booksErr
	}

	book, ok := r.books[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrBookNotFound, slug)
	}
	return book, nil
}

// parallel runs fn for every action on at most maxConcurrent goroutines.
// Actions never fail the group, so one failure does not cancel the rest.
func (r *run) parallel(ctx context.Context, actions []Action, fn func(context.Context, Action)) {
	var g errgroup.Group
	g.SetLimit(r.engine.maxConcurrent)

	for _, a := range actions {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, a)
			return nil
		})
	}
	_ = g.Wait()
}
