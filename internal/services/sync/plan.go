package sync

import (
	"path"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/TheMichaelB/wikisync/internal/models"
	"github.com/TheMichaelB/wikisync/internal/storage"
)

// Kind is the one action decided for a page in a run.
type Kind int

const (
	Unchanged     Kind = iota // nothing to do
	RemoteOnly                // changed on the wiki: download
	LocalOnly                 // changed locally: push
	Conflict                  // changed on both sides
	RemovedRemote             // gone from the wiki
	RemovedLocal              // local file deleted
	NewRemote                 // not tracked yet, exists on the wiki
	NewLocal                  // untracked local file
)

var kindNames = [...]string{
	Unchanged:     "unchanged",
	RemoteOnly:    "remote-only",
	LocalOnly:     "local-only",
	Conflict:      "conflict",
	RemovedRemote: "removed-remote",
	RemovedLocal:  "removed-local",
	NewRemote:     "new-remote",
	NewLocal:      "new-local",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Action is the classification of one key, or of one untracked file for
// NewLocal.
type Action struct {
	Kind Kind
	Key  models.Key // empty for NewLocal
	Path string     // local slash path

	Tracked *models.TrackedPage // previous entry, nil for NewRemote and NewLocal
	Remote  *models.Page        // current listing, nil for RemovedRemote and NewLocal
	File    *storage.FileInfo   // nil when no file exists at Path

	LocallyModified  bool
	RemotelyModified bool
}

// Plan is the classification of every key for one run, computed before
// anything is applied.
type Plan struct {
	Actions []Action

	// Duplicates are remote pages ignored because another page in the
	// listing has the same key.
	Duplicates []models.Page
}

// LocalFiles maps slash paths below the wiki root to the files found there.
type LocalFiles map[string]storage.FileInfo

// Filter returns the actions of the given kinds, in plan order.
func (p *Plan) Filter(kinds ...Kind) []Action {
	want := mapset.NewThreadUnsafeSet(kinds...)
	var out []Action
	for _, a := range p.Actions {
		if want.Contains(a.Kind) {
			out = append(out, a)
		}
	}
	return out
}

// Count returns the number of actions of kind.
func (p *Plan) Count(kind Kind) int {
	return len(p.Filter(kind))
}

// Summary predicts the counts a run of the plan would report.
func (p *Plan) Summary(force bool) Summary {
	var s Summary
	for _, a := range p.Actions {
		switch a.Kind {
		case Unchanged:
			s.Unchanged++
		case RemoteOnly, NewRemote:
			s.Downloaded++
		case LocalOnly:
			s.Updated++
		case Conflict:
			if force {
				s.Updated++
			} else {
				s.Conflicts++
			}
		case RemovedRemote:
			switch {
			case a.File == nil:
			case a.LocallyModified:
				s.Kept++
			default:
				s.DeletedLocal++
			}
		case RemovedLocal:
			if a.RemotelyModified {
				s.Kept++
			} else {
				s.DeletedRemote++
			}
		case NewLocal:
			s.Created++
		}
	}
	return s
}

// Classify decides one action per key from the previous manifest, the
// current wiki listing and the files under the root. It does not touch
// either side.
func Classify(previous *models.Manifest, remote []models.Page, files LocalFiles, ignore *storage.IgnoreList) *Plan {
	if previous == nil {
		previous = models.NewManifest("")
	}
	plan := &Plan{}

	remoteByKey := make(map[models.Key]*models.Page, len(remote))
	for i := range remote {
		page := &remote[i]
		key := page.Key()

		other, dup := remoteByKey[key]
		if !dup {
			remoteByKey[key] = page
			continue
		}
		if prefer(previous.Get(key), page, other) {
			remoteByKey[key] = page
			page = other
		}
		plan.Duplicates = append(plan.Duplicates, *page)
	}

	keys := mapset.NewThreadUnsafeSet[models.Key]()
	for key := range previous.Pages {
		keys.Add(key)
	}
	for key := range remoteByKey {
		keys.Add(key)
	}
	sorted := keys.ToSlice()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	claimed := mapset.NewThreadUnsafeSet[string]()

	for _, key := range sorted {
		tracked := previous.Get(key)
		page := remoteByKey[key]

		a := Action{Key: key, Tracked: tracked, Remote: page}
		if tracked != nil {
			a.Path = path.Clean(tracked.Path)
		} else {
			a.Path = key.Path()
		}
		claimed.Add(a.Path)
		if page != nil {
			claimed.Add(key.Path())
		}

		if f, ok := files[a.Path]; ok {
			a.File = &f
		}

		switch {
		case tracked == nil:
			a.Kind = NewRemote
			a.RemotelyModified = true

		case page == nil:
			a.Kind = RemovedRemote
			a.LocallyModified = a.File != nil && !a.File.ModTime.Equal(tracked.LastSyncedMtime)

		case a.File == nil:
			a.Kind = RemovedLocal
			a.RemotelyModified = page.UpdatedAt != tracked.Page.UpdatedAt

		default:
			a.RemotelyModified = page.UpdatedAt != tracked.Page.UpdatedAt
			a.LocallyModified = !a.File.ModTime.Equal(tracked.LastSyncedMtime)

			switch {
			case a.RemotelyModified && a.LocallyModified:
				a.Kind = Conflict
			case a.RemotelyModified:
				a.Kind = RemoteOnly
			case a.LocallyModified:
				a.Kind = LocalOnly
			default:
				a.Kind = Unchanged
			}
		}

		plan.Actions = append(plan.Actions, a)
	}

	untracked := make([]string, 0)
	for p := range files {
		if claimed.Contains(p) || !isCandidate(p) || ignore.ShouldIgnore(p) {
			continue
		}
		untracked = append(untracked, p)
	}
	sort.Strings(untracked)

	for _, p := range untracked {
		f := files[p]
		plan.Actions = append(plan.Actions, Action{
			Kind:            NewLocal,
			Path:            p,
			File:            &f,
			LocallyModified: true,
		})
	}

	return plan
}

// prefer reports whether candidate should replace current for a key that
// two remote pages share: the tracked page wins, otherwise the older id.
func prefer(tracked *models.TrackedPage, candidate, current *models.Page) bool {
	if tracked != nil {
		if tracked.Page.ID == current.ID {
			return false
		}
		if tracked.Page.ID == candidate.ID {
			return true
		}
	}
	return candidate.ID < current.ID
}

// isCandidate reports whether p has the <book>/<page>.md shape.
func isCandidate(p string) bool {
	book, name, ok := strings.Cut(p, "/")
	return ok && book != "" && !strings.Contains(name, "/") &&
		strings.HasSuffix(name, models.MarkdownExt) && !storage.SkipDir(book)
}
