package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/wikisync/internal/manifest"
	"github.com/TheMichaelB/wikisync/internal/models"
	"github.com/TheMichaelB/wikisync/internal/services/sync"
)

func TestWatchEvents(t *testing.T) {
	t.Run("closed channel", func(t *testing.T) {
		ch := make(chan sync.Event, 3)
		ch <- sync.Event{Type: sync.EventStarted}
		ch <- sync.Event{Type: sync.EventCompleted}
		close(ch)

		var seen []sync.EventType
		stop := watchEvents(ch, func(e sync.Event) { seen = append(seen, e.Type) })
		stop()

		assert.Equal(t, []sync.EventType{sync.EventStarted, sync.EventCompleted}, seen)
	})

	t.Run("open channel drained on stop", func(t *testing.T) {
		ch := make(chan sync.Event, 3)
		ch <- sync.Event{Type: sync.EventStarted}

		var seen []sync.EventType
		stop := watchEvents(ch, func(e sync.Event) { seen = append(seen, e.Type) })
		ch <- sync.Event{Type: sync.EventDownloaded}
		stop()

		assert.Equal(t, []sync.EventType{sync.EventStarted, sync.EventDownloaded}, seen)
	})
}

func TestErrorHint(t *testing.T) {
	tests := []struct {
		err  error
		hint bool
	}{
		{fmt.Errorf("load manifest: %w", models.ErrManifestNotFound), true},
		{models.ErrMissingCredentials, true},
		{manifest.ErrLocked, true},
		{fmt.Errorf("load manifest: %w", manifest.ErrCorrupt), true},
		{fmt.Errorf("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.hint, errorHint(tt.err) != "")
		})
	}
}
