// Package watch reports changes to service files so a running session can
// redeploy without restarting the backends.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of file change event.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventDeleted
	EventRenamed
)

// String returns a human-readable string for the event type.
func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileEvent represents a file change event.
type FileEvent struct {
	Type EventType
	Path string
	Name string
}

// Handler is called once per quiet period with the last matching event.
type Handler func(event FileEvent)

// Watcher watches a service root for changes to files matching a set of
// glob patterns. Bursts of events are coalesced: the handler runs once the
// directory has been quiet for the debounce period.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	patterns []glob.Glob
	debounce time.Duration
	handler  Handler

	wg   sync.WaitGroup
	done chan struct{}
	stop sync.Once

	pendingMu sync.Mutex
	pending   *time.Timer

	// handlerMu keeps handler calls from overlapping.
	handlerMu sync.Mutex
}

// New creates a watcher on root. Patterns are matched against file names.
func New(root string, patterns []string, debounce time.Duration, handler Handler) (*Watcher, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	if err := fsWatcher.Add(root); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	return &Watcher{
		watcher:  fsWatcher,
		root:     root,
		patterns: compiled,
		debounce: debounce,
		handler:  handler,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processLoop(ctx)
	}()
}

// Stop stops the watcher. Pending events are dropped.
func (w *Watcher) Stop() error {
	w.stop.Do(func() { close(w.done) })
	w.wg.Wait()

	w.pendingMu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pendingMu.Unlock()

	return w.watcher.Close()
}

// Matches reports whether name matches any watched pattern.
func (w *Watcher) Matches(name string) bool {
	for _, g := range w.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (w *Watcher) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	var eventType EventType
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = EventCreated
	case event.Op&fsnotify.Write != 0:
		eventType = EventModified
	case event.Op&fsnotify.Remove != 0:
		eventType = EventDeleted
	case event.Op&fsnotify.Rename != 0:
		eventType = EventRenamed
	default:
		return
	}

	name := filepath.Base(event.Name)
	if !w.Matches(name) {
		return
	}

	fileEvent := FileEvent{Type: eventType, Path: event.Name, Name: name}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		log.Debug().Str("event", eventType.String()).Str("path", event.Name).Msg("Service file changed")
		w.fire(fileEvent)
	})
}

// fire runs the handler. A timer that fires while an earlier handler is still
// running waits for it to return.
func (w *Watcher) fire(event FileEvent) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handler(event)
}
