package playbook

import (
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Reloaded is published on the given bus-like callback whenever the watched
// source file changes and re-parses successfully (SPEC_FULL supplement:
// hot-reload of playbook source).
type Reloaded struct {
	Path    string
	Classes map[string]*AgentClass
}

// SourceWatcher watches a single playbook source file and re-parses it on
// change, matching hector's config hot-reload idiom.
type SourceWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	onReload func(Reloaded)
	done    chan struct{}
}

// NewSourceWatcher creates a watcher for path. onReload is invoked
// synchronously from the watcher's goroutine on every successful reparse;
// parse errors are logged and the previous classes are kept live.
func NewSourceWatcher(path string, onReload func(Reloaded)) (*SourceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	return &SourceWatcher{path: path, watcher: w, onReload: onReload, done: make(chan struct{})}, nil
}

// Start runs the watch loop until Stop is called.
func (s *SourceWatcher) Start() {
	go func() {
		for {
			select {
			case ev, ok := <-s.watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reload()
			case err, ok := <-s.watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("playbook: source watcher error", "path", s.path, "error", err)
			case <-s.done:
				return
			}
		}
	}()
}

func (s *SourceWatcher) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		slog.Warn("playbook: failed to read changed source", "path", s.path, "error", err)
		return
	}
	ast, err := Parse(string(data))
	if err != nil {
		slog.Warn("playbook: failed to parse changed source, keeping previous classes", "path", s.path, "error", err)
		return
	}
	classes, err := BuildClasses(ast)
	if err != nil {
		slog.Warn("playbook: failed to build classes from changed source, keeping previous classes", "path", s.path, "error", err)
		return
	}
	s.onReload(Reloaded{Path: s.path, Classes: classes})
}

// Stop ends the watch loop and releases the underlying file watcher.
func (s *SourceWatcher) Stop() {
	close(s.done)
	s.watcher.Close()
}
