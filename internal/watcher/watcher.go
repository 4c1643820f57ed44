// Package watcher reports changes to the definition files of a project.
//
// Events are debounced and delivered in batches, so a save that touches
// many files (or an editor writing through a temp file) triggers one
// callback. It backs `pbipkit watch`.
package watcher

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aidanlsb/pbipkit/internal/project"
)

// DefaultDebounce is used when Config.DebounceDelay is zero.
const DefaultDebounce = 200 * time.Millisecond

// Watcher monitors a project root for changes to definition files.
type Watcher struct {
	root     string
	skip     map[string]struct{}
	debounce time.Duration
	logger   *slog.Logger
	onChange func(paths []string)

	fsWatcher *fsnotify.Watcher
	pending   map[string]time.Time
	mu        sync.Mutex
}

// Config holds configuration options for the Watcher.
type Config struct {
	Root string

	// SkipDirs are absolute directories that are never watched, such as
	// a backup directory inside the project.
	SkipDirs []string

	DebounceDelay time.Duration
	Logger        *slog.Logger

	// OnChange receives the root-relative, slash separated paths that
	// changed since the last call. Required.
	OnChange func(paths []string)
}

// New creates a Watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("project root is required")
	}
	if cfg.OnChange == nil {
		return nil, errors.New("change callback is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}

	debounce := cfg.DebounceDelay
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	skip := make(map[string]struct{}, len(cfg.SkipDirs))
	for _, d := range cfg.SkipDirs {
		if abs, err := filepath.Abs(d); err == nil {
			skip[abs] = struct{}{}
		}
	}

	return &Watcher{
		root:     root,
		skip:     skip,
		debounce: debounce,
		logger:   logger,
		onChange: cfg.OnChange,
		pending:  make(map[string]time.Time),
	}, nil
}

// Start watches the project until ctx is cancelled. OnChange runs on the
// goroutine that called Start.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsWatcher = fsw
	defer fsw.Close()

	if err := w.addWatchRecursive(w.root); err != nil {
		return err
	}
	w.logger.Debug("watching project", "root", w.root)

	ticker := time.NewTicker(max(w.debounce/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case now := <-ticker.C:
			if ready := w.ready(now); len(ready) > 0 {
				w.onChange(ready)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	if w.ignored(path) {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addWatchRecursive(path); err != nil {
				w.logger.Warn("failed to watch new directory", "path", path, "error", err)
			}
			return
		}
	}
	if !Relevant(path) || event.Op == fsnotify.Chmod {
		return
	}
	w.logger.Debug("file event", "op", event.Op.String(), "path", path)
	w.schedule(path, time.Now())
}

// schedule marks path as changed at t; later events push the deadline out.
func (w *Watcher) schedule(path string, t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = t
}

// ready removes and returns the paths quiet for at least the debounce
// delay, root-relative and sorted. A batch is held back while any path in
// it is still changing.
func (w *Watcher) ready(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	for _, t := range w.pending {
		if now.Sub(t) < w.debounce {
			return nil
		}
	}

	out := make([]string, 0, len(w.pending))
	for path := range w.pending {
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	clear(w.pending)
	sort.Strings(out)
	return out
}

func (w *Watcher) addWatchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// ignored reports whether path lies in a directory pbipkit never reads.
func (w *Watcher) ignored(path string) bool {
	for dir := range w.skip {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		switch part {
		case project.StateDir, ".git", ".pbi":
			return true
		}
	}
	return false
}

// Relevant reports whether a change to path can affect the project index.
func Relevant(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tmdl", ".json", ".pbip":
		return true
	}
	return false
}
