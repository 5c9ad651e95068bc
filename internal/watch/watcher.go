// Package watch triggers callbacks when files below a directory change.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of changes (editor saves, formatters) into one
// callback
const DefaultDebounce = 500 * time.Millisecond

// ChangeCallback receives the changed files of one debounce window, sorted
type ChangeCallback func(changed []string)

// Options configures a Watcher
type Options struct {
	Debounce time.Duration
	// Ignore lists directory or file base names that are never watched, e.g. ".git"
	Ignore []string
	Logger *slog.Logger
}

// Watcher monitors a directory tree
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	callback ChangeCallback
	debounce time.Duration
	ignore   map[string]struct{}
	logger   *slog.Logger

	// Debounce state
	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a watcher for root and all its subdirectories
func New(root string, callback ChangeCallback, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	w := &Watcher{
		watcher:  fw,
		root:     root,
		callback: callback,
		debounce: opts.Debounce,
		ignore:   make(map[string]struct{}, len(opts.Ignore)),
		logger:   opts.Logger.With("component", "watcher", "root", root),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, name := range opts.Ignore {
		w.ignore[name] = struct{}{}
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and every non-ignored subdirectory
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignored(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if _, skip := w.ignore[part]; skip {
			return true
		}
	}
	return false
}

// Start begins watching for file changes
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", "error", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = struct{}{}

	// Reset or start debounce timer
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if w.callback == nil || len(pending) == 0 {
		return
	}

	changed := make([]string, 0, len(pending))
	for path := range pending {
		changed = append(changed, path)
	}
	sort.Strings(changed)
	w.logger.Debug("files changed", "count", len(changed))
	w.callback(changed)
}
