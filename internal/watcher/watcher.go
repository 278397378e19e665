// Package watcher batches file system events for C++ sources and hands
// them to a handler after a quiet period.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is zero.
const DefaultDebounce = 200 * time.Millisecond

// skipDirs are never watched.
var skipDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, "vendor": true, "third_party": true,
	"build": true, "out": true, "bin": true, "obj": true,
	"cmake-build-debug": true, "cmake-build-release": true, ".cmake": true,
	"Debug": true, "Release": true, ".cache": true,
}

// Event is the coalesced state of one path at flush time.
type Event struct {
	Path    string
	Removed bool
}

// Handler receives each batch of coalesced events.
type Handler func(events []Event)

// Config controls what is watched.
type Config struct {
	Roots    []string
	Debounce time.Duration
	// Filter reports whether a file is of interest. Nil accepts all.
	Filter func(path string) bool
	Logger *slog.Logger
}

// Watcher watches directory trees recursively.
type Watcher struct {
	fs      *fsnotify.Watcher
	cfg     Config
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	dirs    int
}

// New creates a Watcher and registers every directory under cfg.Roots.
func New(cfg Config, h Handler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &Watcher{
		fs:      fsw,
		cfg:     cfg,
		handler: h,
		logger:  logger,
		pending: make(map[string]fsnotify.Op),
	}
	for _, root := range cfg.Roots {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Dirs returns the number of directories being watched.
func (w *Watcher) Dirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirs
}

func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err == nil {
			w.mu.Lock()
			w.dirs++
			w.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	return nil
}

func skipDir(name string) bool {
	return skipDirs[name] || (len(name) > 1 && name[0] == '.')
}

func skipFile(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasSuffix(name, ".tmp")
}

// Run processes events until ctx is done, then flushes what is pending and
// closes the underlying watcher. The handler runs on Run's goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher.start", "roots", w.cfg.Roots, "dirs", w.Dirs(), "debounce", w.cfg.Debounce)
	defer w.fs.Close()

	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				w.flush()
				return nil
			}
			if w.handle(ev) {
				timer.Reset(w.cfg.Debounce)
			}

		case <-timer.C:
			w.flush()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher.error", "err", err)
		}
	}
}

// handle records ev and reports whether it was queued.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !skipDir(filepath.Base(ev.Name)) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("watcher.add", "path", ev.Name, "err", err)
				}
			}
			return false
		}
	}
	if skipFile(filepath.Base(ev.Name)) {
		return false
	}
	if w.cfg.Filter != nil && !w.cfg.Filter(ev.Name) {
		return false
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	w.mu.Lock()
	w.pending[ev.Name] |= ev.Op
	w.mu.Unlock()
	return true
}

// Pending returns the number of paths waiting for the next flush.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// flush hands the pending batch to the handler. Whether a path was removed
// is decided by the file system at flush time, not by the last operation.
func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	events := make([]Event, 0, len(pending))
	for path := range pending {
		_, err := os.Stat(path)
		events = append(events, Event{Path: path, Removed: os.IsNotExist(err)})
	}
	slices.SortFunc(events, func(a, b Event) int { return strings.Compare(a.Path, b.Path) })
	w.logger.Info("watcher.flush", "changes", len(events))
	if w.handler != nil {
		w.handler(events)
	}
}
