package cppmodel

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jward/cppmodel/internal/watcher"
)

// Watch feeds file system changes under roots into the indexer until ctx
// is done. Changes are debounced; each batch is submitted for background
// parsing, so queries keep seeing the previous Snapshot until the new
// Documents are published.
func (e *Engine) Watch(ctx context.Context, roots ...string) error {
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		abs = append(abs, a)
	}

	cfg := watcher.Config{
		Roots:  abs,
		Logger: e.logger,
		Filter: func(path string) bool {
			for _, root := range abs {
				if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
					return e.wanted(root, path)
				}
			}
			return false
		},
	}
	if e.cfg != nil {
		cfg.Debounce = e.cfg.Debounce
	}

	w, err := watcher.New(cfg, e.handleEvents)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func (e *Engine) handleEvents(events []watcher.Event) {
	var changed, removed int
	for _, ev := range events {
		var err error
		if ev.Removed {
			err = e.Remove(ev.Path)
			removed++
		} else {
			err = e.Submit(Change{Path: ev.Path})
			changed++
		}
		if err != nil {
			e.logger.Warn("engine.watch", "path", ev.Path, "err", err)
		}
	}
	e.logger.Info("engine.watch", "changed", changed, "removed", removed)
}
