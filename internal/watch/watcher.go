// Package watch reports working tree edits so the CLI can re-evaluate
// pending changes while the user works.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"sos/internal/meta"
	"sos/internal/pattern"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses bursts of events such as an editor's save.
const DefaultDebounce = 300 * time.Millisecond

// Watcher observes every non-ignored directory under Root.
type Watcher struct {
	Root     string
	filter   pattern.Filter
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	dirs     map[string]bool
	logger   *zap.Logger
}

func New(root string, filter pattern.Filter, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		Root:     root,
		filter:   filter,
		debounce: debounce,
		watcher:  fw,
		dirs:     map[string]bool{},
		logger:   logger,
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}
	return w, nil
}

// addTree adds dir and all its non-ignored subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			w.logger.Warn("Skipping unreadable directory", zap.String("path", p), zap.Error(err))
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if p != w.Root && w.ignored(entry.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		w.mu.Lock()
		w.dirs[p] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) ignored(name string) bool {
	return name == meta.Dir || w.filter.IgnoreDir(name)
}

// WatchList returns the watched directories relative to Root.
func (w *Watcher) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		rel, err := filepath.Rel(w.Root, dir)
		if err != nil {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

// relevant reports whether an event concerns the working tree rather than
// metadata or ignored files.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	rel, err := filepath.Rel(w.Root, event.Name)
	if err != nil {
		return false
	}
	for _, part := range splitPath(rel) {
		if w.ignored(part) {
			return false
		}
	}
	return !w.filter.IgnoreFile(filepath.Base(event.Name))
}

func splitPath(rel string) []string {
	var parts []string
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		parts = append(parts, filepath.Base(dir))
	}
	return parts
}

// Run calls onChange once per burst of relevant events until ctx is done or
// the watcher is closed. Errors from onChange are logged and do not stop the
// loop.
func (w *Watcher) Run(ctx context.Context, onChange func() error) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
			if w.relevant(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", zap.Error(err))

		case <-timer.C:
			if err := onChange(); err != nil {
				w.logger.Error("Handling working tree change", zap.Error(err))
			}
		}
	}
}

// handle keeps the watch list in step with directory creation and removal.
func (w *Watcher) handle(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil || !info.IsDir() || w.ignored(info.Name()) {
			return
		}
		if err := w.addTree(event.Name); err != nil {
			w.logger.Error("Adding new directory to watcher", zap.String("path", event.Name), zap.Error(err))
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.dirs, event.Name)
		w.mu.Unlock()
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
