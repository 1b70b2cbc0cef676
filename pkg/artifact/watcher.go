package artifact

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rhuss/codegate/pkg/debug"
)

// Watcher records the order in which files first appear under a directory
// while an execution runs. Its result is a hint for DiffOrdered; files it
// misses fall back to modification-time order.
type Watcher struct {
	root          string
	includeHidden bool
	fsw           *fsnotify.Watcher

	mu    sync.Mutex
	seen  map[string]bool
	order []string

	done chan struct{}
}

// Watch starts watching dir and its subdirectories. dir must exist.
func (s *Scanner) Watch(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{
		root:          dir,
		includeHidden: s.includeHidden,
		fsw:           fsw,
		seen:          make(map[string]bool),
		done:          make(chan struct{}),
	}
	if err := w.addTree(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish between the event and the walk.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.hidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) hidden(name string) bool {
	return !w.includeHidden && strings.HasPrefix(name, ".")
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.observe(event.Name, event.Op&fsnotify.Create != 0)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			debug.Log("harness", "artifact watcher error", "root", w.root, "error", err)
		}
	}
}

func (w *Watcher) observe(path string, created bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if w.hidden(part) {
			return
		}
	}

	if created {
		if err := w.addTree(path); err != nil {
			slog.Debug("artifact watcher could not follow directory", "path", path, "error", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.seen[rel] {
		w.seen[rel] = true
		w.order = append(w.order, rel)
	}
}

// Order returns the paths observed so far in first-seen order. Directory
// paths may appear; DiffOrdered ignores paths that are not changed files.
func (w *Watcher) Order() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
