// Package watch turns file-system notifications under project roots into
// stored events. One Watcher runs per active project; the Supervisor owns
// their lifecycles and swaps them on configuration changes.
package watch

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/calebhsu/codetrail/internal/baseline"
	"github.com/calebhsu/codetrail/internal/broadcast"
	"github.com/calebhsu/codetrail/internal/db"
	"github.com/calebhsu/codetrail/internal/event"
	"github.com/calebhsu/codetrail/internal/gitx"
)

// Options configures one Watcher.
type Options struct {
	ProjectID       int64
	Root            string
	GlobalIgnore    []string
	ProjectPatterns []string
	MaxBytes        int64
	Debounce        time.Duration

	Database    *sql.DB
	Broadcaster *broadcast.Broadcaster

	// OnFileChange, when set, is invoked after each stored file_change
	// event. The architecture tracker hooks in here.
	OnFileChange func(e *event.Event)
}

// Watcher translates notifications under one project root into events.
type Watcher struct {
	opts   Options
	ignore *IgnoreMatcher
	cache  *baseline.Cache

	mu      sync.Mutex
	dirs    map[string]bool
	pending map[string]*time.Timer
	closed  bool
}

// NewWatcher builds a Watcher for the project rooted at opts.Root. The
// baseline cache seeds from git HEAD when the root is a working tree.
func NewWatcher(opts Options) *Watcher {
	return &Watcher{
		opts:    opts,
		ignore:  NewIgnoreMatcher(opts.GlobalIgnore, opts.ProjectPatterns),
		cache:   baseline.New(gitx.Detect(opts.Root)),
		dirs:    make(map[string]bool),
		pending: make(map[string]*time.Timer),
	}
}

// Run watches the project root until ctx is cancelled. It returns nil on
// cancellation and an error when the notification subscription fails
// unrecoverably.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher for project %d: %w", w.opts.ProjectID, err)
	}
	defer fsw.Close()
	defer w.cancelPending()

	if err := w.addTree(fsw, w.opts.Root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.opts.Root, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("notification stream closed for project %d", w.opts.ProjectID)
			}
			w.dispatch(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("notification stream closed for project %d", w.opts.ProjectID)
			}
			log.Printf("watch: project %d: %v", w.opts.ProjectID, err)
		}
	}
}

// addTree registers path and every non-ignored subdirectory with fsw.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.opts.Root, p)
		if err != nil {
			return nil
		}
		if rel != "." && w.ignore.Ignored(rel) {
			return filepath.SkipDir
		}
		if err := fsw.Add(p); err != nil {
			if p == root {
				return err
			}
			log.Printf("watch: project %d: cannot watch %s: %v", w.opts.ProjectID, p, err)
			return nil
		}
		w.mu.Lock()
		w.dirs[p] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) dispatch(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	abs := filepath.Clean(ev.Name)
	rel, err := filepath.Rel(w.opts.Root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if w.ignore.Ignored(rel) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(abs)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.addTree(fsw, abs); err != nil {
				log.Printf("watch: project %d: cannot watch %s: %v", w.opts.ProjectID, abs, err)
			}
			w.append(event.KindFolderCreated, rel, event.FolderPayload{Event: "created", Type: "directory"})
			return
		}
		w.scheduleFile(abs, rel, "created")

	case ev.Op.Has(fsnotify.Write):
		w.scheduleFile(abs, rel, "modified")

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		wasDir := w.dirs[abs]
		delete(w.dirs, abs)
		timer, hadPending := w.pending[abs]
		delete(w.pending, abs)
		w.mu.Unlock()
		if hadPending {
			timer.Stop()
		}
		w.cache.Forget(abs)
		if wasDir {
			w.append(event.KindFolderDeleted, rel, event.FolderPayload{Event: "deleted", Type: "directory"})
		} else {
			w.append(event.KindFileDeleted, rel, event.FileDeletedPayload{Event: "deleted"})
		}
	}
}

// scheduleFile either processes the file immediately or, with a debounce
// configured, folds rapid writes to the same path into one observation.
func (w *Watcher) scheduleFile(abs, rel, changeType string) {
	if w.opts.Debounce <= 0 {
		w.processFile(abs, rel, changeType)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.pending[abs]; ok {
		timer.Stop()
	}
	w.pending[abs] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, abs)
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			w.processFile(abs, rel, changeType)
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for abs, timer := range w.pending {
		timer.Stop()
		delete(w.pending, abs)
	}
}

// processFile reads the file, diffs it against the baseline, and appends
// a file_change event. Oversized files and unreadable files are skipped.
func (w *Watcher) processFile(abs, rel, changeType string) {
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return
	}
	if w.opts.MaxBytes > 0 && info.Size() > w.opts.MaxBytes {
		return
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return
	}

	prev, source := w.cache.Previous(abs)
	if bytes.Equal(prev, content) {
		w.cache.Update(abs, content)
		return
	}

	diff, err := baseline.Diff(prev, content, rel)
	if err != nil {
		log.Printf("watch: project %d: diff %s: %v", w.opts.ProjectID, rel, err)
		return
	}
	w.cache.Update(abs, content)

	w.append(event.KindFileChange, rel, event.FileChangePayload{
		Event:    changeType,
		Diff:     diff,
		SHA:      baseline.Hash(content),
		Size:     int64(len(content)),
		Baseline: string(source),
	})
}

// append stores one event and publishes its envelope. Store failures are
// logged and otherwise dropped.
func (w *Watcher) append(kind event.Kind, rel string, payload any) {
	projectID := w.opts.ProjectID
	e, err := db.AppendEvent(w.opts.Database, kind, &projectID, filepath.ToSlash(rel), payload)
	if err != nil {
		log.Printf("watch: project %d: append %s: %v", w.opts.ProjectID, kind, err)
		return
	}
	w.opts.Broadcaster.Publish(e.Envelope())
	if kind == event.KindFileChange && w.opts.OnFileChange != nil {
		w.opts.OnFileChange(e)
	}
}
