package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/postvault/internal/checksum"
	"github.com/starford/postvault/internal/storage"
)

// EventCallback is called after a watcher-driven index change.
type EventCallback func(kind string, path string)

// Event kinds passed to EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// settleDelay is how long the watcher waits for a burst of file system
// events to go quiet before touching the index.
const settleDelay = 150 * time.Millisecond

// seenFile is the last content the watcher observed for a post path.
type seenFile struct {
	sum     string
	indexed bool
}

type watcher struct {
	fsw    *fsnotify.Watcher
	db     PostIndex
	store  storage.Provider
	root   string
	logger *slog.Logger
	cb     EventCallback

	seen     map[string]seenFile
	pending  map[string]struct{}
	fullScan bool
}

// Watch keeps the index in step with the content root until ctx is done.
//
// Events are coalesced per path and applied once the burst settles, so an
// editor's write-rename dance or an atomic replace yields one callback.
// Whether a change counts as created, updated or deleted is decided by
// comparing content checksums, not by the raw fsnotify op. Renamed
// directories trigger a full reconcile against the content root. A post
// that stops parsing is dropped from the index and reported as deleted.
func Watch(ctx context.Context, db PostIndex, store storage.Provider, contentRoot string, logger *slog.Logger, cb EventCallback) error {
	root, err := filepath.Abs(contentRoot)
	if err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w := &watcher{
		fsw:     fsw,
		db:      db,
		store:   store,
		root:    root,
		logger:  logger,
		cb:      cb,
		seen:    make(map[string]seenFile),
		pending: make(map[string]struct{}),
	}
	if err := w.seed(); err != nil {
		return err
	}
	if err := w.addTree(root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case <-settle.C:
			w.flush()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.note(ev) {
				settle.Reset(settleDelay)
			}

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// seed records what is on disk now so that later events can be classified.
func (w *watcher) seed() error {
	metas, err := w.store.List("")
	if err != nil {
		return err
	}
	indexed, err := w.db.AllChecksums()
	if err != nil {
		return err
	}
	for _, m := range metas {
		w.seen[m.Path] = seenFile{sum: m.Checksum, indexed: indexed[m.Path] == m.Checksum}
	}
	return nil
}

// note queues the paths touched by ev and reports whether anything is pending.
func (w *watcher) note(ev fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return false
	}
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.watchNewDir(ev.Name)
			return true
		}
	}

	rel, ok := w.rel(ev.Name)
	if !ok {
		return false
	}
	if !storage.IsPostFile(filepath.Base(ev.Name)) {
		// A renamed or removed directory takes its posts with it without
		// per-file events.
		if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 && w.hasPostsUnder(rel) {
			w.fullScan = true
			return true
		}
		return false
	}
	w.pending[rel] = struct{}{}
	return true
}

// watchNewDir starts watching dir and queues the posts already inside it.
func (w *watcher) watchNewDir(dir string) {
	if err := w.addTree(dir); err != nil {
		w.logger.Warn("watcher: add new dir failed", slog.String("path", dir), slog.String("error", err.Error()))
	}
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !storage.IsPostFile(d.Name()) {
			return nil
		}
		if rel, ok := w.rel(p); ok {
			w.pending[rel] = struct{}{}
		}
		return nil
	})
}

func (w *watcher) flush() {
	if w.fullScan {
		w.fullScan = false
		w.reconcile()
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	slices.Sort(paths)
	for _, p := range paths {
		w.apply(p)
	}
}

// apply brings the index entry for rel in line with the file on disk.
func (w *watcher) apply(rel string) {
	prev, known := w.seen[rel]

	data, err := w.store.Read(rel)
	if errors.Is(err, os.ErrNotExist) {
		delete(w.seen, rel)
		if err := w.db.DeletePost(rel); err != nil {
			w.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		if known && prev.indexed {
			w.logger.Debug("watcher: deleted", slog.String("path", rel))
			w.emit(EventDeleted, rel)
		}
		return
	}
	if err != nil {
		w.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}

	sum := checksum.Sum(data)
	if known && prev.sum == sum {
		return
	}
	if err := indexFile(w.db, rel, data); err != nil {
		w.seen[rel] = seenFile{sum: sum}
		w.logger.Warn("watcher: invalid post dropped", slog.String("path", rel), slog.String("error", err.Error()))
		if prev.indexed {
			w.emit(EventDeleted, rel)
		}
		return
	}
	w.seen[rel] = seenFile{sum: sum, indexed: true}
	kind := EventCreated
	if prev.indexed {
		kind = EventUpdated
	}
	w.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
	w.emit(kind, rel)
}

// reconcile queues every path that is on disk or in the seen set, so apply
// sorts out which were moved away and which arrived.
func (w *watcher) reconcile() {
	metas, err := w.store.List("")
	if err != nil {
		w.logger.Warn("watcher: reconcile list failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range metas {
		w.pending[m.Path] = struct{}{}
	}
	for p := range w.seen {
		w.pending[p] = struct{}{}
	}
	indexed, err := w.db.AllChecksums()
	if err != nil {
		w.logger.Warn("watcher: reconcile checksums failed", slog.String("error", err.Error()))
		return
	}
	for p := range indexed {
		w.pending[p] = struct{}{}
	}
}

func (w *watcher) hasPostsUnder(dir string) bool {
	prefix := dir + "/"
	for p := range w.seen {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (w *watcher) emit(kind, rel string) {
	if w.cb != nil {
		w.cb(kind, rel)
	}
}

// rel converts an absolute event path to a slash path under the root.
func (w *watcher) rel(abs string) (string, bool) {
	r, err := filepath.Rel(w.root, abs)
	if err != nil || r == "." || strings.HasPrefix(r, "..") {
		return "", false
	}
	return filepath.ToSlash(r), true
}

// addTree watches dir and its non-hidden subdirectories.
func (w *watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}
