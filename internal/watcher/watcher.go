// Package watcher keeps the registry in sync with watched directories. File changes are
// debounced and ingested, removals delete the matching document, and a rebuild is scheduled
// whenever the live index has gone stale.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/tanya/internal/indexer"
	"go.uber.org/zap"
)

const (
	defaultDebounce     = 400 * time.Millisecond
	defaultRebuildDelay = 5 * time.Second
)

// Sink receives the changes the watcher observes. *indexer.Pipeline implements it.
type Sink interface {
	IngestFile(ctx context.Context, path string) (*indexer.IngestResult, error)
	DeletePath(ctx context.Context, path string) error
	Allowed(path string) bool
	Stale() bool
	Rebuild(ctx context.Context) (*indexer.RebuildResult, error)
}

// Watcher watches root directories and feeds file changes into a Sink.
type Watcher struct {
	sink         Sink
	roots        []string
	recursive    bool
	debounce     time.Duration
	rebuildDelay time.Duration
	watcher      *fsnotify.Watcher
	ctx          context.Context
	mu           sync.Mutex
	debounceMap  map[string]*time.Timer
	rebuildTimer *time.Timer
	rootPaths    map[string][]string // root -> watched directories under it
	done         chan struct{}
	started      bool
	stopOnce     sync.Once
	logger       *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRebuildDelay sets how long after the last change a stale index is rebuilt.
// A negative delay disables automatic rebuilds.
func WithRebuildDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d != 0 {
			w.rebuildDelay = d
		}
	}
}

// New creates a watcher for roots. Nothing is watched until Start.
func New(sink Sink, roots []string, recursive bool, opts ...Option) *Watcher {
	w := &Watcher{
		sink:         sink,
		roots:        append([]string(nil), roots...),
		recursive:    recursive,
		debounce:     defaultDebounce,
		rebuildDelay: defaultRebuildDelay,
		debounceMap:  make(map[string]*time.Timer),
		rootPaths:    make(map[string][]string),
		done:         make(chan struct{}),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called. Missing roots
// are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	w.started = true
	w.logger.Debug("Watcher starting", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	for i, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err == nil {
			err = w.addRootLocked(abs)
		}
		if err != nil {
			_ = fw.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
		w.roots[i] = abs
	}
	events, errs := fw.Events, fw.Errors
	w.mu.Unlock()
	go w.run(ctx, events, errs)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("Watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("Watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.sink.Allowed(path) {
			w.debounceIngest(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		if w.sink.Allowed(path) {
			w.remove(path)
		}
	}
}

// handleNewDirectory watches a directory that appeared under a root and ingests its files.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.mu.Lock()
	fw := w.watcher
	recursive := w.recursive
	w.mu.Unlock()
	if fw == nil {
		return
	}
	if recursive {
		_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if err := fw.Add(path); err != nil {
					w.logger.Debug("Watcher failed to add directory", zap.String("path", path), zap.Error(err))
				}
			}
			return nil
		})
	} else if err := fw.Add(dirPath); err != nil {
		w.logger.Debug("Watcher failed to add directory", zap.String("path", dirPath), zap.Error(err))
	}
	w.syncDirectory(dirPath)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		if inDir(filepath.Clean(root), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) debounceIngest(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.ingest(path)
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

func (w *Watcher) context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

func (w *Watcher) ingest(path string) {
	res, err := w.sink.IngestFile(w.context(), path)
	if err != nil {
		w.logger.Warn("Failed to ingest changed file", zap.String("path", path), zap.Error(err))
		return
	}
	if !res.Skipped {
		w.logger.Debug("Changed file ingested", zap.String("path", path), zap.Int("chunks", res.Chunks))
		w.scheduleRebuild()
	}
}

func (w *Watcher) remove(path string) {
	if err := w.sink.DeletePath(w.context(), path); err != nil {
		w.logger.Warn("Failed to remove deleted file", zap.String("path", path), zap.Error(err))
		return
	}
	w.scheduleRebuild()
}

// scheduleRebuild (re)arms the rebuild timer. The rebuild only runs when the sink reports
// a stale index once the timer fires.
func (w *Watcher) scheduleRebuild() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rebuildDelay < 0 || !w.started {
		return
	}
	if w.rebuildTimer != nil {
		w.rebuildTimer.Stop()
	}
	w.rebuildTimer = time.AfterFunc(w.rebuildDelay, w.rebuildIfStale)
}

func (w *Watcher) rebuildIfStale() {
	if !w.sink.Stale() {
		return
	}
	res, err := w.sink.Rebuild(w.context())
	if err != nil {
		w.logger.Error("Automatic rebuild failed", zap.Error(err))
		return
	}
	w.logger.Info("Automatic rebuild finished", zap.Int64("generation", res.Generation.Seq), zap.Int("chunks", res.Chunks))
}

// AddDirectory adds a root to watch and optionally ingests the files already in it.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	for _, r := range w.roots {
		if filepath.Clean(r) == filepath.Clean(abs) {
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.logger.Debug("Watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	var paths []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	w.rootPaths[root] = paths
	return nil
}

// syncDirectory ingests every allowed file under root. Unchanged files are skipped by the sink.
func (w *Watcher) syncDirectory(root string) {
	w.logger.Debug("Watcher syncing directory", zap.String("root", root))
	changed := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !w.sink.Allowed(path) {
			return nil
		}
		res, err := w.sink.IngestFile(w.context(), path)
		if err != nil {
			w.logger.Warn("Failed to ingest file", zap.String("path", path), zap.Error(err))
			return nil
		}
		changed = changed || !res.Skipped
		return nil
	})
	if changed {
		w.scheduleRebuild()
	}
}

// RemoveDirectory stops watching root. Documents ingested from it stay registered.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	idx := -1
	for i, r := range w.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range w.rootPaths[abs] {
		_ = w.watcher.Remove(p)
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Debug("Watcher directory removed", zap.String("path", abs))
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles ingests the files already present in every root. Call it after Start.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops watching and cancels pending ingests and rebuilds.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	if w.rebuildTimer != nil {
		w.rebuildTimer.Stop()
		w.rebuildTimer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
