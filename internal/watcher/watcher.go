// Package watcher keeps a session's material in sync with a directory. Files
// matching the extension filter are re-ingested when written and removed
// from the session when deleted or renamed away.
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
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler applies file changes to the store.
type Handler interface {
	Ingest(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
}

// Watcher watches one directory tree.
type Watcher struct {
	root       string
	extensions []string
	handler    Handler
	debounce   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for the watcher.
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

// New returns a watcher for root. An empty extensions list matches every file.
func New(root string, extensions []string, h Handler, opts ...Option) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(root),
		extensions: extensions,
		handler:    h,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run watches root and its subdirectories until ctx is cancelled. Pending
// ingests are dropped on return; handler calls already running finish first.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching directory", zap.String("root", w.root), zap.Strings("extensions", w.extensions))

	defer w.wg.Wait()
	defer w.cancelAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !ev.Has(fsnotify.Create) {
				return
			}
			if err := w.addTree(fw, path); err != nil {
				w.logger.Warn("watch new directory failed", zap.String("path", path), zap.Error(err))
			}
			w.ingestTree(ctx, path)
			return
		}
		if MatchExtension(path, w.extensions) {
			w.schedule(ctx, path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if !MatchExtension(path, w.extensions) {
			return
		}
		w.cancel(path)
		w.run(func() {
			if err := w.handler.Remove(ctx, path); err != nil {
				w.logger.Warn("remove document failed", zap.String("path", path), zap.Error(err))
			}
		})
	}
}

// schedule ingests path once no further events arrive within the debounce window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.run(func() { w.ingest(ctx, path) })
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if err := w.handler.Ingest(ctx, path); err != nil {
		w.logger.Warn("ingest file failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("ingested file", zap.String("path", path))
}

func (w *Watcher) run(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) cancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fw.Add(path)
	})
}

// ingestTree ingests every matching file under a directory that appeared
// after the watch started.
func (w *Watcher) ingestTree(ctx context.Context, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if MatchExtension(path, w.extensions) {
			w.schedule(ctx, path)
		}
		return nil
	})
}

// MatchExtension reports whether path has one of extensions. Matching ignores
// case and a leading dot; an empty list matches everything.
func MatchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
