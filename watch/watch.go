// Package watch keeps a bank in step with a directory tree. Files that appear
// are registered, files that change are dropped from every cache tier (and
// reloaded if they were in memory), files that disappear are removed.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"

	"github.com/unkn0wn-root/databank"
	"github.com/unkn0wn-root/databank/source/file"
)

const defaultDebounce = 100 * time.Millisecond

type Options struct {
	// Separator must match the bank's key separator; 0 => '.'.
	Separator rune
	// Debounce is how long the watcher waits for more events before
	// applying a batch; 0 => 100ms.
	Debounce time.Duration
	// Importance of the reload scheduled for a changed file that was in
	// memory. The zero value reloads on the watcher's goroutine.
	Importance databank.Importance
	Logger     databank.Logger
}

// Watcher mirrors filesystem changes under root into a bank.
type Watcher[V databank.Data] struct {
	bank databank.Bank[V]
	root string
	opts Options
	log  databank.Logger

	fsw     *fsnotify.Watcher
	applied chan struct{}
	stop    chan struct{}
	wg      conc.WaitGroup

	mu       sync.Mutex
	pending  map[string]struct{}
	debounce *time.Timer
	closed   bool

	flushMu sync.Mutex
}

// New starts watching root. Files already present are not registered; call
// Sync for that.
func New[V databank.Data](b databank.Bank[V], root string, opts Options) (*Watcher[V], error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if opts.Separator == 0 {
		opts.Separator = '.'
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = databank.NopLogger{}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher[V]{
		bank:    b,
		root:    abs,
		opts:    opts,
		log:     opts.Logger,
		fsw:     fsw,
		applied: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
	if err := w.addRecursive(abs); err != nil {
		fsw.Close()
		return nil, err
	}
	w.wg.Go(w.run)
	return w, nil
}

// Sync registers every file under root that the bank does not know yet.
func (w *Watcher[V]) Sync(ctx context.Context) (int, error) {
	entries, scanErr := file.Scan(w.root, w.opts.Separator)
	added := 0
	var errs []error
	for _, e := range entries {
		if w.bank.Has(e.Key) {
			continue
		}
		if err := w.bank.Add(ctx, e.Key, file.Source{Path: e.Path}); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	return added, errors.Join(append(errs, scanErr)...)
}

// Applied signals after each batch of changes has been pushed to the bank.
func (w *Watcher[V]) Applied() <-chan struct{} { return w.applied }

func (w *Watcher[V]) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher[V]) run() {
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.addRecursive(ev.Name)
				}
			}
			w.enqueue(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", databank.Fields{"root": w.root, "err": err.Error()})
		}
	}
}

func (w *Watcher[V]) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[path] = struct{}{}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.opts.Debounce, w.flush)
}

func (w *Watcher[V]) flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	ctx := context.Background()
	for path := range batch {
		w.apply(ctx, path)
	}

	select {
	case w.applied <- struct{}{}:
	default:
	}
}

func (w *Watcher[V]) apply(ctx context.Context, path string) {
	fi, err := os.Stat(path)
	if err != nil {
		w.vanished(path)
		return
	}
	if fi.IsDir() {
		w.directory(ctx, path)
		return
	}
	if !fi.Mode().IsRegular() {
		return
	}
	key, err := file.KeyFor(w.root, path, w.opts.Separator)
	if err != nil {
		return
	}
	w.changed(ctx, key, path)
}

func (w *Watcher[V]) changed(ctx context.Context, key, path string) {
	if !w.bank.Has(key) {
		if err := w.bank.Add(ctx, key, file.Source{Path: path}); err != nil {
			w.log.Warn("watch add failed", databank.Fields{"key": key, "err": err.Error()})
			return
		}
		w.log.Debug("watch added", databank.Fields{"key": key})
		return
	}
	wasLoaded := w.bank.IsLoaded(key)
	if err := w.bank.ClearFromCache(key, databank.Immediately); err != nil {
		w.log.Warn("watch invalidate failed", databank.Fields{"key": key, "err": err.Error()})
		return
	}
	if wasLoaded {
		if err := w.bank.Load(key, w.opts.Importance); err != nil {
			w.log.Warn("watch reload failed", databank.Fields{"key": key, "err": err.Error()})
		}
	}
	w.log.Debug("watch invalidated", databank.Fields{"key": key, "reload": wasLoaded})
}

// vanished removes path, or every key under it when it was a directory.
func (w *Watcher[V]) vanished(path string) {
	key, err := file.KeyFor(w.root, path, w.opts.Separator)
	if err != nil {
		return
	}
	if w.bank.Has(key) {
		if err := w.bank.Remove(key); err != nil && !errors.Is(err, databank.ErrNotFound) {
			w.log.Warn("watch remove failed", databank.Fields{"key": key, "err": err.Error()})
		}
		return
	}
	var gone []string
	w.bank.Walk(key, func(k string, _ databank.Tier) bool {
		gone = append(gone, k)
		return true
	})
	for _, k := range gone {
		_ = w.bank.Remove(k)
	}
}

func (w *Watcher[V]) directory(ctx context.Context, dir string) {
	entries, _ := file.Scan(dir, w.opts.Separator)
	for _, e := range entries {
		full, err := file.KeyFor(w.root, e.Path, w.opts.Separator)
		if err != nil {
			continue
		}
		if !w.bank.Has(full) {
			w.changed(ctx, full, e.Path)
		}
	}
}

// Stop shuts the watcher down and waits for an in-flight batch.
func (w *Watcher[V]) Stop() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()

	close(w.stop)
	err := w.fsw.Close()
	w.wg.Wait()

	w.flushMu.Lock()
	w.flushMu.Unlock()
	return err
}
