// Package watcher notices package files changed by something other than
// this process, folds them into the cache and asks for a sync.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dmitrijs2005/plotkeeper/internal/client/localbundle"
	"github.com/dmitrijs2005/plotkeeper/internal/client/orchestrator"
	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
)

const (
	DefaultDebounce = orchestrator.DefaultDebounce
	// DefaultQuiet is how long after one of our own writes a change to the
	// same file is still attributed to us.
	DefaultQuiet = 2 * time.Second
)

type Importer interface {
	ImportPackage(ctx context.Context, path string) (localbundle.ImportResult, error)
}

// LastWriter reports when this process last wrote a package.
type LastWriter interface {
	LastWrite(path string) (time.Time, bool)
}

type Notifier interface {
	NotifyLocalMutation(reason string)
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

func WithQuiet(d time.Duration) Option { return func(w *Watcher) { w.quiet = d } }

func WithScheduler(s orchestrator.Scheduler) Option { return func(w *Watcher) { w.sched = s } }

// Watcher watches one directory of packages.
type Watcher struct {
	fs       *fsnotify.Watcher
	importer Importer
	writes   LastWriter
	notify   Notifier
	sched    orchestrator.Scheduler
	debounce time.Duration
	quiet    time.Duration
	log      logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	pending map[string]orchestrator.Handle
}

func New(importer Importer, writes LastWriter, notify Notifier, log logging.Logger, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fs:       fsw,
		importer: importer,
		writes:   writes,
		notify:   notify,
		sched:    orchestrator.TimerScheduler{},
		debounce: DefaultDebounce,
		quiet:    DefaultQuiet,
		log:      log.With("module", "watcher"),
		pending:  map[string]orchestrator.Handle{},
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Start begins watching dir.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop ends watching and waits for the event loop to exit. Pending imports
// are dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for path, h := range w.pending {
		h.Cancel()
		delete(w.pending, path)
	}
	w.cancel()
	w.mu.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if isPackageEvent(ev) {
				w.schedule(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn(w.ctx, "watch error", "error", err)
		}
	}
}

func isPackageEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	base := filepath.Base(ev.Name)
	return !strings.HasPrefix(base, ".") && filepath.Ext(base) == common.PackageExtension
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if h, ok := w.pending[path]; ok {
		h.Cancel()
	}
	w.pending[path] = w.sched.AfterFunc(w.debounce, func() { w.handle(path) })
}

func (w *Watcher) handle(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	running := w.running
	ctx := w.ctx
	w.mu.Unlock()
	if !running {
		return
	}

	if w.ownWrite(path) {
		w.log.Debug(ctx, "ignoring own package write", "path", path)
		return
	}
	res, err := w.importer.ImportPackage(ctx, path)
	if err != nil {
		w.log.Warn(ctx, "package import failed", "path", path, "error", err)
		return
	}
	if res.Changed() {
		w.notify.NotifyLocalMutation("package changed: " + filepath.Base(path))
	}
}

// ownWrite reports whether the file's current content is the one this
// process wrote last.
func (w *Watcher) ownWrite(path string) bool {
	last, ok := w.writes.LastWrite(path)
	if !ok {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return !info.ModTime().After(last.Add(w.quiet))
}
