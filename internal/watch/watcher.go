// Package watch turns media files dropped into an inbox directory into jobs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces rapid Create+Write events while a file is copied in.
const DefaultDebounce = 500 * time.Millisecond

const queueSize = 256

// Status values reported by Watcher.Status.
const (
	StatusStarting    = "starting"
	StatusBackfilling = "backfilling"
	StatusWatching    = "watching"
	StatusStopped     = "stopped"
)

// Handler runs one job for path. Calls are sequential.
type Handler func(ctx context.Context, path string) error

// Options tunes which files are picked up.
type Options struct {
	Extensions []string
	Debounce   time.Duration
	// Skip reports files that already have results.
	Skip func(path string) bool
}

// Watcher feeds matching inbox files to a Handler one at a time.
type Watcher struct {
	dir    string
	opts   Options
	exts   map[string]struct{}
	handle Handler
	logger *slog.Logger

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	queued         map[string]struct{}
	queue          chan string

	processed atomic.Int64
	failed    atomic.Int64
	status    atomic.Value
}

func New(dir string, opts Options, handle Handler, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}

	w := &Watcher{
		dir:            dir,
		opts:           opts,
		exts:           exts,
		handle:         handle,
		logger:         logger.With("component", "watcher", "watch_dir", dir),
		debounceTimers: make(map[string]*time.Timer),
		queued:         make(map[string]struct{}),
		queue:          make(chan string, queueSize),
	}
	w.status.Store(StatusStarting)
	return w
}

// Dir returns the watched inbox.
func (w *Watcher) Dir() string { return w.dir }

// Status returns the current lifecycle phase.
func (w *Watcher) Status() string {
	s, _ := w.status.Load().(string)
	return s
}

// Pending counts files queued or waiting out their debounce.
func (w *Watcher) Pending() int {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	return len(w.queued) + len(w.debounceTimers)
}

func (w *Watcher) Processed() int64 { return w.processed.Load() }
func (w *Watcher) Failed() int64    { return w.failed.Load() }

// Run watches until ctx is cancelled. Files already in the inbox are queued first.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch dir %q is not a directory", w.dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %q: %w", w.dir, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.work(ctx)
	}()

	w.status.Store(StatusBackfilling)
	w.backfill()
	w.status.Store(StatusWatching)
	w.logger.Info("file watcher initialized", "extensions", w.opts.Extensions)

	err = w.loop(ctx, fsw)

	w.status.Store(StatusStopped)
	w.stopTimers()
	wg.Wait()
	w.logger.Info("file watcher stopped",
		"files_processed", w.processed.Load(),
		"files_failed", w.failed.Load(),
	)
	return err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// backfill queues existing inbox files in name order.
func (w *Watcher) backfill() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("read watch dir", "error", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(w.dir, name)
		if w.matches(path) {
			w.enqueue(path)
		}
	}
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(base))]
	return ok
}

// schedule debounces a path so the job starts once the copy settles.
func (w *Watcher) schedule(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.debounceTimers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.enqueue(path)
	})
}

func (w *Watcher) enqueue(path string) {
	if w.opts.Skip != nil && w.opts.Skip(path) {
		w.logger.Debug("skipping file with existing results", "path", path)
		return
	}

	w.debounceMu.Lock()
	if _, ok := w.queued[path]; ok {
		w.debounceMu.Unlock()
		return
	}
	w.queued[path] = struct{}{}
	w.debounceMu.Unlock()

	select {
	case w.queue <- path:
	default:
		w.debounceMu.Lock()
		delete(w.queued, path)
		w.debounceMu.Unlock()
		w.logger.Warn("job queue full, dropping file", "path", path)
	}
}

func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.process(ctx, path)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	defer func() {
		w.debounceMu.Lock()
		delete(w.queued, path)
		w.debounceMu.Unlock()
	}()

	if _, err := os.Stat(path); err != nil {
		w.logger.Warn("queued file disappeared", "path", path, "error", err)
		return
	}

	w.logger.Info("starting job", "path", path)
	w.processed.Add(1)
	if err := w.handle(ctx, path); err != nil {
		w.failed.Add(1)
		w.logger.Error("job failed", "path", path, "error", err)
		return
	}
	w.logger.Info("job finished", "path", path)
}

func (w *Watcher) stopTimers() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
}
