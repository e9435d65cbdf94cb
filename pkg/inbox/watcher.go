package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teslashibe/go-smartcapture/internal/log"
	"github.com/teslashibe/go-smartcapture/pkg/debug"
)

// DefaultSettle is how long a file must go without writes before it is
// processed.
const DefaultSettle = 500 * time.Millisecond

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithSettle overrides the quiet period before a new file is processed.
func WithSettle(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithBacklog also processes images already in the folder when Run starts.
func WithBacklog(enabled bool) WatchOption {
	return func(w *Watcher) {
		w.backlog = enabled
	}
}

// WithResultHandler is called after every processed file.
func WithResultHandler(fn func(*Outcome, error)) WatchOption {
	return func(w *Watcher) {
		w.onResult = fn
	}
}

// WithWatchLogger sets the structured logger.
func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher feeds every image written to a folder through a Processor.
type Watcher struct {
	dir      string
	proc     *Processor
	settle   time.Duration
	backlog  bool
	onResult func(*Outcome, error)
	logger   *slog.Logger
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, proc *Processor, opts ...WatchOption) *Watcher {
	w := &Watcher{
		dir:    dir,
		proc:   proc,
		settle: DefaultSettle,
		logger: log.Component("inbox"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Files are processed one at a time in
// the order they settle.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("inbox: %s is not a directory", w.dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching folder", "dir", w.dir, "settle", w.settle)

	if w.backlog {
		for _, path := range w.pending() {
			if ctx.Err() != nil {
				return nil
			}
			w.process(ctx, path)
		}
	}

	ready := make(chan string, 64)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			debug.Log("inbox: %s %s\n", ev.Op, ev.Name)
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !IsImage(ev.Name) || IsOutput(ev.Name) {
				continue
			}
			if t, ok := timers[ev.Name]; ok {
				t.Reset(w.settle)
				continue
			}
			name := ev.Name
			timers[name] = time.AfterFunc(w.settle, func() {
				select {
				case ready <- name:
				case <-ctx.Done():
				}
			})

		case name := <-ready:
			delete(timers, name)
			w.process(ctx, name)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watch queue overflowed, some files may be skipped")
				continue
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Removed or renamed before it settled.
		return
	}
	out, err := w.proc.Process(ctx, path)
	if err != nil {
		w.logger.Warn("image failed", "path", path, "error", err)
	}
	if w.onResult != nil {
		w.onResult(out, err)
	}
}

// pending lists images in the folder that have no rectified output yet.
func (w *Watcher) pending() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("read backlog", "dir", w.dir, "error", err)
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if !IsImage(path) || IsOutput(path) {
			continue
		}
		if w.proc.processed(path) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
