// Package watch discovers CSV drop files: it scans the drop directory once
// at startup to pick up files delivered while the service was down, then
// follows filesystem notifications for new arrivals.
package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultSettleDelay = 500 * time.Millisecond

// WithSettleDelay sets how long the watcher waits after a create event
// before announcing the file, giving slow producers time to finish writing.
func WithSettleDelay(delay time.Duration) func(*Watcher) {
	return func(w *Watcher) {
		if delay > 0 {
			w.settleDelay = delay
		}
	}
}

// WithLogger sets the logger for watch events
func WithLogger(logger *slog.Logger) func(*Watcher) {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher emits the paths of CSV files appearing in a drop directory.
// Discovery is at-least-once: a file may be announced more than once, and
// consumers are expected to deduplicate.
type Watcher struct {
	dir         string
	settleDelay time.Duration
	logger      *slog.Logger

	files chan string
}

// NewWatcher creates a Watcher for the given drop directory, creating the
// directory if it does not exist.
func NewWatcher(dir string, options ...func(*Watcher)) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating drop directory: %w", err)
	}

	w := Watcher{
		dir:         dir,
		settleDelay: defaultSettleDelay,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		files:       make(chan string),
	}

	for _, option := range options {
		option(&w)
	}

	return &w, nil
}

// Files returns the channel of discovered file paths. It is closed when
// Run returns.
func (w *Watcher) Files() <-chan string {
	return w.files
}

// Run scans the drop directory, then blocks following filesystem events
// until the context is cancelled. The initial scan runs after the watch is
// established, so files arriving during the scan are not lost. Created files
// settle off the event loop, so a burst of drops never backs up the event
// stream.
func (w *Watcher) Run(ctx context.Context) (err error) {
	var settling sync.WaitGroup

	defer close(w.files)
	defer settling.Wait()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer closeWithError(fsw, &err)

	if err = fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", w.dir, err)
	}

	if err = w.scan(ctx); err != nil {
		return fmt.Errorf("scanning directory %s: %w", w.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) || !isCSV(event.Name) {
				continue
			}
			w.logger.Debug("file created", slog.String("path", event.Name))

			settling.Add(1)
			go func() {
				defer settling.Done()
				w.announce(ctx, event.Name)
			}()

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", slog.String("error", watchErr.Error()))
		}
	}
}

// scan announces every CSV file already present in the drop directory.
func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isCSV(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		w.logger.Debug("file found on startup", slog.String("path", path))

		select {
		case w.files <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// announce waits out the settle delay and emits the path, unless the file
// disappeared in the meantime (moved away or deleted by the producer) or the
// context was cancelled.
func (w *Watcher) announce(ctx context.Context, path string) {
	select {
	case <-time.After(w.settleDelay):
	case <-ctx.Done():
		return
	}

	if _, err := os.Stat(path); err != nil {
		w.logger.Debug("file vanished before processing", slog.String("path", path))
		return
	}

	select {
	case w.files <- path:
	case <-ctx.Done():
	}
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
