// ABOUTME: Watches the local storage directory and announces resource list changes
// ABOUTME: Bursts of filesystem events are debounced into a single notification

package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/2389/mcp-foundation/internal/mcp"
)

// DefaultDebounce is the quiet period after the last event before notifying.
const DefaultDebounce = 250 * time.Millisecond

// Notifier publishes server notifications. *mcp.Broadcaster satisfies it.
type Notifier interface {
	Notify(method string, params any) error
}

// Options configure a Watcher.
type Options struct {
	Path     string
	Debounce time.Duration
	Notifier Notifier
	Logger   *slog.Logger
}

// Watcher sends notifications/resources/list_changed when files under Path
// are created, written, removed or renamed.
type Watcher struct {
	path     string
	debounce time.Duration
	notifier Notifier
	logger   *slog.Logger
	fs       *fsnotify.Watcher

	closeOnce sync.Once
}

// New creates the watched directory if needed and starts watching it and
// its existing subdirectories. Call Run to deliver notifications.
func New(opts Options) (*Watcher, error) {
	if opts.Path == "" {
		return nil, errors.New("watch path is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(opts.Path, 0755); err != nil {
		return nil, fmt.Errorf("creating watch directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fs watcher: %w", err)
	}

	w := &Watcher{
		path:     opts.Path,
		debounce: opts.Debounce,
		notifier: opts.Notifier,
		logger:   logger.With("component", "watch"),
		fs:       fsw,
	}

	err = filepath.WalkDir(opts.Path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(p)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", opts.Path, err)
	}
	return w, nil
}

// relevant filters out attribute-only changes.
func relevant(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// Run delivers notifications until ctx is canceled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watching for resource changes", "path", w.path, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	pending := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.fs.Add(ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			pending++
			timer.Reset(w.debounce)

		case <-timer.C:
			w.logger.Debug("storage changed", "events", pending)
			pending = 0
			if err := w.notifier.Notify(mcp.NotificationResourceListChanged, nil); err != nil {
				w.logger.Warn("failed to publish change notification", "error", err)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close stops watching. It is safe to call multiple times.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fs.Close()
	})
	return err
}
