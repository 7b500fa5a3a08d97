// Package watch drives periodic and event-triggered spool drains for a
// long-running host. The engine itself never sleeps; all scheduling lives
// here.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/mailspool/internal/mailbox"
)

// DrainFunc runs one drain pass. It is mailbox.Store.Drain in production.
type DrainFunc func() (mailbox.DrainReport, error)

type Options struct {
	// PendingDir is the spool's pending directory. New entries appearing
	// there trigger an early drain instead of waiting for the next tick.
	PendingDir string

	// Interval is the periodic drain cadence. Defaults to 10s.
	Interval time.Duration

	// Debounce delays the event-triggered drain slightly so a burst of
	// enqueues is handled by one pass. Defaults to 250ms.
	Debounce time.Duration

	Logger mailbox.Logger
}

type Watcher struct {
	drain      DrainFunc
	pendingDir string
	interval   time.Duration
	debounce   time.Duration
	logger     mailbox.Logger
}

func New(drain DrainFunc, opts Options) (*Watcher, error) {
	if drain == nil {
		return nil, errors.New("drain function is required")
	}
	if opts.PendingDir == "" {
		return nil, errors.New("pending directory is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		drain:      drain,
		pendingDir: opts.PendingDir,
		interval:   interval,
		debounce:   debounce,
		logger:     opts.Logger,
	}, nil
}

// Run drains on every tick and shortly after new spool entries appear, until
// the context is cancelled. An in-flight drain always finishes before the
// cancellation is honored; file operations are never interrupted mid-write.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.pendingDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", w.pendingDir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.pendingDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.pendingDir, err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Reused one-shot timer for event debouncing; starts drained.
	pending := time.NewTimer(w.debounce)
	if !pending.Stop() {
		<-pending.C
	}
	defer pending.Stop()

	w.drainOnce()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drainOnce()
		case <-pending.C:
			w.drainOnce()
		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("watch channel closed")
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watch channel closed")
			}
			w.logf("spool watch error: %v", err)
		}
	}
}

func (w *Watcher) drainOnce() {
	report, err := w.drain()
	if err != nil {
		w.logf("spool drain failed: %v", err)
		return
	}
	if report.Delivered > 0 || report.MovedToFailed > 0 {
		w.logf("spool drain: delivered=%d pending=%d failed=%d",
			report.Delivered, report.StillPending, report.MovedToFailed)
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
