package server

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the reloader waits after the last write.
const DefaultDebounce = 500 * time.Millisecond

// Reloader watches role and agent files and calls reload after they change.
type Reloader struct {
	watcher  *fsnotify.Watcher
	reload   func(context.Context) error
	log      *zap.Logger
	paths    []string
	debounce time.Duration
}

// NewReloader creates a file watcher for the given paths. Empty and missing
// paths are skipped.
func NewReloader(paths []string, reload func(context.Context) error, log *zap.Logger) (*Reloader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			log.Warn("not watching missing file", zap.String("path", p))
			continue
		}
		if err := watcher.Add(p); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", p, err)
		}
		watched = append(watched, p)
	}

	return &Reloader{
		watcher:  watcher,
		reload:   reload,
		log:      log,
		paths:    watched,
		debounce: DefaultDebounce,
	}, nil
}

// Paths returns the files being watched.
func (r *Reloader) Paths() []string { return r.paths }

// Run watches for file changes and reloads. Blocks until ctx is cancelled
// and any in-flight reload has returned.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var (
		wg    sync.WaitGroup
		timer *time.Timer
	)
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			if timer != nil && timer.Stop() {
				wg.Done()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil && timer.Stop() {
				wg.Done()
			}
			wg.Add(1)
			timer = time.AfterFunc(r.debounce, func() {
				defer wg.Done()
				if err := r.reload(ctx); err != nil {
					r.log.Error("hot-reload failed", zap.String("file", event.Name), zap.Error(err))
					return
				}
				r.log.Info("hot-reload: roles and agents reloaded", zap.String("file", event.Name))
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("file watcher error", zap.Error(err))
		}
	}
}
