package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string // directories to watch (recursive)
	InitialScan bool     // if true, walk roots and emit existing files
	Debounce    time.Duration
}

// StartWatcher emits the path of every new or rewritten document file under
// the configured roots until ctx ends. Rapid write bursts on the same path
// are coalesced by the debounce window so half-copied files are not picked
// up repeatedly.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("ingest.watcher.create_failed", "error", err)
		return nil, nil, err
	}

	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && AllowedExt(filepath.Ext(path)) {
				select {
				case evCh <- path:
				default:
				}
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("ingest.watcher.add_root_failed", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() { _ = w.Close() }()

		// pending is only touched from this goroutine; the debounce timer
		// fires into the select below instead of running its own callback
		var timer *time.Timer
		var flush <-chan time.Time
		pending := map[string]struct{}{}

		sendPending := func() {
			for p := range pending {
				select {
				case evCh <- p:
				default:
				}
				delete(pending, p)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-flush:
				flush = nil
				sendPending()
			case e := <-w.Events:
				if e.Op&fsnotify.Create == fsnotify.Create {
					// a new directory needs its own watch; for files the
					// Add fails and that is fine
					_ = w.Add(e.Name)
				}

				if AllowedExt(filepath.Ext(e.Name)) && (e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename)) != 0 {
					pending[e.Name] = struct{}{}
					if cfg.Debounce > 0 {
						if timer == nil {
							timer = time.NewTimer(cfg.Debounce)
						} else {
							if !timer.Stop() {
								select {
								case <-timer.C:
								default:
								}
							}
							timer.Reset(cfg.Debounce)
						}
						flush = timer.C
					} else {
						sendPending()
					}
				}
			case err := <-w.Errors:
				logger.Error("ingest.watcher.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}
