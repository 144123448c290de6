package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last filesystem
// event before triggering a sync, so editor save bursts coalesce into one
// run.
const DefaultDebounce = 2 * time.Second

// Watcher re-runs a folder sync whenever the local tree changes.
type Watcher struct {
	orch     *Orchestrator
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher builds a Watcher. A debounce of 0 selects the default.
func NewWatcher(orch *Orchestrator, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{orch: orch, debounce: debounce, logger: logger}
}

// Watch blocks, syncing localDir against the remote folder after every burst
// of local changes, until ctx is canceled. An initial sync runs before
// watching starts so the two sides begin aligned.
func (w *Watcher) Watch(ctx context.Context, localDir, cloudFolder string, opt FileOptions) error {
	if _, err := w.orch.SyncFolder(ctx, localDir, cloudFolder, opt); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := addRecursive(fsw, localDir); err != nil {
		return err
	}

	w.logger.Info("watching for changes",
		slog.String("local", localDir),
		slog.Duration("debounce", w.debounce),
	)

	var timer *time.Timer

	fire := make(chan struct{}, 1)

	schedule := func() {
		if timer == nil {
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

			return
		}

		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if !relevant(ev) {
				continue
			}

			// New directories must be watched too.
			if ev.Op.Has(fsnotify.Create) {
				if err := addRecursive(fsw, ev.Name); err != nil {
					w.logger.Warn("failed to watch new path",
						slog.String("path", ev.Name),
						slog.String("error", err.Error()),
					)
				}
			}

			w.logger.Debug("change detected",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)

			schedule()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-fire:
			stats, err := w.orch.SyncFolder(ctx, localDir, cloudFolder, opt)
			if err != nil {
				w.logger.Error("watch sync failed", slog.String("error", err.Error()))

				continue
			}

			w.logger.Info("watch sync finished", slog.String("stats", stats.Summary()))
		}
	}
}

// relevant filters events the sync cares about: markdown and directory
// changes outside hidden paths, backups, and the attachment folder.
func relevant(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)

	if strings.HasPrefix(name, ".") || strings.Contains(name, ".bak.") {
		return false
	}

	for _, part := range strings.Split(filepath.ToSlash(ev.Name), "/") {
		if part == DefaultAttachmentDir {
			return false
		}
	}

	return ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) ||
		ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)
}

// addRecursive watches path and, when it is a directory, every non-hidden
// directory below it. Non-directories are ignored; their parent is already
// watched.
func addRecursive(fsw *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // racing deletion; skip
		}

		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if p != path && (strings.HasPrefix(name, ".") || name == DefaultAttachmentDir) {
			return filepath.SkipDir
		}

		return fsw.Add(p)
	})
}
