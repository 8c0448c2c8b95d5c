package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"audiorouter/internal/logging"
)

// routingWatcher reports edits to the routing document. It watches the
// parent directory because editors commonly save by renaming a temp file
// over the original, which drops a watch placed on the file itself.
type routingWatcher struct {
	path    string
	logger  *slog.Logger
	trigger func(Trigger)
}

func newRoutingWatcher(path string, logger *slog.Logger, trigger func(Trigger)) *routingWatcher {
	return &routingWatcher{
		path:    filepath.Clean(path),
		logger:  logging.NewComponentLogger(logger, "routing-watcher"),
		trigger: trigger,
	}
}

// Run blocks until ctx is done. A watcher that cannot start is logged and
// Run returns nil; `audiorouter apply` still picks up edits.
func (w *routingWatcher) Run(ctx context.Context, active *atomic.Bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.warnUnavailable(err)
		return nil
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		w.warnUnavailable(err)
		return nil
	}
	if active != nil {
		active.Store(true)
		defer active.Store(false)
	}
	w.logger.Debug("watching routing document", logging.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "routing watcher error", "routing_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a routing edit may be missed until the next save"),
			)
		}
	}
}

func (w *routingWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}
	w.logger.Debug("routing document changed", logging.String("op", event.Op.String()))
	if w.trigger != nil {
		w.trigger(Trigger{Source: SourceRoutingFile, Detail: event.Op.String()})
	}
}

func (w *routingWatcher) warnUnavailable(err error) {
	logging.WarnWithContext(w.logger, "routing file watcher unavailable", "routing_watch_failed",
		logging.Error(err),
		logging.String("path", w.path),
		logging.String(logging.FieldErrorHint, "check that the routing file's directory exists"),
		logging.String(logging.FieldImpact, "edits take effect only after audiorouter apply"),
	)
}
