package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback receives the outcome of re-reading the rule file.
// cfg is nil when err is set; the caller keeps its current rules then.
type ReloadCallback func(cfg *Config, err error)

// Watcher re-reads a rule file after it settles and reports the result.
type Watcher struct {
	path     string
	name     string
	callback ReloadCallback
	logger   *slog.Logger
	debounce time.Duration
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the rule file must stay quiet before it is
// re-read. Default is 250ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher for the rule file at path.
func NewWatcher(path string, callback ReloadCallback, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		name:     filepath.Base(path),
		callback: callback,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the rule file until ctx is cancelled, then returns nil.
//
// The parent directory is watched so editors that save by writing a sibling
// and renaming it over the file are seen. A rule file that is removed or
// renamed away is reported as ErrConfigMissing; it never reverts the rules
// to the built-in defaults.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rule file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	settle := time.NewTimer(w.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.affectsRuleFile(event) {
				continue
			}
			w.logger.Debug("Rule file changed", "op", event.Op.String(), "path", event.Name)
			settle.Reset(w.debounce)

		case <-settle.C:
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Rule file watcher error", "path", w.path, "error", err)
		}
	}
}

// affectsRuleFile reports whether event may have changed the rule file's
// content or presence. Permission changes are ignored.
func (w *Watcher) affectsRuleFile(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != w.name {
		return false
	}
	return event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Rename) ||
		event.Op.Has(fsnotify.Remove)
}

func (w *Watcher) reload() {
	cfg, err := Reload(w.path)
	if errors.Is(err, ErrConfigMissing) {
		w.logger.Warn("Rule file is gone, waiting for it to reappear", "path", w.path)
	}
	w.callback(cfg, err)
}
