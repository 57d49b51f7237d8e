package catalogue

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger is the subset of the console logger the watcher reports through.
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
}

// Watcher reloads a directory-based catalogue when its schema files change.
// A reload that fails to parse or validate keeps the previous catalogue and
// logs a warning; an editing session is never torn down by a bad schema
// edit. Intended for long-lived authoring services; the one-shot CLI loads
// the catalogue fresh on every invocation and does not run a watcher.
type Watcher struct {
	dir      string
	log      Logger
	onReload func(*Catalogue)
	debounce time.Duration
}

// NewWatcher creates a watcher over dir. onReload receives each
// successfully loaded catalogue.
func NewWatcher(dir string, log Logger, onReload func(*Catalogue)) *Watcher {
	return &Watcher{
		dir:      dir,
		log:      log,
		onReload: onReload,
		debounce: 250 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. Events are debounced because editors
// fire several write events per save.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalogue watcher: %w", err)
	}
	defer fsw.Close()

	modulesDir := filepath.Join(w.dir, "modules")
	if err := fsw.Add(modulesDir); err != nil {
		return fmt.Errorf("watch %s: %w", modulesDir, err)
	}

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.LogWarn(fmt.Sprintf("catalogue watcher: %v", err))
		}
	}
}

// reload attempts a full catalogue load and hands the result to onReload.
func (w *Watcher) reload() {
	cat, err := Load(w.dir)
	if err != nil {
		w.log.LogWarn(fmt.Sprintf("catalogue reload failed, keeping previous: %v", err))
		return
	}
	w.log.LogInfo(fmt.Sprintf("catalogue reloaded: %d modules", cat.Len()))
	w.onReload(cat)
}
