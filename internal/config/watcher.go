package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the settings file whenever it changes on disk so style or
// crossfade edits apply mid-session without a restart.
type Watcher struct {
	path     string
	onChange func(Settings)
	log      *slog.Logger
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
}

func NewWatcher(path string, onChange func(Settings), log *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		log:      log.With("component", "settings-watcher"),
	}
}

func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("initialize settings watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace the file on save.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch settings dir: %w", err)
	}

	w.watcher = watcher
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.run()

	return nil
}

func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}

	close(w.stop)
	w.watcher.Close()
	<-w.done
	w.watcher = nil
}

func (w *Watcher) run() {
	defer close(w.done)

	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Coalesce bursts of write events from a single save.
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(150*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			settings, err := LoadSettings(w.path)
			if err != nil {
				w.log.Warn("ignoring settings change", "error", err)
				continue
			}
			w.log.Info("settings reloaded", "playbackStyle", settings.PlaybackStyle)
			w.onChange(settings)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("settings watcher error", "error", err)
		}
	}
}
