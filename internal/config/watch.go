package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vthunder/plexus/internal/logging"
)

// Watcher reloads config.json when it changes on disk so mode and language
// switches apply without a daemon restart.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(Config)

	mu      sync.Mutex
	pending time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Watch starts watching the directory containing path. onChange runs on
// the watcher goroutine after edits settle for half a second.
func Watch(path string, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the parent dir: editors replace files by rename, which drops
	// a watch placed on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		watcher:  fw,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop shuts the watcher down and waits for the loop to exit
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	const debounce = 500 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("config", "watcher error: %v", err)

		case <-ticker.C:
			w.mu.Lock()
			fire := !w.pending.IsZero() && time.Since(w.pending) >= debounce
			if fire {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if !fire {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logging.Warn("config", "reload failed: %v", err)
				continue
			}
			logging.Info("config", "reloaded: mode=%s lang=%s quota=%d",
				cfg.Settings.ThreadMode, cfg.Language, cfg.Quota())
			w.onChange(cfg)
		}
	}
}
