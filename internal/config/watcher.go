package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// watchDebounce coalesces the event bursts editors and atomic saves produce.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads the config when the file changes on disk and notifies
// registered callbacks.
type Watcher struct {
	config      *Config
	watcher     *fsnotify.Watcher
	callbacks   []func(*Config)
	stopCh      chan struct{}
	mu          sync.RWMutex
	running     bool
	lastModTime time.Time
}

// NewWatcher creates a watcher for the file backing cfg.
func NewWatcher(cfg *Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		config:  cfg,
		watcher: fw,
		stopCh:  make(chan struct{}),
	}, nil
}

// AddCallback registers a function invoked after each successful reload.
func (w *Watcher) AddCallback(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for configuration changes. The config directory is
// watched rather than the file itself: the atomic save replaces the file,
// which would drop a watch installed on the old inode.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher is already running")
	}

	configFile := w.config.Path()
	if stat, err := os.Stat(configFile); err == nil {
		w.lastModTime = stat.ModTime()
	}

	if err := w.watcher.Add(filepath.Dir(configFile)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.running = true
	go w.watchLoop()

	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isConfigEvent(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, w.handleConfigChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("config watcher error")

		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (w *Watcher) isConfigEvent(event fsnotify.Event) bool {
	if event.Name != w.config.Path() {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// handleConfigChange runs after the debounce window. The mod-time check
// skips reloads for events that did not change the file contents.
func (w *Watcher) handleConfigChange() {
	stat, err := os.Stat(w.config.Path())
	if err != nil {
		return
	}

	w.mu.Lock()
	if !stat.ModTime().After(w.lastModTime) {
		w.mu.Unlock()
		return
	}
	w.lastModTime = stat.ModTime()
	w.mu.Unlock()

	if err := w.TriggerReload(); err != nil {
		logrus.WithError(err).Error("failed to reload configuration")
	}
}

// TriggerReload reloads the config and notifies callbacks. The config API
// calls this directly after a patch instead of waiting out the debounce.
func (w *Watcher) TriggerReload() error {
	if err := w.config.Reload(); err != nil {
		return err
	}

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, callback := range callbacks {
		callback(w.config)
	}

	logrus.Info("configuration reloaded")
	return nil
}
