package gateway

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"switchboard/pkg/logging"
)

// DefaultDebounceInterval is the time to wait after the last change before
// reloading the servers file.
const DefaultDebounceInterval = 500 * time.Millisecond

// DefaultPollInterval is used when fsnotify is not available.
const DefaultPollInterval = 5 * time.Second

// FileWatcher calls OnChange after the watched file was written, created,
// renamed or removed. Bursts of events collapse into a single call.
type FileWatcher struct {
	path     string
	debounce time.Duration
	poll     time.Duration
	onChange func()

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool
	lastMod   time.Time

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewFileWatcher creates a watcher for path. A zero debounce means
// DefaultDebounceInterval.
func NewFileWatcher(path string, debounce time.Duration, onChange func()) *FileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounceInterval
	}
	return &FileWatcher{
		path:     path,
		debounce: debounce,
		poll:     DefaultPollInterval,
		onChange: onChange,
	}
}

// Start begins watching. The parent directory is watched so that editors
// replacing the file are noticed.
func (w *FileWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	w.stopCh = make(chan struct{})
	w.running = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Gateway", "fsnotify not available, falling back to polling: %v", err)
		go w.pollForChanges(w.stopCh)
		return nil
	}

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		logging.Warn("Gateway", "Failed to watch directory %s, falling back to polling: %v", dir, err)
		watcher.Close()
		go w.pollForChanges(w.stopCh)
		return nil
	}
	w.fsWatcher = watcher

	go w.processEvents(w.stopCh, watcher.Events, watcher.Errors)

	logging.Info("Gateway", "Watching %s for server changes", w.path)
	return nil
}

// The channels are passed in so that Stop can close the watcher safely.
func (w *FileWatcher) processEvents(stopCh <-chan struct{}, eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			logging.Debug("Gateway", "Servers file changed: %s (%s)", event.Name, event.Op)
			w.triggerDebounced()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("Gateway", err, "fsnotify error")
		}
	}
}

func (w *FileWatcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		if w.IsRunning() && w.onChange != nil {
			w.onChange()
		}
	})
}

func (w *FileWatcher) pollForChanges(stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	w.lastMod = w.modTime()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if mod := w.modTime(); !mod.Equal(w.lastMod) {
				w.lastMod = mod
				w.triggerDebounced()
			}
		}
	}
}

func (w *FileWatcher) modTime() time.Time {
	info, err := os.Stat(w.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Stop stops watching and cancels a pending reload.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("Gateway", "Error closing fsnotify watcher: %v", err)
		}
		w.fsWatcher = nil
	}
}

// IsRunning reports whether the watcher is active.
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
