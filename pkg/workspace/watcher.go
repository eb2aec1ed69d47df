package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ChangeCallback receives the slash path, relative to the watched root, of a
// file that was created, written, removed or renamed.
type ChangeCallback func(rel string)

// Watcher reports external changes under a workspace root. Rapid events on
// the same path are coalesced into one callback.
type Watcher struct {
	watcher        *fsnotify.Watcher
	root           string
	debounce       time.Duration
	ignored        func(rel string) bool
	onChange       ChangeCallback
	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopOnce       sync.Once
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Root     string
	Debounce time.Duration
	// Ignored filters relative paths; nil matches DefaultIgnore.
	Ignored  func(rel string) bool
	OnChange ChangeCallback
}

// NewWatcher creates a watcher; call Start to begin receiving events.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.OnChange == nil {
		return nil, fmt.Errorf("watcher requires an OnChange callback")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if config.Debounce == 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if config.Ignored == nil {
		config.Ignored = func(rel string) bool { return matchesAny(DefaultIgnore, rel) }
	}

	return &Watcher{
		watcher:        watcher,
		root:           config.Root,
		debounce:       config.Debounce,
		ignored:        config.Ignored,
		onChange:       config.OnChange,
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}, nil
}

// Start watches the root recursively and runs the event loop in a goroutine.
func (w *Watcher) Start() error {
	if err := w.addDirectoryRecursive(w.root); err != nil {
		return fmt.Errorf("failed to watch workspace: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.root).Msg("Workspace watcher started")
	return nil
}

// Stop ends the event loop and drops pending callbacks. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.debounceMu.Lock()
		for _, timer := range w.debounceTimers {
			timer.Stop()
		}
		clear(w.debounceTimers)
		w.debounceMu.Unlock()

		if cerr := w.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
			return
		}
		log.Info().Str("path", w.root).Msg("Workspace watcher stopped")
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("path", w.root).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, ok := w.relative(event.Name)
	if !ok || w.ignored(rel) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addDirectoryRecursive(event.Name)
			return
		}
	}

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.debounceEvent(rel)
	}
}

func (w *Watcher) debounceEvent(rel string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[rel]; exists {
		timer.Stop()
	}

	w.debounceTimers[rel] = time.AfterFunc(w.debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, rel)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
			w.onChange(rel)
		}
	})
}

func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || len(rel) > 3 && rel[:3] == "../" {
		return "", false
	}
	return rel, true
}

func (w *Watcher) addDirectoryRecursive(dir string) error {
	return filepath.Walk(dir, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}

		if rel, ok := w.relative(walkPath); ok && w.ignored(rel) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(walkPath); err != nil {
			log.Warn().Err(err).Str("path", walkPath).Msg("Failed to watch path")
		}
		return nil
	})
}
