package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PromptWatcher serves the current prompt and hot-reloads it when the
// prompt file changes on disk. Sessions capture the prompt at construction;
// only sessions opened after a reload see the new prompt.
type PromptWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	current Prompt

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewPromptWatcher creates a watcher seeded with fallback. With an empty
// path the watcher is static and Start is a no-op.
func NewPromptWatcher(path string, fallback Prompt, logger zerolog.Logger) (*PromptWatcher, error) {
	w := &PromptWatcher{
		path:    path,
		logger:  logger,
		done:    make(chan struct{}),
		current: fallback,
	}

	if path == "" {
		return w, nil
	}

	p, err := LoadPrompt(path)
	if err != nil {
		return nil, err
	}
	w.current = p

	return w, nil
}

// Start begins watching the prompt file for changes.
func (w *PromptWatcher) Start() error {
	if w.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directory: editors replace files on save, which drops the
	// watch when watching the file directly.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch prompt file: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().
		Str("path", w.path).
		Msg("Prompt watcher started")

	return nil
}

// Stop stops the watcher
func (w *PromptWatcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// Current returns the prompt in effect for new sessions.
func (w *PromptWatcher) Current() Prompt {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// eventLoop processes file system events
func (w *PromptWatcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Prompt watcher error")

		case <-w.done:
			return
		}
	}
}

// debounceReload coalesces rapid save events into one reload
func (w *PromptWatcher) debounceReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
		select {
		case <-w.done:
			return
		default:
			w.reload()
		}
	})
}

func (w *PromptWatcher) reload() {
	p, err := LoadPrompt(w.path)
	if err != nil {
		// Keep serving the last good prompt.
		w.logger.Error().Err(err).Str("path", w.path).Msg("Prompt reload failed")
		return
	}

	w.mu.Lock()
	w.current = p
	w.mu.Unlock()

	w.logger.Info().
		Str("path", w.path).
		Int("examples", len(p.Examples)).
		Msg("Prompt reloaded")
}
