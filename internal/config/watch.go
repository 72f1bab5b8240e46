package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch invokes onChange after edits to the config file settle. Editors
// replace files rather than writing in place, so the parent directory is
// watched and events are debounced. A zero debounce uses 500ms.
//
// The returned stop function releases the watcher; onChange is never
// called after stop returns.
func Watch(path string, debounce time.Duration, logger *log.Logger, onChange func()) (func(), error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	done := make(chan struct{})
	idle := make(chan struct{})

	go func() {
		defer close(idle)

		var pending *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-done:
				if pending != nil {
					pending.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending == nil {
					pending = time.NewTimer(debounce)
					fire = pending.C
				} else {
					if !pending.Stop() {
						select {
						case <-pending.C:
						default:
						}
					}
					pending.Reset(debounce)
				}

			case <-fire:
				pending = nil
				fire = nil
				logger.Printf("Config file changed: %s", abs)
				onChange()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("Config watcher error: %v", err)
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
		<-idle
	}, nil
}
