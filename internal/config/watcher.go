package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher holds the active configuration and reloads it when the file changes.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
type Watcher struct {
	path     string
	current  atomic.Pointer[Config]
	onChange func(*Config)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewWatcher returns a watcher serving initial until the first reload.
// onChange runs on the watcher goroutine after each successful reload.
func NewWatcher(path string, initial *Config, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		watcher:  fw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if initial == nil {
		initial = &Config{}
	}
	w.current.Store(initial)
	return w, nil
}

// Current returns the active configuration. Callers must not modify it.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.started.Store(true)
	go w.run(ctx)
	return nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config watcher error")
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		log.WithError(err).WithField("path", w.path).Warn("config reload failed, keeping previous configuration")
		return
	}
	w.current.Store(cfg)
	log.WithField("path", w.path).Info("configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
