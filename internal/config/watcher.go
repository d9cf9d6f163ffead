package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeEvent describes a change to a watched file
type ChangeEvent struct {
	Path      string    `json:"path"`
	File      string    `json:"file"`
	Action    string    `json:"action"` // create, modify, delete, rename
	Timestamp time.Time `json:"timestamp"`
}

// ChangeHandler is called when a watched file changes
type ChangeHandler func(event ChangeEvent) error

type registration struct {
	pattern string
	handler ChangeHandler
}

// Watcher hot-reloads side files (pricing overrides, rate limits, rego
// overlays) from one directory. Handlers are matched by filepath.Match
// pattern against the base name and run sequentially on the watch goroutine.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	handlers []registration
	settle   time.Duration
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewWatcher creates a watcher for dir
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		dir:     dir,
		watcher: fw,
		settle:  50 * time.Millisecond,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
	}, nil
}

// On registers handler for files whose base name matches pattern (e.g. "*.rego")
func (w *Watcher) On(pattern string, handler ChangeHandler) error {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	w.mu.Lock()
	w.handlers = append(w.handlers, registration{pattern: pattern, handler: handler})
	w.mu.Unlock()
	w.logger.Debug("Watch handler registered", zap.String("pattern", pattern))
	return nil
}

// Start begins watching; it returns once the directory is registered
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	go w.loop(ctx)

	w.logger.Info("Config watcher started", zap.String("dir", w.dir))
	return nil
}

// Stop stops the watch loop and closes the underlying watcher
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	close(w.stopCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		action = "delete"
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		action = "rename"
	default:
		return
	}

	name := filepath.Base(event.Name)
	w.mu.RLock()
	var matched []ChangeHandler
	for _, reg := range w.handlers {
		if ok, _ := filepath.Match(reg.pattern, name); ok {
			matched = append(matched, reg.handler)
		}
	}
	w.mu.RUnlock()
	if len(matched) == 0 {
		return
	}

	// Editors often write in several steps
	if action == "create" || action == "modify" {
		time.Sleep(w.settle)
	}

	ev := ChangeEvent{Path: event.Name, File: name, Action: action, Timestamp: time.Now()}
	for _, h := range matched {
		if err := h(ev); err != nil {
			w.logger.Error("Config reload handler failed",
				zap.String("file", name),
				zap.String("action", action),
				zap.Error(err),
			)
			continue
		}
		w.logger.Info("Config reloaded", zap.String("file", name), zap.String("action", action))
	}
}
