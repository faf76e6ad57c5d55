// manager.go holds the live configuration singleton: snapshot reads,
// validated runtime updates, and optional file-watch hot reload.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/faultline/faultline-go/pkg/faultline/ringlog"
)

// Manager owns the live Config. Reads return copies; updates merge a
// validated Patch. Safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	cfg         Config
	log         *ringlog.Logger
	subscribers []func(Config)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the log sink for validation warnings.
func WithLogger(log *ringlog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager creates a Manager holding initial.
func NewManager(initial Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg: initial,
		log: ringlog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.cfg
	cfg.Backends = append([]BackendTarget(nil), m.cfg.Backends...)
	return cfg
}

// Update merges a patch into the live configuration. Fields failing
// their range check are ignored with a warning; Update never fails.
func (m *Manager) Update(p Patch) {
	m.mu.Lock()
	p.apply(&m.cfg, func(field string, value any) {
		m.log.Warn("ignoring invalid config field", nil, map[string]any{"field": field, "value": fmt.Sprintf("%v", value)})
	})
	cfg := m.cfg
	subs := append(make([]func(Config), 0, len(m.subscribers)), m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// Subscribe registers a callback invoked after every successful
// update, including file-watch reloads.
func (m *Manager) Subscribe(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Watch reloads the given yaml patch file whenever it changes, until
// ctx is cancelled. The initial content is applied immediately.
func (m *Manager) Watch(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory: editors replace files, which drops a watch
	// on the file itself.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	m.reloadFrom(absPath)

	go m.watchLoop(ctx, watcher, absPath)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, absPath string) {
	defer func() {
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				m.reloadFrom(absPath)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("config watcher error", err, nil)
		}
	}
}

// reloadFrom applies the file onto the current configuration.
func (m *Manager) reloadFrom(path string) {
	m.mu.Lock()
	base := m.cfg
	m.mu.Unlock()

	cfg, err := LoadFile(base, path, m.log)
	if err != nil {
		m.log.Warn("config reload failed", err, map[string]any{"path": path})
		return
	}

	m.mu.Lock()
	m.cfg = cfg
	subs := append(make([]func(Config), 0, len(m.subscribers)), m.subscribers...)
	m.mu.Unlock()

	m.log.Info("config reloaded", map[string]any{"path": path})
	for _, fn := range subs {
		fn(cfg)
	}
}
