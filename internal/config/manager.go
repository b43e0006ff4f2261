package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manager holds the live configuration and notifies listeners when it changes.
type Manager struct {
	mu        sync.RWMutex
	path      string
	config    *Config
	callbacks []func(*Config)
}

// NewManager loads path (or the default path when empty).
func NewManager(path string) (*Manager, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, config: cfg}, nil
}

func (m *Manager) Path() string { return m.path }

// Get returns a copy; edit through Update.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// Update applies fn to a copy, validates it and swaps it in.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	next := *m.config
	fn(&next)
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("validating config: %w", err)
	}
	m.config = &next
	cbs := slices.Clone(m.callbacks)
	m.mu.Unlock()

	for _, cb := range cbs {
		c := next
		cb(&c)
	}
	return nil
}

// Reload re-reads the file and notifies listeners.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}
	return m.Update(func(c *Config) { *c = *cfg })
}

// Save writes the current configuration atomically.
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp, m.path)
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}
