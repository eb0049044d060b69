package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/common/logger"
)

// Manager owns the live workspace config. Reads see an immutable snapshot;
// admin commands mutate a clone, persist it, then swap. Subscribers are
// notified after every swap.
type Manager struct {
	log *logger.Logger

	mu   sync.RWMutex
	cfg  *Config
	subs []func(*Config)
}

// NewManager loads the config at root and wraps it.
func NewManager(root string, log *logger.Logger) (*Manager, error) {
	cfg, err := Load(root)
	if err != nil {
		return nil, err
	}
	return &Manager{log: log, cfg: cfg}, nil
}

// Config returns the current snapshot. Callers must not mutate it.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnReload registers a callback invoked with each new snapshot.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Update clones the config, applies fn, validates, persists, and swaps.
// On any error the previous snapshot stays live and on disk.
func (m *Manager) Update(fn func(*Config) error) error {
	m.mu.Lock()
	next := m.cfg.Clone()
	if err := fn(next); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := next.validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := next.Save(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("persist workspace config: %w", err)
	}
	m.cfg = next
	subs := append([]func(*Config){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return nil
}

// Reload re-reads the config from disk and swaps it in.
func (m *Manager) Reload() error {
	m.mu.Lock()
	cfg, err := Load(m.cfg.Root)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.cfg = cfg
	subs := append([]func(*Config){}, m.subs...)
	m.mu.Unlock()

	m.log.Info("workspace config reloaded", zap.String("root", cfg.Root))
	for _, fn := range subs {
		fn(cfg)
	}
	return nil
}

// AddFolder registers a directory under the workspace root as a folder.
// The directory must exist; the folder starts with a pending topic so the
// bridge creates its forum topic on the next pass.
func (m *Manager) AddFolder(name, relPath, description string) error {
	return m.Update(func(cfg *Config) error {
		if _, exists := cfg.Folders[name]; exists {
			return fmt.Errorf("folder %q already exists", name)
		}
		abs := filepath.Join(cfg.Root, relPath)
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("folder path %s: %w", relPath, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("folder path %s is not a directory", relPath)
		}
		cfg.Folders[name] = &Folder{
			Path:         relPath,
			Description:  description,
			PendingTopic: true,
		}
		return nil
	})
}

// RemoveFolder unbinds a folder. The directory on disk is left alone.
func (m *Manager) RemoveFolder(name string) error {
	return m.Update(func(cfg *Config) error {
		if _, exists := cfg.Folders[name]; !exists {
			return fmt.Errorf("no folder named %q", name)
		}
		delete(cfg.Folders, name)
		return nil
	})
}

// SetTopicID binds a folder to its created forum topic and clears the
// pending flag.
func (m *Manager) SetTopicID(name string, topicID int64) error {
	return m.Update(func(cfg *Config) error {
		f, exists := cfg.Folders[name]
		if !exists {
			return fmt.Errorf("no folder named %q", name)
		}
		f.TopicID = topicID
		f.PendingTopic = false
		return nil
	})
}

// SetDefaultEngine switches the workspace default engine.
func (m *Manager) SetDefaultEngine(engine string) error {
	return m.Update(func(cfg *Config) error {
		cfg.Workspace.DefaultEngine = engine
		return nil
	})
}

// PendingFolders returns folders awaiting topic creation, sorted by name.
func (m *Manager) PendingFolders() []string {
	cfg := m.Config()
	var names []string
	for name, f := range cfg.Folders {
		if f.PendingTopic {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FolderNames returns all folder names sorted.
func (m *Manager) FolderNames() []string {
	cfg := m.Config()
	names := make([]string, 0, len(cfg.Folders))
	for name := range cfg.Folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
