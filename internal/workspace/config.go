// Package workspace holds the workspace configuration, topic routing, the
// message debouncer, and the chat bridge that drives engine turns.
package workspace

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigDir and ConfigFile name the on-disk workspace marker:
// <root>/.pochi/workspace.toml.
const (
	ConfigDir  = ".pochi"
	ConfigFile = "workspace.toml"
)

// GeneralTopicID is the implicit topic ID of a forum's general stream.
const GeneralTopicID = 1

// ConfigError reports a broken or missing workspace configuration. It is
// fatal at startup and never raised during turn execution.
type ConfigError struct {
	Path string
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("workspace config %s: %s", e.Path, e.Msg)
	}
	return "workspace config: " + e.Msg
}

// Folder binds one chat topic to a workspace-relative directory.
type Folder struct {
	Path         string  `toml:"path"`
	Channels     []int64 `toml:"channels,omitempty"`
	TopicID      int64   `toml:"topic_id,omitempty"`
	Description  string  `toml:"description,omitempty"`
	Origin       string  `toml:"origin,omitempty"`
	PendingTopic bool    `toml:"pending_topic,omitempty"`
}

// WorkspaceSection is the [workspace] table.
type WorkspaceSection struct {
	Name             string `toml:"name"`
	DefaultEngine    string `toml:"default_engine"`
	DefaultTransport string `toml:"default_transport,omitempty"`
	WorktreesDir     string `toml:"worktrees_dir,omitempty"`
	WorktreeBase     string `toml:"worktree_base,omitempty"`
}

// TelegramSection is the [telegram] table.
type TelegramSection struct {
	BotToken string `toml:"bot_token,omitempty"`
	ChatID   int64  `toml:"chat_id,omitempty"`
}

// RalphSection is the [workers.ralph] table.
type RalphSection struct {
	Enabled              bool `toml:"enabled"`
	DefaultMaxIterations int  `toml:"default_max_iterations,omitempty"`
}

// WorkersSection is the [workers] table.
type WorkersSection struct {
	Ralph RalphSection `toml:"ralph,omitempty"`
}

// Config is the decoded workspace.toml. It is immutable during a turn;
// admin commands mutate a clone and swap (see Manager).
type Config struct {
	Workspace  WorkspaceSection          `toml:"workspace"`
	Telegram   TelegramSection           `toml:"telegram,omitempty"`
	Transports map[string]map[string]any `toml:"transports,omitempty"`
	Folders    map[string]*Folder        `toml:"folders,omitempty"`
	Workers    WorkersSection            `toml:"workers,omitempty"`
	Plugins    map[string]map[string]any `toml:"plugins,omitempty"`

	// Root is the workspace root directory; set at load, not serialized.
	Root string `toml:"-"`
}

// ConfigPath returns the workspace.toml path under a root.
func ConfigPath(root string) string {
	return filepath.Join(root, ConfigDir, ConfigFile)
}

// Discover walks from dir upward and returns the first directory that
// contains .pochi/workspace.toml.
func Discover(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(ConfigPath(dir)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &ConfigError{Msg: "not in a workspace (no .pochi/workspace.toml found walking up)"}
		}
		dir = parent
	}
}

// Load reads and validates the workspace config rooted at root. Migrations
// run first so stale layouts load cleanly.
func Load(root string) (*Config, error) {
	path := ConfigPath(root)
	if _, err := Migrate(path); err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Path: path, Msg: "not found"}
		}
		return nil, &ConfigError{Path: path, Msg: err.Error()}
	}
	cfg.Root = root
	if cfg.Folders == nil {
		cfg.Folders = make(map[string]*Folder)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Workspace.Name == "" {
		return &ConfigError{Path: ConfigPath(c.Root), Msg: "workspace.name is required"}
	}
	if c.Workspace.DefaultEngine == "" {
		return &ConfigError{Path: ConfigPath(c.Root), Msg: "workspace.default_engine is required"}
	}
	seen := make(map[int64]string)
	for name, f := range c.Folders {
		if f.Path == "" {
			return &ConfigError{Path: ConfigPath(c.Root), Msg: fmt.Sprintf("folder %q has no path", name)}
		}
		if f.TopicID != 0 {
			if other, dup := seen[f.TopicID]; dup {
				return &ConfigError{Path: ConfigPath(c.Root), Msg: fmt.Sprintf("folders %q and %q share topic %d", other, name, f.TopicID)}
			}
			seen[f.TopicID] = name
		}
	}
	return nil
}

// Save writes the config atomically (write temp, rename).
func (c *Config) Save() error {
	path := ConfigPath(c.Root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode workspace config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Clone deep-copies the config for clone-and-swap mutation.
func (c *Config) Clone() *Config {
	out := *c
	out.Folders = make(map[string]*Folder, len(c.Folders))
	for name, f := range c.Folders {
		cp := *f
		cp.Channels = append([]int64(nil), f.Channels...)
		out.Folders[name] = &cp
	}
	out.Transports = cloneMaps(c.Transports)
	out.Plugins = cloneMaps(c.Plugins)
	return &out
}

func cloneMaps(in map[string]map[string]any) map[string]map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(in))
	for k, v := range in {
		inner := make(map[string]any, len(v))
		for ik, iv := range v {
			inner[ik] = iv
		}
		out[k] = inner
	}
	return out
}

// FolderByTopic returns the folder bound to a topic ID, and its name.
func (c *Config) FolderByTopic(topicID int64) (string, *Folder) {
	for name, f := range c.Folders {
		if f.TopicID == topicID && f.TopicID != 0 {
			return name, f
		}
	}
	return "", nil
}

// FolderPath resolves a folder's absolute path under the workspace root.
func (c *Config) FolderPath(f *Folder) string {
	if filepath.IsAbs(f.Path) {
		return f.Path
	}
	return filepath.Join(c.Root, f.Path)
}

// RalphMaxIterations returns the configured iteration cap with a sane
// default.
func (c *Config) RalphMaxIterations() int {
	if n := c.Workers.Ralph.DefaultMaxIterations; n > 0 {
		return n
	}
	return 10
}
