package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/common/logger"
)

// StatusSource reports what the bridge is currently running; the /status
// command renders it.
type StatusSource interface {
	RunningSummaries() []string
}

// Commands implements the built-in workspace slash commands. Commands that
// need turn state (/cancel, /ralph) are handled by the bridge itself.
type Commands struct {
	manager *Manager
	engines func() []string
	status  StatusSource
	log     *logger.Logger
}

// NewCommands wires the built-in command handlers. engines lists the
// loadable engine IDs for /engine validation.
func NewCommands(manager *Manager, engines func() []string, status StatusSource, log *logger.Logger) *Commands {
	return &Commands{manager: manager, engines: engines, status: status, log: log}
}

// Handle dispatches one slash command. handled is false for commands the
// bridge owns or external plugin commands.
func (c *Commands) Handle(ctx context.Context, cmd, args string) (reply string, handled bool) {
	switch cmd {
	case "clone":
		return c.clone(ctx, args), true
	case "create":
		return c.create(ctx, args), true
	case "add":
		return c.add(args), true
	case "list":
		return c.list(), true
	case "remove":
		return c.remove(args), true
	case "status":
		return c.statusReply(), true
	case "engine":
		return c.engine(args), true
	case "help":
		return helpText, true
	default:
		return "", false
	}
}

const helpText = `Workspace commands:
/clone <url> [name] - clone a repository into the workspace
/create <name> - create an empty git repository
/add <path> [name] - register an existing directory
/list - list registered folders
/remove <name> - unregister a folder (files stay on disk)
/status - show running tasks
/engine [name] - show or set the default engine
/ralph <prompt> - start an iterating loop in this topic
/cancel - cancel the running task in this topic`

func (c *Commands) clone(ctx context.Context, args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "usage: /clone <url> [name]"
	}
	url := fields[0]
	name := repoNameFromURL(url)
	if len(fields) > 1 {
		name = fields[1]
	}
	if name == "" {
		return "cannot derive a folder name from that URL; pass one: /clone <url> <name>"
	}
	root := c.manager.Config().Root
	dest := filepath.Join(root, name)
	if _, err := os.Stat(dest); err == nil {
		return fmt.Sprintf("%s already exists in the workspace", name)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", url, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		c.log.Error("git clone failed", zap.String("url", url), zap.Error(err))
		return fmt.Sprintf("clone failed: %s", strings.TrimSpace(string(out)))
	}
	if err := c.manager.AddFolder(name, name, ""); err != nil {
		return fmt.Sprintf("cloned, but registering the folder failed: %v", err)
	}
	return fmt.Sprintf("cloned %s into %s; its topic will appear shortly", url, name)
}

func (c *Commands) create(ctx context.Context, args string) string {
	name := strings.TrimSpace(args)
	if name == "" {
		return "usage: /create <name>"
	}
	root := c.manager.Config().Root
	dest := filepath.Join(root, name)
	if _, err := os.Stat(dest); err == nil {
		return fmt.Sprintf("%s already exists in the workspace", name)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Sprintf("create failed: %v", err)
	}
	cmd := exec.CommandContext(ctx, "git", "init", dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Sprintf("git init failed: %s", strings.TrimSpace(string(out)))
	}
	if err := c.manager.AddFolder(name, name, ""); err != nil {
		return fmt.Sprintf("created, but registering the folder failed: %v", err)
	}
	return fmt.Sprintf("created %s; its topic will appear shortly", name)
}

func (c *Commands) add(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "usage: /add <path> [name]"
	}
	rel := filepath.Clean(fields[0])
	name := filepath.Base(rel)
	if len(fields) > 1 {
		name = fields[1]
	}
	if err := c.manager.AddFolder(name, rel, ""); err != nil {
		return fmt.Sprintf("add failed: %v", err)
	}
	return fmt.Sprintf("registered %s -> %s; its topic will appear shortly", name, rel)
}

func (c *Commands) list() string {
	cfg := c.manager.Config()
	names := c.manager.FolderNames()
	if len(names) == 0 {
		return "no folders registered; use /clone, /create, or /add"
	}
	var b strings.Builder
	for _, name := range names {
		f := cfg.Folders[name]
		fmt.Fprintf(&b, "%s -> %s", name, f.Path)
		switch {
		case f.PendingTopic:
			b.WriteString(" (topic pending)")
		case f.TopicID != 0:
			fmt.Fprintf(&b, " (topic %d)", f.TopicID)
		}
		if f.Description != "" {
			fmt.Fprintf(&b, " - %s", f.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Commands) remove(args string) string {
	name := strings.TrimSpace(args)
	if name == "" {
		return "usage: /remove <name>"
	}
	if err := c.manager.RemoveFolder(name); err != nil {
		return fmt.Sprintf("remove failed: %v", err)
	}
	return fmt.Sprintf("removed %s; files stay on disk", name)
}

func (c *Commands) statusReply() string {
	var running []string
	if c.status != nil {
		running = c.status.RunningSummaries()
	}
	if len(running) == 0 {
		return "idle; no tasks running"
	}
	return "running:\n" + strings.Join(running, "\n")
}

func (c *Commands) engine(args string) string {
	name := strings.TrimSpace(args)
	if name == "" {
		cfg := c.manager.Config()
		available := strings.Join(c.engines(), ", ")
		return fmt.Sprintf("default engine: %s (available: %s)", cfg.Workspace.DefaultEngine, available)
	}
	known := false
	for _, id := range c.engines() {
		if id == name {
			known = true
			break
		}
	}
	if !known {
		return fmt.Sprintf("unknown engine %q (available: %s)", name, strings.Join(c.engines(), ", "))
	}
	if err := c.manager.SetDefaultEngine(name); err != nil {
		return fmt.Sprintf("setting engine failed: %v", err)
	}
	return fmt.Sprintf("default engine is now %s", name)
}

// repoNameFromURL derives a folder name from a git URL.
func repoNameFromURL(url string) string {
	s := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
