package workspace

import (
	"fmt"
	"sort"
	"strings"
)

// OrchestratorPreamble renders the context block prepended to fresh
// General-topic prompts so the engine knows the workspace layout and what
// it may ask the user to do. Resumed turns skip it; the session already
// carries the context.
func OrchestratorPreamble(cfg *Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the orchestrator for the %q workspace at %s.\n", cfg.Workspace.Name, cfg.Root)
	b.WriteString("Messages in this topic are not bound to a project folder.\n\n")

	names := make([]string, 0, len(cfg.Folders))
	for name := range cfg.Folders {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		b.WriteString("No folders are registered yet. The user can add one with /clone, /create, or /add.\n")
	} else {
		b.WriteString("Registered folders:\n")
		for _, name := range names {
			f := cfg.Folders[name]
			fmt.Fprintf(&b, "- %s (%s)", name, f.Path)
			if f.Description != "" {
				fmt.Fprintf(&b, ": %s", f.Description)
			}
			if f.PendingTopic {
				b.WriteString(" [topic pending]")
			} else if f.TopicID != 0 {
				fmt.Fprintf(&b, " [topic %d]", f.TopicID)
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nWorkspace commands the user can run: /clone <url> [name], /create <name>, ")
	b.WriteString("/add <path> [name], /list, /remove <name>, /status, /engine [name], /ralph <prompt>, /cancel, /help.\n")
	b.WriteString("Folder-scoped work happens in each folder's own topic. ")
	b.WriteString("Point the user at the right topic instead of doing folder work here.\n")
	return b.String()
}

// WithPreamble joins the preamble and the user prompt.
func WithPreamble(cfg *Config, prompt string) string {
	return OrchestratorPreamble(cfg) + "\n---\n\n" + prompt
}

// StartupMessage is sent to the General stream when the bridge comes up.
func StartupMessage(cfg *Config, engines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pochi is up. Workspace %q, default engine %s.", cfg.Workspace.Name, cfg.Workspace.DefaultEngine)
	if len(engines) > 0 {
		fmt.Fprintf(&b, " Engines: %s.", strings.Join(engines, ", "))
	}
	fmt.Fprintf(&b, " %d folder(s) registered.", len(cfg.Folders))
	if cfg.Workers.Ralph.Enabled {
		b.WriteString(" Ralph loops enabled.")
	}
	return b.String()
}
