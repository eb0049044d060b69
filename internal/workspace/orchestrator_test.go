package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrchestratorPreambleListsFolders(t *testing.T) {
	cfg := &Config{
		Workspace: WorkspaceSection{Name: "acme", DefaultEngine: "mock"},
		Root:      "/srv/acme",
		Folders: map[string]*Folder{
			"api": {Path: "api", TopicID: 7, Description: "the backend"},
			"web": {Path: "web", PendingTopic: true},
		},
	}
	out := OrchestratorPreamble(cfg)
	assert.Contains(t, out, `"acme" workspace at /srv/acme`)
	assert.Contains(t, out, "- api (api): the backend [topic 7]")
	assert.Contains(t, out, "- web (web) [topic pending]")
	assert.Contains(t, out, "/clone <url>")
}

func TestOrchestratorPreambleEmptyWorkspace(t *testing.T) {
	cfg := &Config{Workspace: WorkspaceSection{Name: "acme"}, Folders: map[string]*Folder{}}
	assert.Contains(t, OrchestratorPreamble(cfg), "No folders are registered yet")
}

func TestWithPreambleKeepsPrompt(t *testing.T) {
	cfg := &Config{Workspace: WorkspaceSection{Name: "acme"}, Folders: map[string]*Folder{}}
	out := WithPreamble(cfg, "what projects do we have?")
	assert.Contains(t, out, "---\n\nwhat projects do we have?")
}

func TestStartupMessage(t *testing.T) {
	cfg := &Config{
		Workspace: WorkspaceSection{Name: "acme", DefaultEngine: "mock"},
		Folders:   map[string]*Folder{"api": {Path: "api"}},
	}
	out := StartupMessage(cfg, []string{"mock", "claude"})
	assert.Contains(t, out, `Workspace "acme"`)
	assert.Contains(t, out, "default engine mock")
	assert.Contains(t, out, "mock, claude")
	assert.Contains(t, out, "1 folder(s)")
}
