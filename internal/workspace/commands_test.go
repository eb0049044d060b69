package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochihq/pochi/internal/common/logger"
)

type fakeStatus struct{ lines []string }

func (f fakeStatus) RunningSummaries() []string { return f.lines }

func newTestCommands(t *testing.T) (*Commands, *Manager) {
	t.Helper()
	root := writeWorkspace(t, mockWorkspaceConfig)
	m, err := NewManager(root, logger.Default())
	require.NoError(t, err)
	engines := func() []string { return []string{"mock", "claude"} }
	return NewCommands(m, engines, fakeStatus{}, logger.Default()), m
}

func TestCommandAddListRemove(t *testing.T) {
	c, m := newTestCommands(t)
	require.NoError(t, os.MkdirAll(filepath.Join(m.Config().Root, "api"), 0755))

	reply, handled := c.Handle(context.Background(), "add", "api")
	require.True(t, handled)
	assert.Contains(t, reply, "registered api")

	reply, _ = c.Handle(context.Background(), "list", "")
	assert.Contains(t, reply, "api -> api")
	assert.Contains(t, reply, "topic pending")

	reply, _ = c.Handle(context.Background(), "remove", "api")
	assert.Contains(t, reply, "removed api")

	reply, _ = c.Handle(context.Background(), "list", "")
	assert.Contains(t, reply, "no folders registered")
}

func TestCommandEngine(t *testing.T) {
	c, m := newTestCommands(t)

	reply, handled := c.Handle(context.Background(), "engine", "")
	require.True(t, handled)
	assert.Contains(t, reply, "default engine: mock")
	assert.Contains(t, reply, "claude")

	reply, _ = c.Handle(context.Background(), "engine", "claude")
	assert.Contains(t, reply, "default engine is now claude")
	assert.Equal(t, "claude", m.Config().Workspace.DefaultEngine)

	reply, _ = c.Handle(context.Background(), "engine", "gpt9")
	assert.Contains(t, reply, `unknown engine "gpt9"`)
}

func TestCommandStatus(t *testing.T) {
	root := writeWorkspace(t, mockWorkspaceConfig)
	m, err := NewManager(root, logger.Default())
	require.NoError(t, err)

	idle := NewCommands(m, func() []string { return nil }, fakeStatus{}, logger.Default())
	reply, _ := idle.Handle(context.Background(), "status", "")
	assert.Contains(t, reply, "idle")

	busy := NewCommands(m, func() []string { return nil }, fakeStatus{lines: []string{"topic 7: mock in api (3s)"}}, logger.Default())
	reply, _ = busy.Handle(context.Background(), "status", "")
	assert.Contains(t, reply, "topic 7: mock in api")
}

func TestCommandUnknownIsUnhandled(t *testing.T) {
	c, _ := newTestCommands(t)
	_, handled := c.Handle(context.Background(), "deploy", "prod")
	assert.False(t, handled)
}

func TestRepoNameFromURL(t *testing.T) {
	assert.Equal(t, "pochi", repoNameFromURL("https://github.com/acme/pochi.git"))
	assert.Equal(t, "pochi", repoNameFromURL("git@github.com:acme/pochi.git"))
	assert.Equal(t, "pochi", repoNameFromURL("https://example.com/pochi/"))
}
