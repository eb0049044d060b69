package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	writeConfig(t, root, minimalConfig)
	cfg, err := Load(root)
	require.NoError(t, err)
	return cfg
}

func TestRouteGeneralTopic(t *testing.T) {
	cfg := testConfig(t)
	for _, id := range []int64{0, GeneralTopicID} {
		r := cfg.Route(id, "hello", "")
		assert.True(t, r.IsGeneral, "topic %d", id)
		assert.False(t, r.IsUnboundTopic)
		assert.Equal(t, "hello", r.PromptText)
	}
}

func TestRouteWorkerTopic(t *testing.T) {
	cfg := testConfig(t)
	r := cfg.Route(100, "fix the build", "")
	assert.False(t, r.IsGeneral)
	assert.Equal(t, "backend", r.FolderName)
	require.NotNil(t, r.Folder)
	assert.Equal(t, "fix the build", r.PromptText)
}

func TestRouteUnboundTopic(t *testing.T) {
	cfg := testConfig(t)
	r := cfg.Route(999, "hello", "")
	assert.True(t, r.IsUnboundTopic)
	assert.Nil(t, r.Folder)
}

func TestRouteSlashCommand(t *testing.T) {
	cfg := testConfig(t)

	r := cfg.Route(100, "/status", "")
	assert.True(t, r.IsSlash)
	assert.Equal(t, "status", r.Command)
	assert.Empty(t, r.CommandArgs)

	r = cfg.Route(100, "/add backend ./backend", "")
	assert.Equal(t, "add", r.Command)
	assert.Equal(t, "backend ./backend", r.CommandArgs)
}

func TestRouteSlashWithBotName(t *testing.T) {
	cfg := testConfig(t)
	r := cfg.Route(100, "/cancel@pochi_bot", "")
	assert.True(t, r.IsSlash)
	assert.Equal(t, "cancel", r.Command)
}

func TestRouteSlashMultiline(t *testing.T) {
	cfg := testConfig(t)
	r := cfg.Route(100, "/ralph refactor the parser\nkeep the public API stable", "")
	assert.Equal(t, "ralph", r.Command)
	assert.Equal(t, "refactor the parser\nkeep the public API stable", r.CommandArgs)
}

func TestRouteBranchDirective(t *testing.T) {
	cfg := testConfig(t)
	r := cfg.Route(100, "@feature/login add oauth support", "")
	assert.Equal(t, "feature/login", r.Branch)
	assert.Equal(t, "add oauth support", r.PromptText)
}

func TestRouteBranchAfterSlash(t *testing.T) {
	cfg := testConfig(t)
	r := cfg.Route(100, "/claude @dev fix tests", "")
	assert.Equal(t, "claude", r.Command)
	assert.Equal(t, "dev", r.Branch)
	assert.Equal(t, "fix tests", r.PromptText)
}

func TestRouteBranchInheritedFromReplyFooter(t *testing.T) {
	cfg := testConfig(t)
	r := cfg.Route(100, "continue please", "done\n`ctx: backend @ feature/x`\n`claude resume s1`")
	assert.Equal(t, "feature/x", r.Branch)
}

func TestRouteExplicitBranchBeatsReply(t *testing.T) {
	cfg := testConfig(t)
	r := cfg.Route(100, "@mine continue", "`ctx: backend @ theirs`")
	assert.Equal(t, "mine", r.Branch)
}

func TestParseContextFooter(t *testing.T) {
	folder, branch, ok := ParseContextFooter("answer\n`ctx: backend`")
	require.True(t, ok)
	assert.Equal(t, "backend", folder)
	assert.Empty(t, branch)

	folder, branch, ok = ParseContextFooter("`ctx: backend @ feature/x`")
	require.True(t, ok)
	assert.Equal(t, "backend", folder)
	assert.Equal(t, "feature/x", branch)

	// The last footer wins when history is quoted.
	folder, _, ok = ParseContextFooter("`ctx: old`\ntext\n`ctx: new`")
	require.True(t, ok)
	assert.Equal(t, "new", folder)

	_, _, ok = ParseContextFooter("no footer here")
	assert.False(t, ok)
}

func TestEmailNotParsedAsBranch(t *testing.T) {
	cfg := testConfig(t)
	// A leading @word is a branch directive only at text start; mid-text
	// mentions are left alone.
	r := cfg.Route(100, "email bob@example.com about it", "")
	assert.Empty(t, r.Branch)
	assert.Equal(t, "email bob@example.com about it", r.PromptText)
}
