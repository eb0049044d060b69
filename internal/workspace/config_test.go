package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, body string) string {
	t.Helper()
	path := ConfigPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
[workspace]
name = "demo"
default_engine = "claude"

[folders.backend]
path = "backend"
topic_id = 100

[folders.frontend]
path = "frontend"
topic_id = 200
`

func TestLoadAndLookup(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, minimalConfig)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Workspace.Name)
	assert.Equal(t, root, cfg.Root)

	name, f := cfg.FolderByTopic(100)
	require.NotNil(t, f)
	assert.Equal(t, "backend", name)
	assert.Equal(t, filepath.Join(root, "backend"), cfg.FolderPath(f))

	_, f = cfg.FolderByTopic(999)
	assert.Nil(t, f)
}

func TestLoadValidation(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[workspace]
name = "demo"
`)
	_, err := Load(root)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Msg, "default_engine")
}

func TestLoadRejectsDuplicateTopics(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[workspace]
name = "demo"
default_engine = "claude"

[folders.a]
path = "a"
topic_id = 5

[folders.b]
path = "b"
topic_id = 5
`)
	_, err := Load(root)
	assert.ErrorContains(t, err, "share topic")
}

func TestDiscoverWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, minimalConfig)
	nested := filepath.Join(root, "backend", "src", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := Discover(nested)
	require.NoError(t, err)
	// Resolve symlinks so macOS /tmp indirection does not break equality.
	wantRoot, _ := filepath.EvalSymlinks(root)
	gotRoot, _ := filepath.EvalSymlinks(found)
	assert.Equal(t, wantRoot, gotRoot)
}

func TestDiscoverNotFound(t *testing.T) {
	_, err := Discover(t.TempDir())
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Msg, "not in a workspace")
}

func TestSaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, minimalConfig)
	cfg, err := Load(root)
	require.NoError(t, err)

	cfg.Folders["api"] = &Folder{Path: "api", TopicID: 300}
	require.NoError(t, cfg.Save())

	again, err := Load(root)
	require.NoError(t, err)
	name, f := again.FolderByTopic(300)
	require.NotNil(t, f)
	assert.Equal(t, "api", name)
}

func TestCloneIsDeep(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, minimalConfig)
	cfg, err := Load(root)
	require.NoError(t, err)

	clone := cfg.Clone()
	clone.Folders["backend"].TopicID = 777
	clone.Workspace.Name = "other"

	assert.Equal(t, int64(100), cfg.Folders["backend"].TopicID)
	assert.Equal(t, "demo", cfg.Workspace.Name)
}

func TestMigrateReposToFolders(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, `
[workspace]
name = "demo"
default_engine = "claude"

[repos.backend]
path = "backend"
topic_id = 100
`)
	migrated, err := Migrate(path)
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.FileExists(t, path+".bak")

	cfg, err := Load(root)
	require.NoError(t, err)
	_, f := cfg.FolderByTopic(100)
	require.NotNil(t, f)
}

func TestMigrateTelegramFields(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, `
[workspace]
name = "demo"
default_engine = "claude"
bot_token = "123:abc"
telegram_group_id = -100500
`)
	migrated, err := Migrate(path)
	require.NoError(t, err)
	assert.True(t, migrated)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, int64(-100500), cfg.Telegram.ChatID)
}

func TestMigrateIdempotent(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, minimalConfig)

	migrated, err := Migrate(path)
	require.NoError(t, err)
	assert.False(t, migrated)
	// No backup for an untouched file.
	assert.NoFileExists(t, path+".bak")

	before, err := os.ReadFile(path)
	require.NoError(t, err)
	migrated, err = Migrate(path)
	require.NoError(t, err)
	assert.False(t, migrated)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMigrateBackupOnlyOnce(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, `
[workspace]
name = "demo"
default_engine = "claude"

[repos.a]
path = "a"
`)
	_, err := Migrate(path)
	require.NoError(t, err)
	bak1, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)

	// Second run applies nothing and must not rewrite the backup.
	migrated, err := Migrate(path)
	require.NoError(t, err)
	assert.False(t, migrated)
	bak2, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, bak1, bak2)
}
