package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deepagent.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoaderMissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Checkpoint.Path, cfg.Checkpoint.Path)
	assert.Equal(t, "", cfg.Workspace.Root)
}

func TestLoaderReadsFile(t *testing.T) {
	path := writeConfig(t, `{
  "data_dir": "/srv/deepagent",
  "workspace": {"root": "/srv/ws", "watch": true, "sync_interval": "5s", "ignore": ["dist/**"]},
  "models": {"default": "gpt-4.1"},
  "ai": {"profiles": [{"id": "main", "provider": "openai", "api_key": "sk-test", "priority": 1}]},
  "logging": {"level": "debug"}
}`)

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/deepagent", cfg.DataDir)
	assert.Equal(t, "/srv/ws", cfg.Workspace.Root)
	assert.True(t, cfg.Workspace.Watch)
	assert.Equal(t, 5*time.Second, cfg.Workspace.SyncInterval)
	assert.Equal(t, []string{"dist/**"}, cfg.Workspace.Ignore)
	assert.Equal(t, "gpt-4.1", cfg.Models.Default)
	require.Len(t, cfg.AI.Profiles, 1)
	assert.Equal(t, "sk-test", cfg.AI.Profiles[0].APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep defaults
	assert.Equal(t, "checkpoints.db", cfg.Checkpoint.Path)
}

func TestLoaderRejectsSchemaViolation(t *testing.T) {
	path := writeConfig(t, `{"workspace": {"root": 42}}`)

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("DEEPAGENT_WORKSPACE_ROOT", "/env/ws")
	t.Setenv("DEEPAGENT_MODELS_DEFAULT", "claude-opus-4-1")

	path := writeConfig(t, `{"workspace": {"root": "/file/ws"}}`)
	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "/env/ws", cfg.Workspace.Root)
	assert.Equal(t, "claude-opus-4-1", cfg.Models.Default)
}

func TestLoaderEnvOverrideWithoutFile(t *testing.T) {
	t.Setenv("DEEPAGENT_LOGGING_LEVEL", "warn")

	cfg, err := NewLoader(filepath.Join(t.TempDir(), "absent.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoaderPath(t *testing.T) {
	assert.Equal(t, DefaultConfigPath(), NewLoader("").Path())
	assert.Equal(t, "/x.json", NewLoader("/x.json").Path())
}
