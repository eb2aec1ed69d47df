package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "checkpoints.db", cfg.Checkpoint.Path)
	assert.Equal(t, 30*time.Second, cfg.Workspace.SyncInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	require.NoError(t, cfg.Validate())
}

func TestCheckpointPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/deepagent"
	assert.Equal(t, filepath.Join("/var/lib/deepagent", "checkpoints.db"), cfg.CheckpointPath())

	cfg.Checkpoint.Path = "/tmp/cp.db"
	assert.Equal(t, "/tmp/cp.db", cfg.CheckpointPath())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty checkpoint path",
			mutate:  func(c *Config) { c.Checkpoint.Path = "" },
			wantErr: "checkpoint path is required",
		},
		{
			name: "relative path without data dir",
			mutate: func(c *Config) {
				c.DataDir = ""
			},
			wantErr: "data_dir is required",
		},
		{
			name:    "negative sync interval",
			mutate:  func(c *Config) { c.Workspace.SyncInterval = -time.Second },
			wantErr: "sync_interval",
		},
		{
			name:    "sub-second sync interval",
			mutate:  func(c *Config) { c.Workspace.SyncInterval = 500 * time.Millisecond },
			wantErr: "at least 1s",
		},
		{
			name:    "bad ignore pattern",
			mutate:  func(c *Config) { c.Workspace.Ignore = []string{"[unterminated"} },
			wantErr: "ignore pattern",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.AI.Profiles = []AIProfile{{ID: "x", Provider: "gemini", APIKey: "k"}}
			},
			wantErr: "unsupported provider",
		},
		{
			name: "duplicate profile",
			mutate: func(c *Config) {
				c.AI.Profiles = []AIProfile{
					{ID: "a", Provider: "openai", APIKey: "k"},
					{ID: "a", Provider: "anthropic", APIKey: "k"},
				}
			},
			wantErr: "duplicate id",
		},
		{
			name: "missing api key",
			mutate: func(c *Config) {
				c.AI.Profiles = []AIProfile{{ID: "a", Provider: "openai"}}
			},
			wantErr: "api_key is required",
		},
		{
			name:    "empty alias target",
			mutate:  func(c *Config) { c.Models.Aliases["fast"] = "" },
			wantErr: "empty target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigStringMasksKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{{ID: "main", Provider: "anthropic", APIKey: "sk-ant-secret"}}

	out := cfg.String()
	assert.False(t, strings.Contains(out, "sk-ant-secret"))
	assert.Contains(t, out, "***")
	assert.Equal(t, "sk-ant-secret", cfg.AI.Profiles[0].APIKey)
}

func TestValidateDocument(t *testing.T) {
	require.NoError(t, ValidateDocument([]byte(`{"workspace":{"root":"/tmp/ws","sync_interval":"10s"}}`)))

	err := ValidateDocument([]byte(`{"unknown_key": true}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")

	err = ValidateDocument([]byte(`{"ai":{"profiles":[{"id":"a","provider":"gemini"}]}}`))
	require.Error(t, err)

	err = ValidateDocument([]byte(`{"logging":{"level":"loud"}}`))
	require.Error(t, err)
}
