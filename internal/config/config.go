package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/bmatcuk/doublestar/v4"
)

const appName = "deepagent"

// Config is the top-level deepagent configuration
type Config struct {
	// Data directory; relative checkpoint paths resolve against it
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Checkpoint CheckpointConfig `json:"checkpoint" mapstructure:"checkpoint"`
	Workspace  WorkspaceConfig  `json:"workspace" mapstructure:"workspace"`
	Models     ModelsConfig     `json:"models" mapstructure:"models"`
	AI         AIConfig         `json:"ai" mapstructure:"ai"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// CheckpointConfig configures the checkpoint store
type CheckpointConfig struct {
	Path          string `json:"path" mapstructure:"path"`
	BusyTimeoutMs int    `json:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// WorkspaceConfig configures the synced workspace backend.
// An empty Root selects memory-only mode.
type WorkspaceConfig struct {
	Root         string        `json:"root" mapstructure:"root"`
	Watch        bool          `json:"watch" mapstructure:"watch"`
	SyncInterval time.Duration `json:"sync_interval" mapstructure:"sync_interval"`
	Ignore       []string      `json:"ignore" mapstructure:"ignore"`
	MaxFileSize  int64         `json:"max_file_size" mapstructure:"max_file_size"`
}

// ModelsConfig holds model selection
type ModelsConfig struct {
	Default string            `json:"default" mapstructure:"default"`
	Aliases map[string]string `json:"aliases" mapstructure:"aliases"`
}

// AIConfig holds provider credentials
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
	EnvFiles []string    `json:"env_files" mapstructure:"env_files"`
}

// AIProfile is one provider credential; lower Priority wins
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MinSyncInterval is the shortest periodic reconcile the scheduler can honor.
const MinSyncInterval = time.Second

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		DataDir: filepath.Join(xdg.DataHome, appName),
		Checkpoint: CheckpointConfig{
			Path:          "checkpoints.db",
			BusyTimeoutMs: 5000,
		},
		Workspace: WorkspaceConfig{
			SyncInterval: 30 * time.Second,
			Ignore:       []string{".git/**", "node_modules/**"},
			MaxFileSize:  10 * 1024 * 1024,
		},
		Models: ModelsConfig{
			Default: "claude-sonnet-4-5",
			Aliases: map[string]string{
				"sonnet": "claude-sonnet-4-5",
				"opus":   "claude-opus-4-1",
				"gpt":    "gpt-4.1",
			},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
	}
}

// DefaultConfigPath returns the config file location under the XDG config home.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, appName+".json")
}

// CheckpointPath returns the absolute checkpoint database path.
func (c *Config) CheckpointPath() string {
	if filepath.IsAbs(c.Checkpoint.Path) {
		return c.Checkpoint.Path
	}
	return filepath.Join(c.DataDir, c.Checkpoint.Path)
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	masked := *c
	masked.AI.Profiles = make([]AIProfile, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		if p.APIKey != "" {
			p.APIKey = "***"
		}
		masked.AI.Profiles[i] = p
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

var knownProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
}

// Validate checks semantic constraints the JSON schema cannot express
func (c *Config) Validate() error {
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint path is required")
	}
	if !filepath.IsAbs(c.Checkpoint.Path) && c.DataDir == "" {
		return fmt.Errorf("data_dir is required for relative checkpoint path %q", c.Checkpoint.Path)
	}
	if c.Checkpoint.BusyTimeoutMs < 0 {
		return fmt.Errorf("checkpoint busy_timeout_ms must be >= 0, got %d", c.Checkpoint.BusyTimeoutMs)
	}
	if c.Workspace.SyncInterval < 0 {
		return fmt.Errorf("workspace sync_interval must be >= 0, got %s", c.Workspace.SyncInterval)
	}
	if c.Workspace.SyncInterval > 0 && c.Workspace.SyncInterval < MinSyncInterval {
		return fmt.Errorf("workspace sync_interval must be 0 or at least %s, got %s", MinSyncInterval, c.Workspace.SyncInterval)
	}
	if c.Workspace.MaxFileSize < 0 {
		return fmt.Errorf("workspace max_file_size must be >= 0, got %d", c.Workspace.MaxFileSize)
	}
	for _, pattern := range c.Workspace.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("workspace ignore pattern %q is invalid", pattern)
		}
	}

	seen := make(map[string]bool)
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: id is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate id", profile.ID)
		}
		seen[profile.ID] = true
		if !knownProviders[profile.Provider] {
			return fmt.Errorf("AI profile %s: unsupported provider %q", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}

	for alias, target := range c.Models.Aliases {
		if target == "" {
			return fmt.Errorf("model alias %q has an empty target", alias)
		}
	}

	return nil
}
