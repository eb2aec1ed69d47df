package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// envKeys are bound explicitly so they override even when absent from the file.
var envKeys = []string{
	"data_dir",
	"checkpoint.path",
	"workspace.root",
	"workspace.watch",
	"workspace.sync_interval",
	"models.default",
	"logging.level",
	"logging.file",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader; an empty path selects DefaultConfigPath.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	if l.configPath == "" {
		return DefaultConfigPath()
	}
	return l.configPath
}

// Load reads the config file if present, applies DEEPAGENT_* environment
// overrides on top of the defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	configPath := l.Path()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("DEEPAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := ValidateDocument(data); err != nil {
			return nil, fmt.Errorf("%s: %w", configPath, err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	case os.IsNotExist(err):
		// defaults plus environment only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
