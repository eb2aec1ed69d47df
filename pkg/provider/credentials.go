package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Profile is one configured API credential. Lower Priority is tried first.
type Profile struct {
	ID       string
	Provider string
	APIKey   string
	Priority int
}

// Credentials finds API keys in configured profiles, then the process
// environment, then .env files.
type Credentials struct {
	profiles []Profile
	envFiles []string

	once    sync.Once
	dotenv  map[string]string
	loadErr error
}

// NewCredentials creates a lookup chain over profiles and env files.
func NewCredentials(profiles []Profile, envFiles []string) *Credentials {
	sorted := make([]Profile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	return &Credentials{profiles: sorted, envFiles: envFiles}
}

// Lookup returns the API key for providerTag, reading envVar from the
// environment and .env files when no profile matches.
func (c *Credentials) Lookup(providerTag, envVar string) (string, error) {
	for _, p := range c.profiles {
		if p.Provider == providerTag && p.APIKey != "" {
			log.Debug().Str("provider", providerTag).Str("profile", p.ID).Msg("Using credential profile")
			return p.APIKey, nil
		}
	}

	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}

		c.once.Do(c.loadDotenv)
		if c.loadErr != nil {
			return "", c.loadErr
		}
		if v := c.dotenv[envVar]; v != "" {
			return v, nil
		}
	}

	return "", fmt.Errorf("%w: %s (set %s or add an ai profile)", ErrCredentialMissing, providerTag, envVar)
}

// loadDotenv merges env files in order; earlier files win. Missing files are skipped.
func (c *Credentials) loadDotenv() {
	c.dotenv = make(map[string]string)
	for _, file := range c.envFiles {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			c.loadErr = fmt.Errorf("failed to read env file %s: %w", file, err)
			return
		}
		for k, v := range values {
			if _, exists := c.dotenv[k]; !exists {
				c.dotenv[k] = v
			}
		}
	}
}
