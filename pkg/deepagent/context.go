// Package deepagent wires a model handle, the checkpoint store and a synced
// workspace into runtimes for an external execution engine.
//
// A Context owns the process-wide resources: the checkpoint store is opened
// lazily on first use and shared by every runtime the Context creates.
// Closing the Context closes its runtimes and then the store.
package deepagent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/deepagent/internal/config"
	"github.com/harun/deepagent/pkg/checkpoint"
	"github.com/harun/deepagent/pkg/provider"
)

var ErrContextClosed = errors.New("deepagent context closed")

// Option configures a Context
type Option func(*Context)

// WithEngine sets the engine runtimes are built with. Without one, runtimes
// carry components only.
func WithEngine(engine Engine) Option {
	return func(c *Context) { c.engine = engine }
}

// WithStore supplies the checkpoint store instead of opening SQLite. The
// Context takes ownership and closes it.
func WithStore(store checkpoint.Store) Option {
	return func(c *Context) {
		c.openStore = func(context.Context) (checkpoint.Store, error) { return store, nil }
	}
}

// WithRegistry replaces the registry built from the config.
func WithRegistry(registry *provider.Registry) Option {
	return func(c *Context) { c.registry = registry }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Context) { c.logger = logger }
}

// Context owns the shared runtime resources
type Context struct {
	cfg      *config.Config
	registry *provider.Registry
	engine   Engine
	logger   zerolog.Logger

	storeMu   sync.Mutex
	openStore func(ctx context.Context) (checkpoint.Store, error)
	store     checkpoint.Store
	storeErr  error

	mu       sync.Mutex
	closed   bool
	runtimes map[string]*Runtime
	roots    map[string]string // absolute workspace root -> runtime id
}

// New creates a Context from cfg. A nil cfg uses config.DefaultConfig.
func New(cfg *config.Config, opts ...Option) *Context {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	c := &Context{
		cfg:      cfg,
		logger:   log.Logger.With().Str("component", "deepagent").Logger(),
		runtimes: make(map[string]*Runtime),
		roots:    make(map[string]string),
	}
	c.openStore = c.openSQLite

	for _, opt := range opts {
		opt(c)
	}

	if c.registry == nil {
		profiles := make([]provider.Profile, 0, len(cfg.AI.Profiles))
		for _, p := range cfg.AI.Profiles {
			profiles = append(profiles, provider.Profile{ID: p.ID, Provider: p.Provider, APIKey: p.APIKey, Priority: p.Priority})
		}
		c.registry = provider.NewRegistry(provider.NewCredentials(profiles, cfg.AI.EnvFiles), cfg.Models.Aliases)
	}
	return c
}

func (c *Context) openSQLite(ctx context.Context) (checkpoint.Store, error) {
	return checkpoint.Open(ctx, checkpoint.Config{
		Path:        c.cfg.CheckpointPath(),
		BusyTimeout: durationMs(c.cfg.Checkpoint.BusyTimeoutMs),
	})
}

// Config returns the configuration the Context was created with.
func (c *Context) Config() *config.Config {
	return c.cfg
}

// Registry returns the model registry.
func (c *Context) Registry() *provider.Registry {
	return c.registry
}

// Store returns the shared checkpoint store, opening it on first call. An
// open failure is remembered and returned by every later call.
func (c *Context) Store(ctx context.Context) (checkpoint.Store, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrContextClosed
	}

	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	if c.store != nil {
		return c.store, nil
	}
	if c.storeErr != nil {
		return nil, c.storeErr
	}

	store, err := c.openStore(ctx)
	if err != nil {
		c.storeErr = fmt.Errorf("failed to open checkpoint store: %w", err)
		c.logger.Error().Err(err).Msg("Checkpoint store unavailable")
		return nil, c.storeErr
	}
	c.store = store
	return store, nil
}

// Runtimes returns the number of open runtimes.
func (c *Context) Runtimes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runtimes)
}

// register records rt; it fails once the Context is closed.
func (c *Context) register(rt *Runtime) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	c.runtimes[rt.ID] = rt

	if root := rt.root; root != "" {
		if other, dup := c.roots[root]; dup {
			c.logger.Warn().
				Str("root", root).
				Str("runtime_id", rt.ID).
				Str("other_runtime_id", other).
				Msg("Workspace root already in use by another runtime; concurrent backends on one root are not synchronized")
		} else {
			c.roots[root] = rt.ID
		}
	}
	return nil
}

func (c *Context) unregister(rt *Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runtimes, rt.ID)
	if rt.root != "" && c.roots[rt.root] == rt.ID {
		delete(c.roots, rt.root)
	}
}

// Close closes every open runtime and then the checkpoint store. It is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	open := make([]*Runtime, 0, len(c.runtimes))
	for _, rt := range c.runtimes {
		open = append(open, rt)
	}
	c.mu.Unlock()

	var errs []error
	for _, rt := range open {
		if err := rt.Close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("runtime %s: %w", rt.ID, err))
		}
	}

	c.storeMu.Lock()
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.storeMu.Unlock()

	c.logger.Debug().Int("runtimes", len(open)).Msg("Context closed")
	return errors.Join(errs...)
}

func absRoot(root string) string {
	if root == "" {
		return ""
	}
	if abs, err := filepath.Abs(root); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(root)
}
