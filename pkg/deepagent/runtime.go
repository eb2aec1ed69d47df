package deepagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/deepagent/internal/config"
	"github.com/harun/deepagent/internal/observability"
	"github.com/harun/deepagent/internal/tracing"
	"github.com/harun/deepagent/pkg/checkpoint"
	"github.com/harun/deepagent/pkg/provider"
	"github.com/harun/deepagent/pkg/workspace"
)

const tracerName = "deepagent.runtime"

// RuntimeOptions select what a runtime is built with
type RuntimeOptions struct {
	// Model is a model id or alias; empty selects the configured default.
	Model string
	// ModelHandle, when set, is used instead of resolving Model.
	ModelHandle provider.Model
	// WorkspaceRoot is the directory to mirror; empty keeps files in memory only.
	WorkspaceRoot string
	// Watch reconciles files as soon as they change on disk.
	Watch bool
	// SyncInterval reconciles the whole workspace periodically; zero disables it.
	SyncInterval time.Duration
}

// DefaultRuntimeOptions derives runtime options from the configuration.
func (c *Context) DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		Model:         c.cfg.Models.Default,
		WorkspaceRoot: c.cfg.Workspace.Root,
		Watch:         c.cfg.Workspace.Watch,
		SyncInterval:  c.cfg.Workspace.SyncInterval,
	}
}

// Runtime is one agent instance with its components
type Runtime struct {
	ID           string
	Model        provider.Model
	Checkpointer checkpoint.Store
	Backend      *workspace.Backend
	// Agent is nil when the Context has no engine.
	Agent Agent

	owner     *Context
	root      string
	logger    zerolog.Logger
	watcher   *workspace.Watcher
	scheduler *cron.Cron

	closeOnce sync.Once
	closeErr  error
}

// NewRuntime resolves the model, shares the checkpoint store, configures a
// workspace backend and builds the agent.
func (c *Context) NewRuntime(ctx context.Context, opts RuntimeOptions) (rt *Runtime, err error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate runtime id: %w", err)
	}

	ctx = tracing.WithRuntimeID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, tracerName, "runtime.new",
		attribute.String("runtime_id", id),
		attribute.String("model", opts.Model),
		attribute.Bool("disk", opts.WorkspaceRoot != ""),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, c.logger)

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, tracing.Fail(span, ErrContextClosed)
	}

	model := opts.ModelHandle
	if model == nil {
		modelID := opts.Model
		if modelID == "" {
			modelID = c.cfg.Models.Default
		}
		model, err = c.registry.Resolve(modelID)
		if err != nil {
			return nil, tracing.Fail(span, err)
		}
	}

	store, err := c.Store(ctx)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}

	wsOpts := []workspace.Option{
		workspace.WithLogger(logger.With().Str("component", "workspace").Logger()),
		workspace.WithMaxFileSize(c.cfg.Workspace.MaxFileSize),
	}
	if len(c.cfg.Workspace.Ignore) > 0 {
		wsOpts = append(wsOpts, workspace.WithIgnore(c.cfg.Workspace.Ignore...))
	}
	backend := workspace.New(wsOpts...)
	if err := backend.Configure(opts.WorkspaceRoot); err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("failed to configure workspace: %w", err))
	}

	rt = &Runtime{
		ID:           id,
		Model:        model,
		Checkpointer: store,
		Backend:      backend,
		owner:        c,
		root:         absRoot(opts.WorkspaceRoot),
		logger:       logger,
	}

	// from here on a failure must release what was started
	defer func() {
		if err != nil {
			rt.shutdown(context.Background())
		}
	}()

	if rt.root != "" {
		if opts.Watch {
			if err := rt.startWatcher(); err != nil {
				return nil, tracing.Fail(span, err)
			}
		}
		if opts.SyncInterval > 0 {
			if err := rt.startScheduler(opts.SyncInterval); err != nil {
				return nil, tracing.Fail(span, err)
			}
		}
	}

	if c.engine != nil {
		agent, err := c.engine.Build(ctx, Components{Model: model, Checkpointer: store, Backend: backend})
		if err != nil {
			return nil, tracing.Fail(span, fmt.Errorf("failed to build agent: %w", err))
		}
		rt.Agent = agent
	}

	if err := c.register(rt); err != nil {
		return nil, tracing.Fail(span, err)
	}
	observability.IncActiveRuntimes()

	logger.Info().
		Str("provider", model.Provider()).
		Str("model", model.Name()).
		Str("workspace", backend.Mode().String()).
		Msg("Runtime created")
	return rt, nil
}

func (rt *Runtime) reconcile(paths ...string) {
	warnings, err := rt.Backend.Reconcile(tracing.WithRuntimeID(context.Background(), rt.ID), paths...)
	if err != nil {
		if !errors.Is(err, workspace.ErrBackendClosed) {
			rt.logger.Error().Err(err).Msg("Workspace reconcile failed")
		}
		return
	}
	if len(warnings) > 0 {
		rt.logger.Warn().Int("warnings", len(warnings)).Msg("Workspace reconcile left files unsynced")
	}
}

func (rt *Runtime) startWatcher() error {
	w, err := workspace.NewWatcher(workspace.WatcherConfig{
		Root:     rt.root,
		Ignored:  rt.Backend.Ignored,
		OnChange: func(rel string) { rt.reconcile(rel) },
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	rt.watcher = w
	return nil
}

func (rt *Runtime) startScheduler(interval time.Duration) error {
	if interval < config.MinSyncInterval {
		return fmt.Errorf("sync interval %s is below the %s minimum", interval, config.MinSyncInterval)
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+interval.String(), func() { rt.reconcile() }); err != nil {
		return fmt.Errorf("failed to schedule reconcile: %w", err)
	}
	scheduler.Start()
	rt.scheduler = scheduler
	return nil
}

// Close stops background sync, closes the agent and flushes the workspace.
// The shared checkpoint store stays open. Close is idempotent.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.closeOnce.Do(func() {
		rt.closeErr = rt.shutdown(ctx)
		rt.owner.unregister(rt)
		observability.DecActiveRuntimes()
		rt.logger.Info().Msg("Runtime closed")
	})
	return rt.closeErr
}

func (rt *Runtime) shutdown(ctx context.Context) error {
	var errs []error

	if rt.scheduler != nil {
		<-rt.scheduler.Stop().Done()
	}
	if rt.watcher != nil {
		if err := rt.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.Agent != nil {
		if err := rt.Agent.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close agent: %w", err))
		}
	}
	if err := rt.Backend.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
