package deepagent

import (
	"context"

	"github.com/harun/deepagent/pkg/checkpoint"
	"github.com/harun/deepagent/pkg/provider"
	"github.com/harun/deepagent/pkg/workspace"
)

// Components are handed to the execution engine when a runtime is built.
type Components struct {
	Model        provider.Model
	Checkpointer checkpoint.Store
	Backend      *workspace.Backend
}

// Agent is the engine's runnable instance.
type Agent interface {
	Close() error
}

// Engine builds agents from components. The reasoning loop lives behind it.
type Engine interface {
	Build(ctx context.Context, c Components) (Agent, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, c Components) (Agent, error)

func (f EngineFunc) Build(ctx context.Context, c Components) (Agent, error) {
	return f(ctx, c)
}
