package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Constructor builds a model handle from a provider-side name and API key
type Constructor func(name, apiKey string) (Model, error)

// Spec describes a provider the registry can dispatch to
type Spec struct {
	Tag string
	// Prefixes claim bare model ids, e.g. "claude-"
	Prefixes []string
	// EnvVar holds the API key when no profile matches
	EnvVar string
	New    Constructor
}

// Registry maps model ids to provider constructors. Ids resolve as
// "tag:model" when a registered tag is given explicitly, otherwise by the
// longest matching prefix. Aliases are expanded first.
type Registry struct {
	mu      sync.RWMutex
	specs   map[string]Spec
	aliases map[string]string
	creds   *Credentials
}

// NewRegistry returns a registry with the anthropic and openai providers.
func NewRegistry(creds *Credentials, aliases map[string]string) *Registry {
	if creds == nil {
		creds = NewCredentials(nil, nil)
	}
	r := &Registry{
		specs:   make(map[string]Spec),
		aliases: make(map[string]string, len(aliases)),
		creds:   creds,
	}
	for k, v := range aliases {
		r.aliases[k] = v
	}

	r.Register(Spec{
		Tag:      "anthropic",
		Prefixes: []string{"claude-"},
		EnvVar:   "ANTHROPIC_API_KEY",
		New:      NewAnthropicModel,
	})
	r.Register(Spec{
		Tag:      "openai",
		Prefixes: []string{"gpt-", "o1", "o3", "o4", "chatgpt-"},
		EnvVar:   "OPENAI_API_KEY",
		New:      NewOpenAIModel,
	})
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Tag] = spec
}

// Providers returns the registered tags in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.specs))
	for tag := range r.specs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// ResolveID maps id to a provider tag and provider-side model name without
// touching credentials.
func (r *Registry) ResolveID(id string) (tag, name string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, name, err := r.lookup(id)
	if err != nil {
		return "", "", err
	}
	return spec.Tag, name, nil
}

func (r *Registry) lookup(id string) (Spec, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Spec{}, "", fmt.Errorf("%w: empty model id", ErrUnsupported)
	}
	if target, ok := r.aliases[id]; ok {
		id = target
	}

	if tag, name, ok := strings.Cut(id, ":"); ok {
		spec, found := r.specs[tag]
		if !found {
			return Spec{}, "", fmt.Errorf("%w: provider %q", ErrUnsupported, tag)
		}
		if name == "" {
			return Spec{}, "", fmt.Errorf("%w: %q has no model name", ErrUnsupported, id)
		}
		return spec, name, nil
	}

	var best Spec
	bestLen := 0
	for _, spec := range r.specs {
		for _, prefix := range spec.Prefixes {
			if strings.HasPrefix(id, prefix) && len(prefix) > bestLen {
				best, bestLen = spec, len(prefix)
			}
		}
	}
	if bestLen == 0 {
		return Spec{}, "", fmt.Errorf("%w: no provider for model %q", ErrUnsupported, id)
	}
	return best, id, nil
}

// Resolve returns a ready model handle for id.
func (r *Registry) Resolve(id string) (Model, error) {
	r.mu.RLock()
	spec, name, err := r.lookup(id)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	apiKey, err := r.creds.Lookup(spec.Tag, spec.EnvVar)
	if err != nil {
		return nil, err
	}

	model, err := spec.New(name, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model %s: %w", spec.Tag, name, err)
	}

	log.Debug().Str("provider", spec.Tag).Str("model", name).Msg("Resolved model")
	return model, nil
}
