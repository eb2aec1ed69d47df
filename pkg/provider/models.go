// Package provider resolves model identifiers into provider client handles.
package provider

import (
	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// Model is a configured handle to one model of one provider. The execution
// engine issues the actual calls through the provider client.
type Model interface {
	// Provider returns the provider tag, e.g. "anthropic"
	Provider() string
	// Name returns the provider-side model name
	Name() string
}

// AnthropicModel is a handle to an Anthropic Claude model
type AnthropicModel struct {
	client anthropic.Client
	name   string
}

// NewAnthropicModel creates a handle for the named Claude model
func NewAnthropicModel(name, apiKey string) (Model, error) {
	return &AnthropicModel{
		client: anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		name:   name,
	}, nil
}

func (m *AnthropicModel) Provider() string { return "anthropic" }
func (m *AnthropicModel) Name() string     { return m.name }

// Client returns the SDK client bound to this handle's credential
func (m *AnthropicModel) Client() *anthropic.Client { return &m.client }

// OpenAIModel is a handle to an OpenAI model
type OpenAIModel struct {
	client openai.Client
	name   string
}

// NewOpenAIModel creates a handle for the named OpenAI model
func NewOpenAIModel(name, apiKey string) (Model, error) {
	return &OpenAIModel{
		client: openai.NewClient(openaioption.WithAPIKey(apiKey)),
		name:   name,
	}, nil
}

func (m *OpenAIModel) Provider() string { return "openai" }
func (m *OpenAIModel) Name() string     { return m.name }

// Client returns the SDK client bound to this handle's credential
func (m *OpenAIModel) Client() *openai.Client { return &m.client }
