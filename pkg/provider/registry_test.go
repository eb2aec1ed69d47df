package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(aliases map[string]string) *Registry {
	creds := NewCredentials([]Profile{
		{ID: "claude", Provider: "anthropic", APIKey: "sk-ant-test"},
		{ID: "gpt", Provider: "openai", APIKey: "sk-test"},
	}, nil)
	return NewRegistry(creds, aliases)
}

func TestResolveID(t *testing.T) {
	r := testRegistry(map[string]string{"fast": "openai:gpt-4.1-mini"})

	tests := []struct {
		id       string
		wantTag  string
		wantName string
	}{
		{"claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"gpt-4.1", "openai", "gpt-4.1"},
		{"o3-mini", "openai", "o3-mini"},
		{"anthropic:claude-opus-4-1", "anthropic", "claude-opus-4-1"},
		{"openai:my-finetune", "openai", "my-finetune"},
		{"fast", "openai", "gpt-4.1-mini"},
		{"  gpt-4o  ", "openai", "gpt-4o"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			tag, name, err := r.ResolveID(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTag, tag)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestResolveIDUnsupported(t *testing.T) {
	r := testRegistry(nil)

	for _, id := range []string{"", "gemini-2.5-pro", "gemini:gemini-2.5-pro", "anthropic:", "llama3"} {
		t.Run(id, func(t *testing.T) {
			_, _, err := r.ResolveID(id)
			assert.ErrorIs(t, err, ErrUnsupported)
		})
	}
}

func TestResolveBuildsHandles(t *testing.T) {
	r := testRegistry(nil)

	m, err := r.Resolve("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", m.Provider())
	assert.Equal(t, "claude-sonnet-4-5", m.Name())
	am, ok := m.(*AnthropicModel)
	require.True(t, ok)
	assert.NotNil(t, am.Client())

	m, err = r.Resolve("gpt-4.1")
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Provider())
	om, ok := m.(*OpenAIModel)
	require.True(t, ok)
	assert.NotNil(t, om.Client())
}

func TestResolveMissingCredential(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	r := NewRegistry(NewCredentials(nil, nil), nil)

	_, err := r.Resolve("claude-sonnet-4-5")
	assert.ErrorIs(t, err, ErrCredentialMissing)
}

type fakeModel struct{ name string }

func (f fakeModel) Provider() string { return "local" }
func (f fakeModel) Name() string     { return f.name }

func TestRegisterCustomProvider(t *testing.T) {
	t.Setenv("LOCAL_API_KEY", "local-key")
	r := testRegistry(nil)

	var gotKey string
	r.Register(Spec{
		Tag:      "local",
		Prefixes: []string{"llama"},
		EnvVar:   "LOCAL_API_KEY",
		New: func(name, apiKey string) (Model, error) {
			gotKey = apiKey
			return fakeModel{name: name}, nil
		},
	})

	assert.Equal(t, []string{"anthropic", "local", "openai"}, r.Providers())

	m, err := r.Resolve("llama3")
	require.NoError(t, err)
	assert.Equal(t, "local", m.Provider())
	assert.Equal(t, "llama3", m.Name())
	assert.Equal(t, "local-key", gotKey)
}

func TestLongestPrefixWins(t *testing.T) {
	r := testRegistry(nil)
	r.Register(Spec{
		Tag:      "azure",
		Prefixes: []string{"gpt-4o-azure"},
		New:      func(name, apiKey string) (Model, error) { return fakeModel{name: name}, nil },
	})

	tag, _, err := r.ResolveID("gpt-4o-azure-eu")
	require.NoError(t, err)
	assert.Equal(t, "azure", tag)

	tag, _, err = r.ResolveID("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", tag)
}
