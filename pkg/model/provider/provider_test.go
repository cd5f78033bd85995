package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/environment"
)

func TestNew(t *testing.T) {
	t.Parallel()

	env := environment.MapProvider{
		"OPENAI_API_KEY":    "o",
		"ANTHROPIC_API_KEY": "a",
		"GOOGLE_API_KEY":    "g",
	}

	for _, p := range []string{"openai", "ollama", "dmr", "anthropic", "google"} {
		t.Run(p, func(t *testing.T) {
			t.Parallel()

			prov, err := New(t.Context(), &config.ModelConfig{Provider: p, Model: "m"}, env)
			require.NoError(t, err)
			assert.Equal(t, p+"/m", prov.ID())
		})
	}
}

func TestNew_Unknown(t *testing.T) {
	t.Parallel()

	_, err := New(t.Context(), &config.ModelConfig{Provider: "bedrock", Model: "m"}, environment.MapProvider{})
	assert.ErrorContains(t, err, "unknown provider type: bedrock")
}

func TestNew_LocalWithoutKey(t *testing.T) {
	t.Parallel()

	_, err := New(t.Context(), &config.ModelConfig{Provider: "ollama", Model: "qwen3"}, environment.MapProvider{})
	require.NoError(t, err)

	_, err = New(t.Context(), &config.ModelConfig{Provider: "anthropic", Model: "claude"}, environment.MapProvider{})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}
