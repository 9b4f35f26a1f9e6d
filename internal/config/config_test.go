package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadFileProvidersAndDefaults(t *testing.T) {
	t.Setenv("LOCAL_KEY", "sk-local")
	path := writeConfig(t, `
default_provider: local
providers:
  local:
    type: openai-compat
    base_url: http://127.0.0.1:8080/v1
    api_key: ${LOCAL_KEY}
    model: qwen
    timeout: 30s
    think_tags: ["<think>", "</think>"]
loop:
  max_steps: 5
  parallel: true
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	name, p, err := cfg.Provider("")
	require.NoError(t, err)
	assert.Equal(t, "local", name)
	assert.Equal(t, TypeOpenAICompat, p.Type)
	assert.Equal(t, "sk-local", p.APIKey)
	assert.Equal(t, 30*time.Second, p.Timeout)
	assert.Equal(t, []string{"<think>", "</think>"}, p.ThinkTags)

	assert.Equal(t, 5, cfg.Loop.MaxSteps)
	assert.True(t, cfg.Loop.Parallel)
	// Unset sections keep their defaults.
	assert.Equal(t, Default().Tools.Enabled, cfg.Tools.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Tools.ShellTimeout)
}

func TestLoadFileWithoutProvidersUsesBuiltins(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_steps: 3\n")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.DefaultProvider)
	assert.Contains(t, cfg.Providers, "anthropic")
}

func TestLoadFileSingleProviderBecomesDefault(t *testing.T) {
	path := writeConfig(t, `
providers:
  mine:
    type: ollama
    model: llama3.2
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mine", cfg.DefaultProvider)
}

func TestValidateRejectsBadProviders(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown type", "providers:\n  x:\n    type: bogus\n", "unknown type"},
		{"compat without url", "providers:\n  x:\n    type: openai-compat\n", "base_url is required"},
		{"missing default", "default_provider: nope\nproviders:\n  x:\n    type: ollama\n", "not configured"},
		{"odd think tags", "providers:\n  x:\n    type: ollama\n    think_tags: [\"<t>\"]\n", "think_tags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestProviderVendorKeyFallsBackToEnvironment(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	path := writeConfig(t, "providers:\n  claude:\n    type: anthropic\n    model: claude-sonnet-4-5\n")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", cfg.Providers["claude"].APIKey)
}

func TestSaveFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := Default()
	in.Loop.MaxSteps = 7
	require.NoError(t, SaveFile(in, path))

	out, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Loop.MaxSteps)
	assert.Equal(t, in.DefaultProvider, out.DefaultProvider)
	assert.Equal(t, in.Providers["local"].ThinkTags, out.Providers["local"].ThinkTags)
	assert.Equal(t, in.Tools.ShellTimeout, out.Tools.ShellTimeout)
}

func TestGetConfigDirHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg/llmloop", dir)
}
