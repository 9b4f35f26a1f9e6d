package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Provider types understood by provider.New.
const (
	TypeOpenAICompat = "openai-compat"
	TypeOllama       = "ollama"
	TypeAnthropic    = "anthropic"
	TypeOpenAI       = "openai"
	TypeGemini       = "gemini"
)

type Config struct {
	DefaultProvider string                    `mapstructure:"default_provider" yaml:"default_provider"`
	Providers       map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Loop            LoopConfig                `mapstructure:"loop" yaml:"loop"`
	Tools           ToolsConfig               `mapstructure:"tools" yaml:"tools"`
	Sessions        SessionsConfig            `mapstructure:"sessions" yaml:"sessions"`
}

// ProviderConfig describes one named model endpoint.
type ProviderConfig struct {
	Type    string        `mapstructure:"type" yaml:"type"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	// ThinkTags holds the open and close markers of reasoning that the
	// server inlines in content, e.g. ["<think>", "</think>"].
	ThinkTags []string `mapstructure:"think_tags" yaml:"think_tags,omitempty"`
	// Options are passed through to the transport (Ollama "options").
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

type LoopConfig struct {
	MaxSteps     int    `mapstructure:"max_steps" yaml:"max_steps"`
	Parallel     bool   `mapstructure:"parallel" yaml:"parallel"`
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
}

type ToolsConfig struct {
	Enabled         []string          `mapstructure:"enabled" yaml:"enabled"`
	AutoApprove     []string          `mapstructure:"auto_approve" yaml:"auto_approve,omitempty"`
	RequireApproval []string          `mapstructure:"require_approval" yaml:"require_approval,omitempty"`
	Root            string            `mapstructure:"root" yaml:"root,omitempty"`
	ShellTimeout    time.Duration     `mapstructure:"shell_timeout" yaml:"shell_timeout,omitempty"`
	MCPServers      []MCPServerConfig `mapstructure:"mcp_servers" yaml:"mcp_servers,omitempty"`
}

// MCPServerConfig launches an MCP server over stdio, or connects to one
// over streamable HTTP when URL is set.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name" yaml:"name"`
	Command string            `mapstructure:"command" yaml:"command,omitempty"`
	Args    []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	URL     string            `mapstructure:"url" yaml:"url,omitempty"`
}

type SessionsConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dataDir := GetDataDir()
	return &Config{
		DefaultProvider: "ollama",
		Providers: map[string]ProviderConfig{
			"ollama": {
				Type:    TypeOllama,
				BaseURL: "http://localhost:11434",
				Model:   "qwen3",
			},
			"local": {
				Type:      TypeOpenAICompat,
				BaseURL:   "http://localhost:8080/v1",
				Model:     "default",
				ThinkTags: []string{"<think>", "</think>"},
			},
			"anthropic": {
				Type:   TypeAnthropic,
				APIKey: "${ANTHROPIC_API_KEY}",
				Model:  "claude-sonnet-4-5",
			},
			"openai": {
				Type:   TypeOpenAI,
				APIKey: "${OPENAI_API_KEY}",
				Model:  "gpt-5.2",
			},
			"gemini": {
				Type:   TypeGemini,
				APIKey: "${GEMINI_API_KEY}",
				Model:  "gemini-3-flash-preview",
			},
		},
		Loop: LoopConfig{MaxSteps: 20},
		Tools: ToolsConfig{
			Enabled:      []string{"read_file", "glob", "shell", "write_file"},
			AutoApprove:  []string{"read_file", "glob"},
			ShellTimeout: 2 * time.Minute,
		},
		Sessions: SessionsConfig{Path: filepath.Join(dataDir, "sessions.db")},
	}
}

// Load reads config.yaml from the config directory or the working
// directory. A missing file yields Default().
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads the config at path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("loop.max_steps", d.Loop.MaxSteps)
	v.SetDefault("loop.parallel", d.Loop.Parallel)
	v.SetDefault("tools.enabled", d.Tools.Enabled)
	v.SetDefault("tools.auto_approve", d.Tools.AutoApprove)
	v.SetDefault("tools.shell_timeout", d.Tools.ShellTimeout)
	v.SetDefault("sessions.path", d.Sessions.Path)
	v.SetEnvPrefix("LLMLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = Default().Providers
		if cfg.DefaultProvider == "" {
			cfg.DefaultProvider = Default().DefaultProvider
		}
	}
	if cfg.DefaultProvider == "" && len(cfg.Providers) == 1 {
		for name := range cfg.Providers {
			cfg.DefaultProvider = name
		}
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve expands environment references and fills vendor API keys from
// their usual variables.
func (c *Config) resolve() {
	for name, p := range c.Providers {
		p.APIKey = expandEnv(p.APIKey)
		p.BaseURL = expandEnv(p.BaseURL)
		if p.APIKey == "" {
			switch p.Type {
			case TypeAnthropic:
				p.APIKey = os.Getenv("ANTHROPIC_API_KEY")
			case TypeOpenAI:
				p.APIKey = os.Getenv("OPENAI_API_KEY")
			case TypeGemini:
				p.APIKey = os.Getenv("GEMINI_API_KEY")
			}
		}
		c.Providers[name] = p
	}
	c.Sessions.Path = expandHome(c.Sessions.Path)
	c.Tools.Root = expandHome(c.Tools.Root)
}

// Validate checks provider types and that the default provider exists.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		switch p.Type {
		case TypeOpenAICompat:
			if p.BaseURL == "" {
				return fmt.Errorf("provider %s: base_url is required for %s", name, p.Type)
			}
		case TypeOllama, TypeAnthropic, TypeOpenAI, TypeGemini:
		default:
			return fmt.Errorf("provider %s: unknown type %q", name, p.Type)
		}
		if len(p.ThinkTags) != 0 && len(p.ThinkTags) != 2 {
			return fmt.Errorf("provider %s: think_tags needs an open and a close tag", name)
		}
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("default provider %q is not configured", c.DefaultProvider)
		}
	}
	return nil
}

// Provider returns the named provider, or the default one when name is
// empty.
func (c *Config) Provider(name string) (string, ProviderConfig, error) {
	if name == "" {
		name = c.DefaultProvider
	}
	p, ok := c.Providers[name]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("unknown provider %q", name)
	}
	return name, p, nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// GetConfigDir returns the XDG config directory for llmloop.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "llmloop"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "llmloop"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for llmloop state.
func GetDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "llmloop")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".llmloop")
	}
	return filepath.Join(homeDir, ".local", "share", "llmloop")
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(cfg, path)
}

// SaveFile writes cfg as YAML to path, creating parent directories.
func SaveFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
