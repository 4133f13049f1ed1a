package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/termai/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string         `mapstructure:"state_dir" yaml:"state_dir"`
	Models        ModelsConfig   `mapstructure:"models" yaml:"models"`
	Agent         AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Terminal      TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
	API           APIConfig      `mapstructure:"api" yaml:"api"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ModelsConfig controls allowed and default LLM models.
type ModelsConfig struct {
	Provider string   `mapstructure:"provider" yaml:"provider"`
	Default  string   `mapstructure:"default" yaml:"default"`
	Allowed  []string `mapstructure:"allowed" yaml:"allowed"`
}

// AgentConfig controls agent run behavior.
type AgentConfig struct {
	MaxSteps         int      `mapstructure:"max_steps" yaml:"max_steps"`
	ReflectEvery     int      `mapstructure:"reflect_every" yaml:"reflect_every"`
	MaxRetryAttempts int      `mapstructure:"max_retry_attempts" yaml:"max_retry_attempts"`
	CommandTimeoutS  int      `mapstructure:"command_timeout_seconds" yaml:"command_timeout_seconds"`
	ApprovalPatterns []string `mapstructure:"approval_patterns" yaml:"approval_patterns"`
}

// TerminalConfig controls PTY sessions.
type TerminalConfig struct {
	Shell            string `mapstructure:"shell" yaml:"shell"`
	Term             string `mapstructure:"term" yaml:"term"`
	Cols             int    `mapstructure:"cols" yaml:"cols"`
	Rows             int    `mapstructure:"rows" yaml:"rows"`
	BufferMaxBytes   int    `mapstructure:"buffer_max_bytes" yaml:"buffer_max_bytes"`
	DebounceWindowMS int    `mapstructure:"debounce_window_ms" yaml:"debounce_window_ms"`
	CloseTimeoutSecs int    `mapstructure:"close_timeout_seconds" yaml:"close_timeout_seconds"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr               string `mapstructure:"addr" yaml:"addr"`
	BasePath           string `mapstructure:"base_path" yaml:"base_path"`
	InitialBufferLines int    `mapstructure:"initial_buffer_lines" yaml:"initial_buffer_lines"`
}

// APIConfig configures the model API client.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	KeyEnv         string `mapstructure:"key_env" yaml:"key_env"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxTokens      int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".termai", "state"),
		Models: ModelsConfig{
			Provider: string(schema.ProviderAnthropic),
			Default:  "claude-sonnet-4-5",
			Allowed:  []string{"claude-sonnet-4-5", "claude-opus-4-1", "claude-haiku-4-5"},
		},
		Agent: AgentConfig{
			MaxSteps:         schema.DefaultMaxSteps,
			ReflectEvery:     schema.DefaultReflectEvery,
			MaxRetryAttempts: schema.DefaultMaxRetryAttempts,
			CommandTimeoutS:  int(schema.DefaultCommandTimeout / time.Second),
			ApprovalPatterns: append([]string(nil), schema.DefaultApprovalPatterns...),
		},
		Terminal: TerminalConfig{
			Shell:            shell,
			Term:             "xterm-256color",
			Cols:             120,
			Rows:             32,
			BufferMaxBytes:   schema.DefaultBufferMaxBytes,
			DebounceWindowMS: int(schema.DefaultDebounceWindow / time.Millisecond),
			CloseTimeoutSecs: 5,
		},
		HTTP: HTTPConfig{
			Addr:               ":27490",
			BasePath:           "",
			InitialBufferLines: 200,
		},
		API: APIConfig{
			BaseURL:        "",
			KeyEnv:         "",
			TimeoutSeconds: 120,
			MaxTokens:      4096,
		},
	}, nil
}

// ServiceConfig maps the loaded configuration onto the core service's
// config type.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		DefaultModel:     schema.ModelID(c.Models.Default),
		Provider:         schema.ProviderID(c.Models.Provider),
		BufferMaxBytes:   c.Terminal.BufferMaxBytes,
		DebounceWindow:   time.Duration(c.Terminal.DebounceWindowMS) * time.Millisecond,
		MaxSteps:         c.Agent.MaxSteps,
		ReflectEvery:     c.Agent.ReflectEvery,
		MaxRetryAttempts: c.Agent.MaxRetryAttempts,
		CommandTimeout:   time.Duration(c.Agent.CommandTimeoutS) * time.Second,
		ApprovalPatterns: c.Agent.ApprovalPatterns,
	}
}

// APIKeyEnv returns the environment variable holding the API key,
// falling back to the provider's conventional variable.
func (c Config) APIKeyEnv() string {
	if c.API.KeyEnv != "" {
		return c.API.KeyEnv
	}
	switch schema.ProviderID(c.Models.Provider) {
	case schema.ProviderOpenAI, schema.ProviderOpenAICompatible:
		return "OPENAI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".termai", "config.yaml"), nil
}
