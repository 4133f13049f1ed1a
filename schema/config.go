package schema

import (
	"os"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	DefaultModel     ModelID
	Provider         ProviderID
	HomeDir          string
	BufferMaxBytes   int
	DebounceWindow   time.Duration
	MaxSteps         int
	ReflectEvery     int
	MaxRetryAttempts int
	// CommandTimeout bounds one agent-issued command: a command whose
	// exit-code marker never arrives fails the run instead of parking it
	// in Executing.
	CommandTimeout time.Duration
	// ApprovalPatterns are substrings that gate a command behind user
	// approval before it is transmitted.
	ApprovalPatterns []string
}

// DefaultBufferMaxBytes is the default per-session scrollback limit.
const DefaultBufferMaxBytes = 1 << 20

// DefaultDebounceWindow is the quiescence window for interactive updates.
const DefaultDebounceWindow = 150 * time.Millisecond

// DefaultMaxSteps bounds commands per agent run.
const DefaultMaxSteps = 25

// DefaultReflectEvery is how many executed commands trigger a reflection.
const DefaultReflectEvery = 5

// DefaultMaxRetryAttempts caps retries for one model step across backoffs.
const DefaultMaxRetryAttempts = 5

// DefaultCommandTimeout bounds one agent-issued command.
const DefaultCommandTimeout = 2 * time.Minute

// DefaultApprovalPatterns gate obviously destructive commands.
var DefaultApprovalPatterns = []string{
	"rm -rf",
	"mkfs",
	"dd if=",
	"shutdown",
	"reboot",
	"git push --force",
}

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.HomeDir = home
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ModelID("claude-sonnet-4-5")
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderAnthropic
	}
	if cfg.BufferMaxBytes <= 0 {
		cfg.BufferMaxBytes = DefaultBufferMaxBytes
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.ReflectEvery <= 0 {
		cfg.ReflectEvery = DefaultReflectEvery
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.ApprovalPatterns == nil {
		cfg.ApprovalPatterns = append([]string(nil), DefaultApprovalPatterns...)
	}
	return cfg, nil
}
