package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("models.provider", cfg.Models.Provider)
	v.SetDefault("models.default", cfg.Models.Default)
	v.SetDefault("models.allowed", cfg.Models.Allowed)
	v.SetDefault("agent.max_steps", cfg.Agent.MaxSteps)
	v.SetDefault("agent.reflect_every", cfg.Agent.ReflectEvery)
	v.SetDefault("agent.max_retry_attempts", cfg.Agent.MaxRetryAttempts)
	v.SetDefault("agent.command_timeout_seconds", cfg.Agent.CommandTimeoutS)
	v.SetDefault("agent.approval_patterns", cfg.Agent.ApprovalPatterns)
	v.SetDefault("terminal.shell", cfg.Terminal.Shell)
	v.SetDefault("terminal.term", cfg.Terminal.Term)
	v.SetDefault("terminal.cols", cfg.Terminal.Cols)
	v.SetDefault("terminal.rows", cfg.Terminal.Rows)
	v.SetDefault("terminal.buffer_max_bytes", cfg.Terminal.BufferMaxBytes)
	v.SetDefault("terminal.debounce_window_ms", cfg.Terminal.DebounceWindowMS)
	v.SetDefault("terminal.close_timeout_seconds", cfg.Terminal.CloseTimeoutSecs)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.initial_buffer_lines", cfg.HTTP.InitialBufferLines)
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.key_env", cfg.API.KeyEnv)
	v.SetDefault("api.timeout_seconds", cfg.API.TimeoutSeconds)
	v.SetDefault("api.max_tokens", cfg.API.MaxTokens)

	// A missing config file is fine; defaults apply.
	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		switch v.GetString("models.provider") {
		case "anthropic", "openai", "openai-compatible":
		default:
			return Config{}, fmt.Errorf("unsupported models.provider %q", v.GetString("models.provider"))
		}
		if v.GetString("models.provider") == "openai-compatible" && strings.TrimSpace(v.GetString("api.base_url")) == "" {
			return Config{}, fmt.Errorf("api.base_url is required for models.provider openai-compatible")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.Terminal.Cols <= 0 || cfg.Terminal.Rows <= 0 {
		return fmt.Errorf("terminal.cols and terminal.rows must be positive")
	}
	if cfg.Models.Default == "" {
		return fmt.Errorf("models.default must not be empty")
	}
	if len(cfg.Models.Allowed) > 0 {
		found := false
		for _, model := range cfg.Models.Allowed {
			if model == cfg.Models.Default {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("models.default %q is not in models.allowed", cfg.Models.Default)
		}
	}
	basePath := strings.TrimSpace(cfg.HTTP.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Terminal.Shell = expandEnv(cfg.Terminal.Shell)
	cfg.API.BaseURL = expandEnv(cfg.API.BaseURL)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
