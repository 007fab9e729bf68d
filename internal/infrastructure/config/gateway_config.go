package config

import (
	"fmt"
	"os"

	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/registry"
	"github.com/spf13/viper"
)

// BackendDef describes one configured backend entry, loaded from the file
// named by BACKENDS_CONFIG.
type BackendDef struct {
	Name                string            `mapstructure:"name"`
	Kind                string            `mapstructure:"kind"` // "cli" | "api"
	Binary              string            `mapstructure:"binary"`
	ProviderType         string           `mapstructure:"provider_type"` // anthropic | openai | gemini, kind=api only
	Model               string            `mapstructure:"model"`
	APIKey              string            `mapstructure:"api_key"`
	BaseURL             string            `mapstructure:"base_url"`
	EstimatedCostPerReq float64           `mapstructure:"estimated_cost_per_req"`
	MaxConcurrent       int               `mapstructure:"max_concurrent"`
	MaxQueue            int               `mapstructure:"max_queue"`
	Config              map[string]string `mapstructure:"config"`
}

// GatewayConfig is the gateway's own runtime configuration, loaded by Viper
// from env vars. There is no project/global config file tier — only BACKENDS_CONFIG
// names one).
type GatewayConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	DefaultSystemPrompt string `mapstructure:"default_system_prompt"`
	ContextFilename     string `mapstructure:"context_filename"`
	EnableCORS          bool   `mapstructure:"enable_cors"`
	LogLevel            string `mapstructure:"log_level"`
	RateLimitMax        int    `mapstructure:"rate_limit_max"`
	RateLimitEnabled    bool   `mapstructure:"rate_limit_enabled"`
	BackendsConfigPath  string `mapstructure:"backends_config"`
	DatabasePath        string `mapstructure:"database_path"`
	EnableSQLiteLogging bool   `mapstructure:"enable_sqlite_logging"`
}

// LoadGateway reads the gateway's environment-variable surface, applying
// the defaults below when a variable is unset.
func LoadGateway() (*GatewayConfig, error) {
	v := viper.New()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("default_system_prompt", "")
	v.SetDefault("context_filename", "CONTEXT.md")
	v.SetDefault("enable_cors", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("rate_limit_max", 60)
	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("backends_config", "backends.yaml")
	v.SetDefault("database_path", "gateway.db")
	v.SetDefault("enable_sqlite_logging", true)

	bind := map[string]string{
		"host":                  "HOST",
		"port":                  "PORT",
		"default_system_prompt": "DEFAULT_SYSTEM_PROMPT",
		"context_filename":      "CONTEXT_FILENAME",
		"enable_cors":           "ENABLE_CORS",
		"log_level":             "LOG_LEVEL",
		"rate_limit_max":        "RATE_LIMIT_MAX",
		"rate_limit_enabled":    "RATE_LIMIT_ENABLED",
		"backends_config":       "BACKENDS_CONFIG",
		"database_path":         "DATABASE_PATH",
		"enable_sqlite_logging": "ENABLE_SQLITE_LOGGING",
	}
	for key, env := range bind {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal gateway config: %w", err)
	}
	return &cfg, nil
}

// LoadBackends reads the backend roster from the YAML file named by
// BackendsConfigPath, after validating its path against the registry's
// denylist of system directories.
func LoadBackends(path string) ([]BackendDef, error) {
	if err := registry.ValidateSourcePath(path); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("backends config not found at %q: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read backends config: %w", err)
	}

	var defs []BackendDef
	if err := v.UnmarshalKey("backends", &defs); err != nil {
		return nil, fmt.Errorf("unmarshal backends config: %w", err)
	}
	return defs, nil
}
