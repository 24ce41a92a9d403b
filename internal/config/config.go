// Package config loads Zeke's configuration through viper: defaults,
// then config.toml from the config directory, then environment
// overrides. The TOML syntax itself is viper's concern.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved configuration tree.
type Config struct {
	Providers ProvidersConfig   `mapstructure:"providers"`
	Router    RouterConfig      `mapstructure:"router"`
	Tools     ToolsConfig       `mapstructure:"tools"`
	MCP       MCPConfig         `mapstructure:"mcp"`
	RPC       RPCConfig         `mapstructure:"rpc"`
	Aliases   map[string]string `mapstructure:"aliases"`
	LogLevel  string            `mapstructure:"log_level"`
	NoKeyring bool              `mapstructure:"no_keyring"`
}

// ProvidersConfig holds per-provider endpoints and default models.
type ProvidersConfig struct {
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Google    ProviderConfig `mapstructure:"google"`
	XAI       ProviderConfig `mapstructure:"xai"`
	Ollama    ProviderConfig `mapstructure:"ollama"`
	Copilot   ProviderConfig `mapstructure:"copilot"`
	Proxy     ProviderConfig `mapstructure:"proxy"`
	Azure     AzureConfig    `mapstructure:"azure"`
}

// ProviderConfig configures one adapter.
type ProviderConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// AzureConfig carries the deployment coordinates Azure requires.
type AzureConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	ResourceName   string `mapstructure:"resource_name"`
	DeploymentName string `mapstructure:"deployment_name"`
	APIVersion     string `mapstructure:"api_version"`
}

// RouterConfig holds routing knobs.
type RouterConfig struct {
	Mode                 string        `mapstructure:"mode"` // direct, proxy, auto
	PreferLocalFor       []string      `mapstructure:"prefer_local_for"`
	FallbackEnabled      bool          `mapstructure:"fallback_enabled"`
	FirstTokenTimeout    time.Duration `mapstructure:"first_token_timeout"`
	HTTPConnectTimeout   time.Duration `mapstructure:"http_connect_timeout"`
	CloudRequestTimeout  time.Duration `mapstructure:"cloud_request_timeout"`
	LocalRequestTimeout  time.Duration `mapstructure:"local_request_timeout"`
	OllamaRequestTimeout time.Duration `mapstructure:"ollama_request_timeout"`
	MaxCloudCostCents    int64         `mapstructure:"max_cloud_cost_cents"`
}

// ToolsConfig holds tool-execution limits.
type ToolsConfig struct {
	WorkspaceRoot  string        `mapstructure:"workspace_root"`
	BackupDir      string        `mapstructure:"backup_dir"`
	ShellAllowlist []string      `mapstructure:"shell_allowlist"`
	ExecTimeout    time.Duration `mapstructure:"exec_timeout"`
	AutoApprove    []string      `mapstructure:"auto_approve"`
}

// MCPConfig selects and configures the MCP transport.
type MCPConfig struct {
	Command         string   `mapstructure:"command"`
	Args            []string `mapstructure:"args"`
	WebSocketURL    string   `mapstructure:"websocket_url"`
	DockerContainer string   `mapstructure:"docker_container"`
	DockerCommand   []string `mapstructure:"docker_command"`
}

// RPCConfig selects the daemon transport.
type RPCConfig struct {
	Socket string `mapstructure:"socket"` // unix socket path; empty = default
	Port   int    `mapstructure:"port"`   // tcp port; 0 = unix socket
}

// ConfigDir resolves the config directory: ZEKE_CONFIG_DIR, then
// $XDG_CONFIG_HOME/zeke, then ~/.config/zeke.
func ConfigDir() (string, error) {
	if dir := os.Getenv("ZEKE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "zeke"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "zeke"), nil
}

// StateDir resolves the state directory: $XDG_STATE_HOME/zeke or
// ~/.local/state/zeke. The routing DB and session lock files live here.
func StateDir() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "zeke"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "zeke"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("providers.ollama.enabled", true)
	v.SetDefault("providers.ollama.endpoint", "http://localhost:11434")
	v.SetDefault("providers.azure.api_version", "2024-02-15-preview")
	v.SetDefault("router.mode", "auto")
	v.SetDefault("router.prefer_local_for", []string{"code", "completion", "refactor", "tests"})
	v.SetDefault("router.fallback_enabled", true)
	v.SetDefault("router.first_token_timeout", 2*time.Second)
	v.SetDefault("router.http_connect_timeout", 5*time.Second)
	v.SetDefault("router.cloud_request_timeout", 30*time.Second)
	v.SetDefault("router.local_request_timeout", 45*time.Second)
	v.SetDefault("router.ollama_request_timeout", 60*time.Second)
	v.SetDefault("router.max_cloud_cost_cents", 500)
	v.SetDefault("tools.exec_timeout", 5*time.Second)
	v.SetDefault("aliases", map[string]string{
		"fast":  "ollama:qwen2.5-coder:7b",
		"smart": "anthropic:claude-sonnet-4-5",
		"local": "ollama:qwen2.5-coder:7b",
		"cheap": "openai:gpt-4o-mini",
	})
}

// envOverrides maps flat environment variables onto config keys. These
// are read-only inputs, never written back.
var envOverrides = map[string]string{
	"providers.ollama.endpoint":       "ZEKE_OLLAMA_ENDPOINT",
	"providers.anthropic.endpoint":    "ZEKE_CLAUDE_ENDPOINT",
	"providers.openai.endpoint":       "ZEKE_OPENAI_ENDPOINT",
	"providers.xai.endpoint":          "ZEKE_XAI_ENDPOINT",
	"providers.proxy.endpoint":        "ZEKE_API_BASE",
	"providers.azure.endpoint":        "AZURE_OPENAI_ENDPOINT",
	"providers.azure.resource_name":   "AZURE_OPENAI_RESOURCE_NAME",
	"providers.azure.deployment_name": "AZURE_OPENAI_DEPLOYMENT_NAME",
	"providers.azure.api_version":     "AZURE_OPENAI_API_VERSION",
	"mcp.command":                     "ZEKE_MCP_COMMAND",
	"mcp.websocket_url":               "ZEKE_MCP_WS",
	"mcp.docker_container":            "ZEKE_MCP_DOCKER_CONTAINER",
	"log_level":                       "ZEKE_LOG_LEVEL",
}

// Load reads configuration from the config directory. A missing config
// file is not an error; defaults plus environment apply.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom reads configuration rooted at an explicit directory.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	for _, name := range []string{"config", "zeke"} {
		v.SetConfigName(name)
		v.AddConfigPath(dir)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	for key, env := range envOverrides {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Enable cloud adapters implicitly when their key env var is set.
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		cfg.Providers.Anthropic.Enabled = true
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		cfg.Providers.OpenAI.Enabled = true
	}
	if os.Getenv("XAI_API_KEY") != "" {
		cfg.Providers.XAI.Enabled = true
	}
	if os.Getenv("AZURE_OPENAI_API_KEY") != "" && cfg.Providers.Azure.DeploymentName != "" {
		cfg.Providers.Azure.Enabled = true
	}
	if os.Getenv("ZEKE_API_BASE") != "" {
		cfg.Providers.Proxy.Enabled = true
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the type system cannot.
func (c *Config) Validate() error {
	switch c.Router.Mode {
	case "direct", "proxy", "auto", "":
	default:
		return fmt.Errorf("router.mode must be direct, proxy, or auto (got %q)", c.Router.Mode)
	}
	if c.Providers.Azure.Enabled && c.Providers.Azure.DeploymentName == "" {
		return fmt.Errorf("providers.azure requires deployment_name")
	}
	if c.Providers.Proxy.Enabled && c.Providers.Proxy.Endpoint == "" {
		return fmt.Errorf("providers.proxy requires endpoint (or ZEKE_API_BASE)")
	}
	for alias, target := range c.Aliases {
		if !strings.Contains(target, ":") {
			return fmt.Errorf("alias %q must map to provider:model (got %q)", alias, target)
		}
	}
	return nil
}

// ResolveAlias maps an alias to (provider, model). The second return is
// false when the alias is unknown.
func (c *Config) ResolveAlias(alias string) (string, string, bool) {
	target, ok := c.Aliases[alias]
	if !ok {
		return "", "", false
	}
	provider, model, _ := strings.Cut(target, ":")
	return provider, model, true
}
