// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (ROADWATCH_* runtime override)
//  2. Config file (~/.roadwatch/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: model provider and name for the assistant
//   - Provider: the remote MCP capability server (endpoint, token, timeouts)
//   - Storage: local SQLite path for conversation history
//   - Server: HTTP listen address and CORS origins
//   - SMTP: optional outbound mail for the welcome notification
//   - Tracing: optional OTLP trace export
//
// Security: the bearer token and SMTP password are masked in MarshalJSON.
// When adding new sensitive fields, update MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidEndpoint indicates the MCP server endpoint is not a valid URL.
	ErrInvalidEndpoint = errors.New("invalid MCP endpoint")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidMaxToolRounds indicates the tool-round bound is out of range.
	ErrInvalidMaxToolRounds = errors.New("invalid max tool rounds")

	// ErrInvalidStoragePath indicates the storage path cannot be used.
	ErrInvalidStoragePath = errors.New("invalid storage path")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Default timeouts per remote call class. Distinguished per call site,
// not one global knob.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultPingTimeout      = 3 * time.Second
	DefaultDiscoveryTimeout = 5 * time.Second
	DefaultInvokeTimeout    = 15 * time.Second
)

// DefaultMaxToolRounds bounds multi-step tool use within one turn.
const DefaultMaxToolRounds = 10

// MCPConfig configures the connection to the remote capability server.
type MCPConfig struct {
	Endpoint  string `mapstructure:"endpoint" json:"endpoint"`
	AuthToken string `mapstructure:"auth_token" json:"auth_token"`

	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	PingTimeout      time.Duration `mapstructure:"ping_timeout" json:"ping_timeout"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout" json:"discovery_timeout"`
	InvokeTimeout    time.Duration `mapstructure:"invoke_timeout" json:"invoke_timeout"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// SMTPConfig configures outbound mail. When Username or Password is
// empty, the notification flow no-ops successfully.
type SMTPConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	From     string `mapstructure:"from" json:"from"`
}

// TracingConfig configures OTLP trace export to a local agent.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
type Config struct {
	// AI provider and model
	Provider  string `mapstructure:"provider" json:"provider"`     // "openai" (default), "googleai"
	ModelName string `mapstructure:"model_name" json:"model_name"` // e.g. "gpt-4o-mini"

	// Conversation orchestration
	MaxToolRounds int `mapstructure:"max_tool_rounds" json:"max_tool_rounds"`

	// Session storage (client-local SQLite file)
	StoragePath string `mapstructure:"storage_path" json:"storage_path"`

	MCP     MCPConfig     `mapstructure:"mcp" json:"mcp"`
	Server  ServerConfig  `mapstructure:"server" json:"server"`
	SMTP    SMTPConfig    `mapstructure:"smtp" json:"smtp"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// MarshalJSON masks sensitive fields so configs can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.MCP.AuthToken != "" {
		masked.MCP.AuthToken = "***"
	}
	if masked.SMTP.Password != "" {
		masked.SMTP.Password = "***"
	}
	return json.Marshal(masked)
}

// Dir returns the roadwatch config directory, creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".roadwatch")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return load(dir)
}

func load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("ROADWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults plus env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("model_name", "gpt-4o-mini")
	v.SetDefault("max_tool_rounds", DefaultMaxToolRounds)
	v.SetDefault("storage_path", filepath.Join(dir, "sessions.db"))

	v.SetDefault("mcp.endpoint", "http://localhost:8000/sse")
	v.SetDefault("mcp.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("mcp.ping_timeout", DefaultPingTimeout)
	v.SetDefault("mcp.discovery_timeout", DefaultDiscoveryTimeout)
	v.SetDefault("mcp.invoke_timeout", DefaultInvokeTimeout)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("smtp.port", 587)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.agent_host", "localhost:4318")
	v.SetDefault("tracing.service_name", "roadwatch")
}

// Validate checks configuration ranges and formats.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderGoogleAI:
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)",
			ErrInvalidProvider, c.Provider, ProviderOpenAI, ProviderGoogleAI)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}

	if c.MaxToolRounds < 1 || c.MaxToolRounds > 100 {
		return fmt.Errorf("%w: %d (expected 1-100)", ErrInvalidMaxToolRounds, c.MaxToolRounds)
	}

	if strings.TrimSpace(c.StoragePath) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidStoragePath)
	}

	u, err := url.Parse(c.MCP.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, c.MCP.Endpoint)
	}

	for name, d := range map[string]time.Duration{
		"connect_timeout":   c.MCP.ConnectTimeout,
		"ping_timeout":      c.MCP.PingTimeout,
		"discovery_timeout": c.MCP.DiscoveryTimeout,
		"invoke_timeout":    c.MCP.InvokeTimeout,
	} {
		if d <= 0 || d > 5*time.Minute {
			return fmt.Errorf("%w: mcp.%s = %v", ErrInvalidTimeout, name, d)
		}
	}

	return nil
}

// PlotsBase returns the base URL of the tool provider's static artifact
// host, derived from the MCP endpoint (scheme://host without the SSE path).
func (c *Config) PlotsBase() string {
	u, err := url.Parse(c.MCP.Endpoint)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
