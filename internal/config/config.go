// Package config handles loading and validating mcpkit configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jkaninda/mcpkit/internal/ratelimit"
)

// Transport names accepted by the server.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// Profiles that adjust defaults for a deployment style.
const (
	ProfileDevelopment = "development"
	ProfileProduction  = "production"
)

// Config is the root configuration for mcpkit.
type Config struct {
	ServerName     string        `json:"server_name" yaml:"server_name"`
	Version        string        `json:"version,omitempty" yaml:"version,omitempty"` // Set from the build; not read from env.
	Description    string        `json:"description" yaml:"description"`
	Transport      string        `json:"transport" yaml:"transport"` // "stdio" (default), "http" or "sse".
	Host           string        `json:"host" yaml:"host"`
	Port           int           `json:"port" yaml:"port"`
	Workspace      string        `json:"workspace" yaml:"workspace"`                 // Sandbox root for file and command operations.
	MaxFileSize    int64         `json:"max_file_size" yaml:"max_file_size"`         // Bytes.
	CommandTimeout int           `json:"command_timeout" yaml:"command_timeout"`     // Seconds.
	RateLimit      string        `json:"rate_limit" yaml:"rate_limit"`               // e.g. "100/minute" or "100 per minute".
	MetricsPort    int           `json:"metrics_port" yaml:"metrics_port"`           // 0 disables the metrics endpoint.
	LogLevel       string        `json:"log_level" yaml:"log_level"`                 // DEBUG, INFO, WARN, ERROR.
	Debug          bool          `json:"debug" yaml:"debug"`                         // Forces DEBUG level.
	Profile        string        `json:"profile,omitempty" yaml:"profile,omitempty"` // "development" or "production".
	HealthSchedule string        `json:"health_schedule" yaml:"health_schedule"`     // Cron spec for the health monitor.
	Features       Features      `json:"features" yaml:"features"`
	Sandbox        SandboxConfig `json:"sandbox" yaml:"sandbox"`
	Tracing        TracingConfig `json:"tracing" yaml:"tracing"`
	CustomTools    []CustomTool  `json:"custom_tools,omitempty" yaml:"custom_tools,omitempty"`
}

// Features toggles the optional infrastructure facilities.
type Features struct {
	Metrics           bool `json:"metrics" yaml:"metrics"`
	StructuredLogging bool `json:"structured_logging" yaml:"structured_logging"`
	RateLimiting      bool `json:"rate_limiting" yaml:"rate_limiting"`
	Tracing           bool `json:"tracing" yaml:"tracing"`
}

// SandboxConfig selects the command execution backend.
type SandboxConfig struct {
	Type           string `json:"type" yaml:"type"`                                           // "process" (default) or "docker".
	Image          string `json:"image,omitempty" yaml:"image,omitempty"`                     // Docker image.
	NetworkAllowed bool   `json:"network_allowed,omitempty" yaml:"network_allowed,omitempty"` // Docker only.
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`       // OTLP collector endpoint.
	Protocol   string  `json:"protocol" yaml:"protocol"`       // "grpc" (default) or "http".
	Insecure   bool    `json:"insecure" yaml:"insecure"`       // Disable TLS.
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"` // 0.0-1.0. Default: 1.0.
}

// CustomTool declares an extra tool backed by a command run in the sandbox.
// Occurrences of {{name}} in Command are replaced with the argument of that name.
type CustomTool struct {
	Name        string               `json:"name" yaml:"name"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Command     []string             `json:"command" yaml:"command"`
	Directory   string               `json:"directory,omitempty" yaml:"directory,omitempty"` // Relative to the workspace. Default: ".".
	Timeout     int                  `json:"timeout,omitempty" yaml:"timeout,omitempty"`     // Seconds, capped by command_timeout.
	Parameters  map[string]ToolParam `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ToolParam describes one custom tool argument.
type ToolParam struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"` // "string" (default), "number" or "boolean".
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		ServerName:     "mcpkit",
		Version:        "dev",
		Description:    "MCP tool server with monitoring, rate limiting and a sandboxed workspace",
		Transport:      TransportStdio,
		Host:           "127.0.0.1",
		Port:           8080,
		Workspace:      "/workspace",
		MaxFileSize:    10 * 1024 * 1024,
		CommandTimeout: 30,
		RateLimit:      "100/minute",
		MetricsPort:    9090,
		LogLevel:       "INFO",
		HealthSchedule: "@every 30s",
		Features: Features{
			Metrics:           true,
			StructuredLogging: true,
			RateLimiting:      true,
		},
		Sandbox: SandboxConfig{
			Type:  "process",
			Image: "alpine:3.20",
		},
		Tracing: TracingConfig{
			Endpoint:   "localhost:4317",
			Protocol:   "grpc",
			Insecure:   true,
			SampleRate: 1.0,
		},
	}
}

// Load builds the effective configuration: defaults, then the optional file at
// path (JSON or YAML by extension), then environment variables, then the
// profile. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		resolved, err := resolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", path, err)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", resolved, err)
		}
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyProfile()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables. Env vars take precedence
// over file values.
func (c *Config) applyEnv() error {
	var errs []error

	envString("MCP_SERVER_NAME", &c.ServerName)
	envString("MCP_DESCRIPTION", &c.Description)
	envString("MCP_TRANSPORT", &c.Transport)
	envString("MCP_HOST", &c.Host)
	envString("WORKSPACE_PATH", &c.Workspace)
	envString("MCP_RATE_LIMIT", &c.RateLimit)
	envString("MCP_LOG_LEVEL", &c.LogLevel)
	envString("MCP_PROFILE", &c.Profile)
	envString("MCP_HEALTH_SCHEDULE", &c.HealthSchedule)
	envString("MCP_SANDBOX", &c.Sandbox.Type)
	envString("MCP_DOCKER_IMAGE", &c.Sandbox.Image)
	envString("MCP_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	envString("MCP_OTLP_PROTOCOL", &c.Tracing.Protocol)

	errs = append(errs,
		envInt("MCP_PORT", &c.Port),
		envInt("MCP_COMMAND_TIMEOUT", &c.CommandTimeout),
		envInt("MCP_METRICS_PORT", &c.MetricsPort),
		envInt64("MCP_MAX_FILE_SIZE", &c.MaxFileSize),
		envBool("MCP_DEBUG", &c.Debug),
		envBool("MCP_ENABLE_METRICS", &c.Features.Metrics),
		envBool("MCP_ENABLE_LOGGING", &c.Features.StructuredLogging),
		envBool("MCP_ENABLE_RATE_LIMITING", &c.Features.RateLimiting),
		envBool("MCP_ENABLE_TRACING", &c.Features.Tracing),
	)
	if v, ok := os.LookupEnv("MCP_CUSTOM_TOOLS"); ok && v != "" {
		var custom []CustomTool
		if err := json.Unmarshal([]byte(v), &custom); err != nil {
			errs = append(errs, fmt.Errorf("MCP_CUSTOM_TOOLS: %w", err))
		} else {
			c.CustomTools = custom
		}
	}
	return errors.Join(errs...)
}

// applyProfile adjusts settings for the selected deployment profile.
func (c *Config) applyProfile() {
	switch strings.ToLower(c.Profile) {
	case ProfileDevelopment:
		c.Debug = true
		c.LogLevel = "DEBUG"
		c.Features.RateLimiting = false
	case ProfileProduction:
		c.Debug = false
		c.LogLevel = "INFO"
		c.Features.Metrics = true
		c.Features.RateLimiting = true
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerName) == "" {
		return fmt.Errorf("server_name is required")
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP, TransportSSE:
	default:
		return fmt.Errorf("unknown transport %q (want stdio, http or sse)", c.Transport)
	}
	if c.Transport != TransportStdio && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port %d out of range", c.MetricsPort)
	}
	if strings.TrimSpace(c.Workspace) == "" {
		return fmt.Errorf("workspace is required")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive")
	}
	if c.Features.RateLimiting {
		if _, err := c.Rate(); err != nil {
			return err
		}
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.Sandbox.Type {
	case "process", "docker":
	default:
		return fmt.Errorf("unknown sandbox type %q (want process or docker)", c.Sandbox.Type)
	}
	switch c.Tracing.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown tracing protocol %q (want grpc or http)", c.Tracing.Protocol)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate %v out of range [0, 1]", c.Tracing.SampleRate)
	}
	return c.validateCustomTools()
}

func (c *Config) validateCustomTools() error {
	seen := make(map[string]bool, len(c.CustomTools))
	for i, t := range c.CustomTools {
		if !validToolName(t.Name) {
			return fmt.Errorf("custom_tools[%d]: invalid name %q (letters, digits, _ and -)", i, t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("custom_tools[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
		if len(t.Command) == 0 || strings.TrimSpace(t.Command[0]) == "" {
			return fmt.Errorf("custom tool %s: command is required", t.Name)
		}
		if t.Timeout < 0 {
			return fmt.Errorf("custom tool %s: timeout must not be negative", t.Name)
		}
		for name, p := range t.Parameters {
			if !validToolName(name) || name == "client_id" {
				return fmt.Errorf("custom tool %s: invalid parameter name %q", t.Name, name)
			}
			switch p.Type {
			case "", "string", "number", "boolean":
			default:
				return fmt.Errorf("custom tool %s: parameter %s has unknown type %q", t.Name, name, p.Type)
			}
		}
	}
	return nil
}

func validToolName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// CommandTimeoutDuration returns the command timeout as a duration.
func (c *Config) CommandTimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// Rate parses the configured rate limit.
func (c *Config) Rate() (ratelimit.Rate, error) {
	return ratelimit.ParseRate(c.RateLimit)
}

// Addr returns host:port for the network transports.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Summary returns a map describing the effective configuration.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"server_name":     c.ServerName,
		"version":         c.Version,
		"description":     c.Description,
		"transport":       c.Transport,
		"host":            c.Host,
		"port":            c.Port,
		"workspace":       c.Workspace,
		"max_file_size":   c.MaxFileSize,
		"command_timeout": c.CommandTimeout,
		"rate_limit":      c.RateLimit,
		"metrics_port":    c.MetricsPort,
		"log_level":       c.LogLevel,
		"debug":           c.Debug,
		"profile":         c.Profile,
		"sandbox":         c.Sandbox.Type,
		"custom_tools":    len(c.CustomTools),
		"features": map[string]bool{
			"metrics":            c.Features.Metrics,
			"structured_logging": c.Features.StructuredLogging,
			"rate_limiting":      c.Features.RateLimiting,
			"tracing":            c.Features.Tracing,
		},
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
