// Copyright 2025 GeoRetina
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GeoRetina/arion/internal/config"
)

// ServerNameRegex validates MCP server names.
// Names must start with a letter and contain only letters, numbers, hyphens,
// and underscores. Maximum length is 64 characters.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// DefaultServerTimeout is applied to entries that don't set one.
const DefaultServerTimeout = 30 * time.Second

// ServersConfig represents the MCP server configuration file, stored at
// ~/.config/arion/mcp.yaml.
//
// Servers is an ordered list, not a map: when several servers advertise
// the same tool, routing prefers the first enabled one in file order, so
// the order the operator wrote is meaningful and must survive a load.
type ServersConfig struct {
	Servers []ServerConfig `yaml:"servers,omitempty"`
}

// ServerConfig represents a single MCP server entry.
type ServerConfig struct {
	// Name uniquely identifies the server.
	Name string `yaml:"name"`

	// Transport is "stdio" or "sse". Defaults to stdio when a command is
	// set and sse when a url is set.
	Transport Transport `yaml:"transport,omitempty"`

	// Command is the executable to run for stdio servers (e.g. "npx",
	// "python").
	Command string `yaml:"command,omitempty"`

	// Args are command-line arguments.
	Args []string `yaml:"args,omitempty"`

	// Env are environment variables in KEY=VALUE format.
	Env []string `yaml:"env,omitempty"`

	// URL is the endpoint for SSE servers.
	URL string `yaml:"url,omitempty"`

	// Enabled controls whether the manager connects to this server.
	// Defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`

	// TimeoutSeconds bounds connect, discovery and tool calls.
	// Defaults to 30 seconds.
	TimeoutSeconds int `yaml:"timeout,omitempty"`
}

// IsEnabled reports whether the server should be connected.
func (s *ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EffectiveTransport resolves the transport, inferring it from the
// populated fields when unset.
func (s *ServerConfig) EffectiveTransport() Transport {
	if s.Transport != "" {
		return s.Transport
	}
	if s.URL != "" {
		return TransportSSE
	}
	return TransportStdio
}

// Timeout returns the per-operation timeout for this server.
func (s *ServerConfig) Timeout() time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return DefaultServerTimeout
}

// ConfigPath returns the path to the MCP server configuration file.
func ConfigPath() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp.yaml"), nil
}

// LoadConfig loads the MCP server configuration from disk.
// Returns an empty config if the file doesn't exist.
func LoadConfig() (*ServersConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return LoadConfigFile(path)
}

// LoadConfigFile loads and validates the configuration at path.
func LoadConfigFile(path string) (*ServersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ServersConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ServersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveConfig saves the MCP server configuration to disk.
func SaveConfig(cfg *ServersConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}

// Validate validates the entire configuration, including name uniqueness.
func (c *ServersConfig) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		entry := &c.Servers[i]
		if err := ValidateServerName(entry.Name); err != nil {
			return fmt.Errorf("server %q: %w", entry.Name, err)
		}
		if seen[entry.Name] {
			return ErrInvalidConfig(fmt.Sprintf("duplicate server name %q", entry.Name))
		}
		seen[entry.Name] = true
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", entry.Name, err)
		}
	}
	return nil
}

// Validate validates a single server entry.
func (s *ServerConfig) Validate() error {
	transport := s.EffectiveTransport()
	if !transport.Valid() {
		return fmt.Errorf("invalid transport: %s (must be 'stdio' or 'sse')", s.Transport)
	}

	switch transport {
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("command is required for stdio servers")
		}
		if s.URL != "" {
			return fmt.Errorf("url is not valid for stdio servers")
		}
	case TransportSSE:
		if s.URL == "" {
			return fmt.Errorf("url is required for sse servers")
		}
		if s.Command != "" {
			return fmt.Errorf("command is not valid for sse servers")
		}
	}

	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	// Validate args for shell injection
	for i, arg := range s.Args {
		if err := ValidateArg(arg); err != nil {
			return fmt.Errorf("args[%d]: %w", i, err)
		}
	}

	for i, env := range s.Env {
		if err := ValidateEnv(env); err != nil {
			return fmt.Errorf("env[%d]: %w", i, err)
		}
	}

	return nil
}

// ValidateServerName validates an MCP server name.
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("server name exceeds 64 character limit")
	}
	if !ServerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid server name: must start with a letter and contain only letters, numbers, hyphens, and underscores")
	}
	return nil
}

// shellInjectionPatterns are patterns that could indicate shell injection attempts.
var shellInjectionPatterns = []string{
	";", "&&", "||", "|", "`", "$(", "${", "\n", "\r",
}

// ValidateArg validates a command argument for shell injection.
func ValidateArg(arg string) error {
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(arg, pattern) {
			return fmt.Errorf("argument contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateEnv validates an environment variable.
func ValidateEnv(env string) error {
	parts := strings.SplitN(env, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("environment variable must be in KEY=VALUE format")
	}

	key := parts[0]
	if key == "" {
		return fmt.Errorf("environment variable key is required")
	}
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %s", key)
	}

	// Value may contain ${VAR} for substitution but not other shell
	// injection patterns.
	value := parts[1]
	for _, pattern := range shellInjectionPatterns {
		if pattern == "${" {
			continue
		}
		if strings.Contains(value, pattern) {
			return fmt.Errorf("environment value contains potentially unsafe pattern %q", pattern)
		}
	}

	return nil
}

// sensitiveKeyPatterns are patterns that indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH", "API_KEY",
}

// IsSensitiveEnvKey returns true if the key appears to contain sensitive data.
func IsSensitiveEnvKey(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upperKey, pattern) {
			return true
		}
	}
	return false
}

// RedactEnv redacts sensitive values from an environment variable list.
func RedactEnv(envs []string) []string {
	result := make([]string, len(envs))
	for i, env := range envs {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 && IsSensitiveEnvKey(parts[0]) {
			result[i] = parts[0] + "=***REDACTED***"
		} else {
			result[i] = env
		}
	}
	return result
}
