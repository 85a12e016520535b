package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/GeoRetina/arion/internal/config"
	"github.com/GeoRetina/arion/pkg/errors"
)

// Store persists the connector policy. The broker reloads its cached
// snapshot after every Set.
type Store interface {
	// Get loads the current policy config.
	Get() (*Config, error)

	// Set replaces the persisted policy config.
	Set(cfg *Config) error
}

// FileStore persists the policy as YAML at ~/.config/arion/policy.yaml.
type FileStore struct {
	path string
}

// PolicyPath returns the path to the policy configuration file.
func PolicyPath() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "policy.yaml"), nil
}

// NewFileStore creates a file-backed policy store.
// An empty path resolves to the default location under the config dir.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := PolicyPath()
		if err != nil {
			return nil, errors.Wrap(err, "resolving policy path")
		}
		path = p
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get loads the policy from disk. A missing file yields the defaults.
func (s *FileStore) Get() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, &errors.ConfigError{
			Reason: "failed to read policy file",
			Cause:  err,
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &errors.ConfigError{
			Reason: fmt.Sprintf("failed to parse %s", s.path),
			Cause:  err,
		}
	}

	return &cfg, nil
}

// Set writes the policy atomically: marshal to a temp file in the same
// directory, then rename over the target so readers never see a torn
// write.
func (s *FileStore) Set(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return &errors.ConfigError{
			Reason: "failed to marshal policy",
			Cause:  err,
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &errors.ConfigError{
			Reason: "failed to create config directory",
			Cause:  err,
		}
	}

	tmp, err := os.CreateTemp(dir, ".policy-*.yaml")
	if err != nil {
		return &errors.ConfigError{
			Reason: "failed to create temp file",
			Cause:  err,
		}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &errors.ConfigError{
			Reason: "failed to write policy file",
			Cause:  err,
		}
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &errors.ConfigError{
			Reason: "failed to set policy file permissions",
			Cause:  err,
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &errors.ConfigError{
			Reason: "failed to close policy file",
			Cause:  err,
		}
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &errors.ConfigError{
			Reason: "failed to replace policy file",
			Cause:  err,
		}
	}

	return nil
}
