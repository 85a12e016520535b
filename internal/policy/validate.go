package policy

import (
	"fmt"

	"github.com/GeoRetina/arion/internal/backend"
	"github.com/GeoRetina/arion/internal/capability"
	"github.com/GeoRetina/arion/pkg/errors"
)

// Validate checks the config against the capability registry.
// Unknown backend kinds, integration ids, and capability names are
// rejected; a policy that silently ignored a typo would widen the attack
// surface instead of narrowing it.
func (c *Config) Validate(registry *capability.Registry) error {
	if c.DefaultApprovalMode != "" && !c.DefaultApprovalMode.Valid() {
		return &errors.ConfigError{
			Key:    "default_approval_mode",
			Reason: fmt.Sprintf("unknown approval mode %q", c.DefaultApprovalMode),
		}
	}
	if c.DefaultTimeoutMs < 0 {
		return &errors.ConfigError{
			Key:    "default_timeout_ms",
			Reason: fmt.Sprintf("must be >= 0, got %d", c.DefaultTimeoutMs),
		}
	}
	if c.DefaultMaxRetries < 0 {
		return &errors.ConfigError{
			Key:    "default_max_retries",
			Reason: fmt.Sprintf("must be >= 0, got %d", c.DefaultMaxRetries),
		}
	}

	if err := validateKinds("default_allowed_backends", c.DefaultAllowedBackends); err != nil {
		return err
	}
	if err := validateKinds("backend_denylist", c.BackendDenylist); err != nil {
		return err
	}

	for _, name := range c.SensitiveCapabilities {
		if !capabilityKnown(registry, name) {
			return &errors.ConfigError{
				Key:    "sensitive_capabilities",
				Reason: fmt.Sprintf("unknown capability name %q", name),
			}
		}
	}

	for _, name := range c.BlockedMCPToolNames {
		if name == "" {
			return &errors.ConfigError{
				Key:    "blocked_mcp_tool_names",
				Reason: "tool name must not be empty",
			}
		}
	}

	for integrationID, ip := range c.IntegrationPolicies {
		if !registry.HasIntegration(integrationID) {
			return &errors.ConfigError{
				Key:    "integration_policies",
				Reason: fmt.Sprintf("unknown integration %q", integrationID),
			}
		}
		if err := ip.validate(registry, integrationID); err != nil {
			return err
		}
	}

	return nil
}

func (p IntegrationPolicy) validate(registry *capability.Registry, integrationID string) error {
	key := fmt.Sprintf("integration_policies.%s", integrationID)

	if p.ApprovalMode != nil && !p.ApprovalMode.Valid() {
		return &errors.ConfigError{
			Key:    key + ".approval_mode",
			Reason: fmt.Sprintf("unknown approval mode %q", *p.ApprovalMode),
		}
	}
	if p.TimeoutMs != nil && *p.TimeoutMs <= 0 {
		return &errors.ConfigError{
			Key:    key + ".timeout_ms",
			Reason: fmt.Sprintf("must be > 0, got %d", *p.TimeoutMs),
		}
	}
	if p.MaxRetries != nil && *p.MaxRetries < 0 {
		return &errors.ConfigError{
			Key:    key + ".max_retries",
			Reason: fmt.Sprintf("must be >= 0, got %d", *p.MaxRetries),
		}
	}
	if err := validateKinds(key+".allowed_backends", p.AllowedBackends); err != nil {
		return err
	}

	for capName, cp := range p.Capabilities {
		if !registry.Has(integrationID, capName) {
			return &errors.ConfigError{
				Key:    key + ".capabilities",
				Reason: fmt.Sprintf("integration %q has no capability %q", integrationID, capName),
			}
		}
		if err := cp.validate(key + ".capabilities." + capName); err != nil {
			return err
		}
	}

	return nil
}

func (p CapabilityPolicy) validate(key string) error {
	if p.ApprovalMode != nil && !p.ApprovalMode.Valid() {
		return &errors.ConfigError{
			Key:    key + ".approval_mode",
			Reason: fmt.Sprintf("unknown approval mode %q", *p.ApprovalMode),
		}
	}
	if p.TimeoutMs != nil && *p.TimeoutMs <= 0 {
		return &errors.ConfigError{
			Key:    key + ".timeout_ms",
			Reason: fmt.Sprintf("must be > 0, got %d", *p.TimeoutMs),
		}
	}
	if p.MaxRetries != nil && *p.MaxRetries < 0 {
		return &errors.ConfigError{
			Key:    key + ".max_retries",
			Reason: fmt.Sprintf("must be >= 0, got %d", *p.MaxRetries),
		}
	}
	return validateKinds(key+".allowed_backends", p.AllowedBackends)
}

func validateKinds(key string, kinds []backend.Kind) error {
	for _, k := range kinds {
		if !k.Valid() {
			return &errors.ConfigError{
				Key:    key,
				Reason: fmt.Sprintf("unknown backend kind %q", k),
			}
		}
	}
	return nil
}

func capabilityKnown(registry *capability.Registry, name string) bool {
	for _, reg := range registry.List() {
		if reg.Capability == name {
			return true
		}
	}
	return false
}
