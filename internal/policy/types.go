// Package policy defines the administrator-controlled connector policy:
// which capabilities may run, through which backends, with what approval,
// timeout, and retry behavior.
//
// The config is a strict tagged structure with explicit optional fields.
// Effective values follow most-specific-wins: a capability override beats
// an integration override, which beats the global default. The backend
// denylist always wins over any allow-list. Unknown backend kinds,
// integrations, or capability names are rejected on load rather than
// silently ignored.
package policy

import (
	"fmt"

	"github.com/GeoRetina/arion/internal/backend"
)

// ApprovalMode controls whether a capability needs interactive approval.
type ApprovalMode string

const (
	// ApprovalAuto defers to sensitivity and strict-mode gating.
	ApprovalAuto ApprovalMode = "auto"
	// ApprovalRequire always demands interactive approval.
	ApprovalRequire ApprovalMode = "require"
)

// Valid returns true for known approval modes.
func (m ApprovalMode) Valid() bool {
	return m == ApprovalAuto || m == ApprovalRequire
}

// Config is the persisted connector policy.
// The broker treats it as a read-mostly snapshot replaced wholesale on
// save; readers never observe a partially updated policy.
type Config struct {
	// Enabled toggles policy enforcement. When false the policy is
	// advisory only: it never blocks execution or demands approval.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// StrictMode trusts only the in-process native backend by default;
	// any capability that can cross a process boundary requires approval
	// unless its effective backends are exactly {native}.
	StrictMode bool `yaml:"strict_mode" json:"strictMode"`

	// DefaultApprovalMode applies where no override is set.
	DefaultApprovalMode ApprovalMode `yaml:"default_approval_mode" json:"defaultApprovalMode"`

	// DefaultTimeoutMs bounds each capability call attempt.
	DefaultTimeoutMs int `yaml:"default_timeout_ms" json:"defaultTimeoutMs"`

	// DefaultMaxRetries bounds retries of transient failures.
	DefaultMaxRetries int `yaml:"default_max_retries" json:"defaultMaxRetries"`

	// DefaultAllowedBackends is the global backend allow-list.
	DefaultAllowedBackends []backend.Kind `yaml:"default_allowed_backends" json:"defaultAllowedBackends"`

	// BackendDenylist removes backends from every allowed set, including
	// per-capability overrides. Denylist always wins.
	BackendDenylist []backend.Kind `yaml:"backend_denylist,omitempty" json:"backendDenylist,omitempty"`

	// SensitiveCapabilities lists capability names that always require
	// approval regardless of manifest sensitivity.
	SensitiveCapabilities []string `yaml:"sensitive_capabilities,omitempty" json:"sensitiveCapabilities,omitempty"`

	// BlockedMCPToolNames excludes raw MCP tool names from routing
	// consideration. This protects the raw tool surface; canonical
	// capabilities backed by a blocked tool name are unaffected only when
	// routed through other backends.
	BlockedMCPToolNames []string `yaml:"blocked_mcp_tool_names,omitempty" json:"blockedMcpToolNames,omitempty"`

	// IntegrationPolicies holds per-integration overrides.
	IntegrationPolicies map[string]IntegrationPolicy `yaml:"integration_policies,omitempty" json:"integrationPolicies,omitempty"`
}

// IntegrationPolicy overrides policy fields for one integration.
// Nil pointer fields inherit from the global defaults.
type IntegrationPolicy struct {
	Enabled         *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	ApprovalMode    *ApprovalMode  `yaml:"approval_mode,omitempty" json:"approvalMode,omitempty"`
	TimeoutMs       *int           `yaml:"timeout_ms,omitempty" json:"timeoutMs,omitempty"`
	MaxRetries      *int           `yaml:"max_retries,omitempty" json:"maxRetries,omitempty"`
	AllowedBackends []backend.Kind `yaml:"allowed_backends,omitempty" json:"allowedBackends,omitempty"`

	// Capabilities holds per-capability overrides within the integration.
	Capabilities map[string]CapabilityPolicy `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// CapabilityPolicy overrides policy fields for one capability.
// Nil pointer fields inherit from the integration, then global level.
type CapabilityPolicy struct {
	Enabled         *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	ApprovalMode    *ApprovalMode  `yaml:"approval_mode,omitempty" json:"approvalMode,omitempty"`
	TimeoutMs       *int           `yaml:"timeout_ms,omitempty" json:"timeoutMs,omitempty"`
	MaxRetries      *int           `yaml:"max_retries,omitempty" json:"maxRetries,omitempty"`
	AllowedBackends []backend.Kind `yaml:"allowed_backends,omitempty" json:"allowedBackends,omitempty"`
}

// DefaultConfig returns the policy applied when no file exists yet:
// enforcement on, all backends allowed, no strict mode, 30s per attempt,
// one retry of transient failures.
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		StrictMode:          false,
		DefaultApprovalMode: ApprovalAuto,
		DefaultTimeoutMs:    30000,
		DefaultMaxRetries:   1,
		DefaultAllowedBackends: []backend.Kind{
			backend.KindNative,
			backend.KindMCP,
			backend.KindPlugin,
		},
	}
}

// Clone returns a deep copy of the config. The broker clones before
// handing a snapshot to concurrent readers so that saves never mutate a
// policy another goroutine is reading.
func (c *Config) Clone() *Config {
	out := *c

	out.DefaultAllowedBackends = append([]backend.Kind(nil), c.DefaultAllowedBackends...)
	out.BackendDenylist = append([]backend.Kind(nil), c.BackendDenylist...)
	out.SensitiveCapabilities = append([]string(nil), c.SensitiveCapabilities...)
	out.BlockedMCPToolNames = append([]string(nil), c.BlockedMCPToolNames...)

	if c.IntegrationPolicies != nil {
		out.IntegrationPolicies = make(map[string]IntegrationPolicy, len(c.IntegrationPolicies))
		for id, ip := range c.IntegrationPolicies {
			out.IntegrationPolicies[id] = ip.clone()
		}
	}

	return &out
}

func (p IntegrationPolicy) clone() IntegrationPolicy {
	out := p
	out.Enabled = clonePtr(p.Enabled)
	out.ApprovalMode = clonePtr(p.ApprovalMode)
	out.TimeoutMs = clonePtr(p.TimeoutMs)
	out.MaxRetries = clonePtr(p.MaxRetries)
	out.AllowedBackends = append([]backend.Kind(nil), p.AllowedBackends...)

	if p.Capabilities != nil {
		out.Capabilities = make(map[string]CapabilityPolicy, len(p.Capabilities))
		for name, cp := range p.Capabilities {
			out.Capabilities[name] = cp.clone()
		}
	}
	return out
}

func (p CapabilityPolicy) clone() CapabilityPolicy {
	out := p
	out.Enabled = clonePtr(p.Enabled)
	out.ApprovalMode = clonePtr(p.ApprovalMode)
	out.TimeoutMs = clonePtr(p.TimeoutMs)
	out.MaxRetries = clonePtr(p.MaxRetries)
	out.AllowedBackends = append([]backend.Kind(nil), p.AllowedBackends...)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IsSensitiveCapability reports whether the capability name appears in
// the sensitive list.
func (c *Config) IsSensitiveCapability(capability string) bool {
	for _, name := range c.SensitiveCapabilities {
		if name == capability {
			return true
		}
	}
	return false
}

// IsBlockedMCPTool reports whether the raw MCP tool name is denylisted.
func (c *Config) IsBlockedMCPTool(toolName string) bool {
	for _, name := range c.BlockedMCPToolNames {
		if name == toolName {
			return true
		}
	}
	return false
}

// IsDeniedBackend reports whether the backend kind is on the denylist.
func (c *Config) IsDeniedBackend(kind backend.Kind) bool {
	for _, k := range c.BackendDenylist {
		if k == kind {
			return true
		}
	}
	return false
}

func (c *Config) String() string {
	return fmt.Sprintf("policy{enabled=%t strict=%t integrations=%d}",
		c.Enabled, c.StrictMode, len(c.IntegrationPolicies))
}
