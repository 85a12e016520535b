// Package capability provides the static registry mapping (integration,
// capability) pairs to the backend kinds that can serve them and their
// sensitivity classification.
//
// The registry is built once at process start from connector manifests
// and never mutated afterwards. Capability names are a closed set; a
// lookup miss indicates a caller/backend mismatch and is always surfaced
// as an error, never silently ignored.
package capability

import (
	"github.com/GeoRetina/arion/internal/backend"
)

// Sensitivity classifies how a capability is gated by default.
type Sensitivity string

const (
	// SensitivityNormal requires no approval unless policy says otherwise.
	SensitivityNormal Sensitivity = "normal"
	// SensitivitySensitive always requires approval before execution.
	SensitivitySensitive Sensitivity = "sensitive"
)

// Registration describes one capability an integration exposes.
// Registrations are immutable after registry construction.
type Registration struct {
	// IntegrationID identifies the integration (e.g., "postgresql-postgis").
	IntegrationID string `json:"integrationId"`

	// Capability is the backend-agnostic operation name (e.g., "sql.query").
	Capability string `json:"capability"`

	// Backends are the backend kinds able to serve this capability.
	Backends []backend.Kind `json:"backends"`

	// Sensitivity is the approval classification.
	Sensitivity Sensitivity `json:"sensitivity"`

	// MCPTool is the raw tool name that backs this capability on an MCP
	// server, when KindMCP is among Backends. Empty otherwise.
	MCPTool string `json:"mcpTool,omitempty"`
}

// SupportsBackend returns true if the registration lists the given kind.
func (r *Registration) SupportsBackend(kind backend.Kind) bool {
	for _, k := range r.Backends {
		if k == kind {
			return true
		}
	}
	return false
}

// Name returns the fully qualified "integration.capability" form used in
// log output and run records.
func (r *Registration) Name() string {
	return r.IntegrationID + "/" + r.Capability
}
