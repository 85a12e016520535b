// Package approval implements the approval ledger and the permission
// broker that gates sensitive capability calls behind an interactive
// client.
//
// A grant permits one (once), many (session), or unlimited (always)
// future calls for an (scope, integration, capability) triple. Grants
// are created only through a successful permission round trip or an
// explicit remember action, never implicitly. The permission broker
// pairs each outstanding request with a single-resolution channel; a
// request is resolved exactly once, by the client's answer, the wait
// timeout, or scope teardown, and timeouts always fail closed.
package approval

import (
	"time"
)

// GlobalScope is the sentinel scope key for grants that apply to every
// session.
const GlobalScope = "global"

// Mode determines how long a grant lives.
type Mode string

const (
	// ModeOnce permits exactly one call, consumed atomically with its check.
	ModeOnce Mode = "once"
	// ModeSession permits calls until the owning session ends.
	ModeSession Mode = "session"
	// ModeAlways permits calls until the user explicitly clears the grant.
	ModeAlways Mode = "always"
)

// Valid returns true for known grant modes.
func (m Mode) Valid() bool {
	return m == ModeOnce || m == ModeSession || m == ModeAlways
}

// Grant records an approval for future capability calls.
type Grant struct {
	// ScopeKey is a session identifier or GlobalScope.
	ScopeKey string `json:"scopeKey"`

	// IntegrationID is the integration the grant covers.
	IntegrationID string `json:"integrationId"`

	// Capability is the capability the grant covers.
	Capability string `json:"capability"`

	// Mode determines the grant's lifetime.
	Mode Mode `json:"mode"`

	// GrantedAt is when the grant was recorded.
	GrantedAt time.Time `json:"grantedAt"`
}

// Request is a pending permission request shown to the interactive
// client. It lives only in the broker's pending table between issue and
// resolution.
type Request struct {
	// ID uniquely identifies the request.
	ID string `json:"requestId"`

	// ScopeKey is the approval scope the request belongs to.
	ScopeKey string `json:"scopeKey"`

	// IntegrationID is the integration being called.
	IntegrationID string `json:"integrationId"`

	// Capability is the capability being called.
	Capability string `json:"capability"`

	// CreatedAt is when the request was issued.
	CreatedAt time.Time `json:"createdAt"`
}

// Client is the interactive side-channel that presents permission
// requests to the user. Implementations must eventually call the
// broker's Resolve with the request id, exactly once; a second Resolve
// for the same id is ignored.
type Client interface {
	ShowPermissionRequest(req Request)
}
