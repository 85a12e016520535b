// Package backend defines the backend kinds a capability call can be
// routed to and the handle interface every concrete backend implements.
//
// Three kinds exist: native connectors compiled into the process, remote
// MCP servers reached over stdio or SSE, and dynamically registered
// plugins. The broker routes across them; this package only defines the
// shared contract and the in-process registries.
package backend

import (
	"context"
	"fmt"
)

// Kind identifies a backend implementation category.
type Kind string

const (
	// KindNative is a connector compiled into the process.
	KindNative Kind = "native"
	// KindMCP is a remote Model Context Protocol server.
	KindMCP Kind = "mcp"
	// KindPlugin is a dynamically registered extension.
	KindPlugin Kind = "plugin"
)

// Valid returns true if the kind is one of the known backend kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNative, KindMCP, KindPlugin:
		return true
	}
	return false
}

// ParseKind converts a string to a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown backend kind: %q", s)
	}
	return k, nil
}

// Handle is a dispatchable backend instance for one integration.
// Handles are selected by the broker's router and invoked by its
// execution engine; they never apply policy themselves.
type Handle interface {
	// Kind returns the backend category this handle belongs to.
	Kind() Kind

	// Integration returns the integration this handle serves.
	Integration() string

	// Invoke executes a capability call against the backend.
	// The payload is opaque to the broker and returned to the caller
	// unchanged. Implementations must honor ctx cancellation.
	Invoke(ctx context.Context, capability string, args map[string]interface{}) (interface{}, error)
}
