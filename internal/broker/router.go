package broker

import (
	"context"
	"fmt"

	"github.com/GeoRetina/arion/internal/backend"
	"github.com/GeoRetina/arion/internal/capability"
	"github.com/GeoRetina/arion/internal/mcp"
	"github.com/GeoRetina/arion/internal/policy"
	"github.com/GeoRetina/arion/pkg/errors"
)

// routePreference is the fixed kind order the router tries. Policy decides
// which kinds are allowed; among the allowed, native wins over mcp wins
// over plugin.
var routePreference = []backend.Kind{backend.KindNative, backend.KindMCP, backend.KindPlugin}

// Router picks the concrete backend instance for one capability call.
type Router struct {
	native  *backend.Registry
	plugin  *backend.Registry
	manager *mcp.Manager
}

// NewRouter creates a router over the given backend sources. Any of them
// may be nil; a nil source simply never serves a call.
func NewRouter(native, plugin *backend.Registry, manager *mcp.Manager) *Router {
	return &Router{
		native:  native,
		plugin:  plugin,
		manager: manager,
	}
}

// Route returns a handle able to serve the registration, honoring the
// allowed kind set from policy. When an allowed kind has no live instance
// the next kind is tried; when none can serve, the error carries
// CodeBackendUnavailable.
func (r *Router) Route(reg *capability.Registration, allowed []backend.Kind, cfg *policy.Config) (backend.Handle, error) {
	for _, kind := range routePreference {
		if !kindAllowed(allowed, kind) || !reg.SupportsBackend(kind) {
			continue
		}

		switch kind {
		case backend.KindNative:
			if r.native != nil {
				if h := r.native.Get(reg.IntegrationID); h != nil {
					return h, nil
				}
			}
		case backend.KindMCP:
			if h := r.routeMCP(reg, cfg); h != nil {
				return h, nil
			}
		case backend.KindPlugin:
			if r.plugin != nil {
				if h := r.plugin.Get(reg.IntegrationID); h != nil {
					return h, nil
				}
			}
		}
	}

	return nil, newError(CodeBackendUnavailable, reg.IntegrationID, reg.Capability,
		"no live backend instance can serve this capability", nil)
}

// routeMCP finds a ready server advertising the registration's raw tool.
// Blocked tool names are excluded here: the blocklist names raw server
// tools, never canonical capabilities.
func (r *Router) routeMCP(reg *capability.Registration, cfg *policy.Config) backend.Handle {
	if r.manager == nil || reg.MCPTool == "" {
		return nil
	}
	if cfg != nil && cfg.IsBlockedMCPTool(reg.MCPTool) {
		return nil
	}
	server, ok := r.manager.FindTool(reg.MCPTool)
	if !ok {
		return nil
	}
	return &mcpHandle{
		manager:     r.manager,
		server:      server,
		tool:        reg.MCPTool,
		integration: reg.IntegrationID,
	}
}

func kindAllowed(allowed []backend.Kind, kind backend.Kind) bool {
	for _, k := range allowed {
		if k == kind {
			return true
		}
	}
	return false
}

// mcpHandle adapts one (server, tool) pair behind the connection manager
// to the backend.Handle interface.
type mcpHandle struct {
	manager     *mcp.Manager
	server      string
	tool        string
	integration string
}

func (h *mcpHandle) Kind() backend.Kind {
	return backend.KindMCP
}

func (h *mcpHandle) Integration() string {
	return h.integration
}

// Server returns the MCP server this handle routes to.
func (h *mcpHandle) Server() string {
	return h.server
}

// Invoke calls the raw tool on the serving connection. Transport failures
// surface as transient backend errors so the execution engine may retry;
// tool-reported errors are permanent.
func (h *mcpHandle) Invoke(ctx context.Context, capabilityName string, args map[string]interface{}) (interface{}, error) {
	resp, err := h.manager.CallTool(ctx, h.server, mcp.ToolCallRequest{
		Name:      h.tool,
		Arguments: args,
	})
	if err != nil {
		transient := true
		if mcpErr, ok := err.(*mcp.Error); ok {
			transient = mcpErr.IsRetryable() || mcpErr.Code == mcp.ErrorCodeCallFailed
		}
		return nil, &errors.BackendError{
			Backend:     string(backend.KindMCP),
			Integration: h.integration,
			Code:        "MCP_CALL_FAILED",
			Message:     fmt.Sprintf("tool %s on server %s failed", h.tool, h.server),
			Transient:   transient,
			Cause:       err,
		}
	}

	if resp.IsError {
		return nil, &errors.BackendError{
			Backend:     string(backend.KindMCP),
			Integration: h.integration,
			Code:        "TOOL_ERROR",
			Message:     firstText(resp.Content),
			Transient:   false,
		}
	}

	return flattenContent(resp.Content), nil
}

// firstText returns the first text item, for error messages.
func firstText(items []mcp.ContentItem) string {
	for _, item := range items {
		if item.Type == "text" && item.Text != "" {
			return item.Text
		}
	}
	return "tool reported an error"
}

// flattenContent unwraps a single-text response to its string; richer
// responses pass through as the content list.
func flattenContent(items []mcp.ContentItem) interface{} {
	if len(items) == 1 && items[0].Type == "text" {
		return items[0].Text
	}
	return items
}
