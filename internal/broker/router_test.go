package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoRetina/arion/internal/backend"
	"github.com/GeoRetina/arion/internal/capability"
	"github.com/GeoRetina/arion/internal/mcp"
	"github.com/GeoRetina/arion/internal/policy"
)

// stubConn backs an mcp.Manager with scripted tools and call results.
type stubConn struct {
	mu      sync.Mutex
	tools   []mcp.ToolDefinition
	callErr error
	reply   *mcp.ToolCallResponse
}

func (c *stubConn) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mcp.ToolDefinition(nil), c.tools...), nil
}

func (c *stubConn) CallTool(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callErr != nil {
		return nil, c.callErr
	}
	if c.reply != nil {
		return c.reply, nil
	}
	return &mcp.ToolCallResponse{Content: []mcp.ContentItem{{Type: "text", Text: "ok"}}}, nil
}

func (c *stubConn) Ping(ctx context.Context) error { return nil }
func (c *stubConn) Close() error                   { return nil }

// readyManager builds a connected manager whose single server advertises
// the given tools.
func readyManager(t *testing.T, server string, conn *stubConn) *mcp.Manager {
	t.Helper()
	m, err := mcp.NewManager(
		&mcp.ServersConfig{Servers: []mcp.ServerConfig{{Name: server, Command: "fake"}}},
		mcp.WithDialer(func(ctx context.Context, cfg mcp.ServerConfig) (mcp.Conn, error) {
			return conn, nil
		}),
	)
	require.NoError(t, err)
	require.NoError(t, m.ConnectAll(context.Background()))
	return m
}

func sqlQueryReg(kinds ...backend.Kind) *capability.Registration {
	return &capability.Registration{
		IntegrationID: "postgresql-postgis",
		Capability:    "sql.query",
		Backends:      kinds,
		MCPTool:       "execute_select_query",
	}
}

func allKinds() []backend.Kind {
	return []backend.Kind{backend.KindNative, backend.KindMCP, backend.KindPlugin}
}

func TestRouterPrefersNative(t *testing.T) {
	native := backend.NewRegistry(backend.KindNative)
	require.NoError(t, native.Register(&fakeHandle{
		kind:        backend.KindNative,
		integration: "postgresql-postgis",
		fn:          func(ctx context.Context, call int) (interface{}, error) { return "native", nil },
	}))

	conn := &stubConn{tools: []mcp.ToolDefinition{{Name: "execute_select_query"}}}
	r := NewRouter(native, nil, readyManager(t, "geo", conn))

	h, err := r.Route(sqlQueryReg(backend.KindNative, backend.KindMCP), allKinds(), policy.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, backend.KindNative, h.Kind())
}

func TestRouterFallsBackToMCP(t *testing.T) {
	conn := &stubConn{tools: []mcp.ToolDefinition{{Name: "execute_select_query"}}}
	r := NewRouter(backend.NewRegistry(backend.KindNative), nil, readyManager(t, "geo", conn))

	h, err := r.Route(sqlQueryReg(backend.KindNative, backend.KindMCP), allKinds(), policy.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, backend.KindMCP, h.Kind())

	payload, err := h.Invoke(context.Background(), "sql.query", map[string]interface{}{"query": "select 1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", payload)
}

func TestRouterHonorsAllowedKinds(t *testing.T) {
	native := backend.NewRegistry(backend.KindNative)
	require.NoError(t, native.Register(&fakeHandle{
		kind:        backend.KindNative,
		integration: "postgresql-postgis",
		fn:          func(ctx context.Context, call int) (interface{}, error) { return "native", nil },
	}))

	conn := &stubConn{tools: []mcp.ToolDefinition{{Name: "execute_select_query"}}}
	r := NewRouter(native, nil, readyManager(t, "geo", conn))

	// Policy stripped native from the allowed set; the live native handle
	// must not be used.
	h, err := r.Route(sqlQueryReg(backend.KindNative, backend.KindMCP),
		[]backend.Kind{backend.KindMCP}, policy.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, backend.KindMCP, h.Kind())
}

func TestRouterBlockedToolNameExcludesMCP(t *testing.T) {
	conn := &stubConn{tools: []mcp.ToolDefinition{{Name: "execute_select_query"}}}
	r := NewRouter(nil, nil, readyManager(t, "geo", conn))

	cfg := policy.DefaultConfig()
	cfg.BlockedMCPToolNames = []string{"execute_select_query"}

	_, err := r.Route(sqlQueryReg(backend.KindMCP), allKinds(), cfg)
	require.Error(t, err)
	bErr := AsError(err)
	require.NotNil(t, bErr)
	assert.Equal(t, CodeBackendUnavailable, bErr.Code)

	// The blocklist names raw tools. A capability whose raw tool differs
	// is unaffected even if its canonical name matches a blocked string.
	reg := &capability.Registration{
		IntegrationID: "postgresql-postgis",
		Capability:    "execute_select_query",
		Backends:      []backend.Kind{backend.KindMCP},
		MCPTool:       "describe_schema",
	}
	conn.mu.Lock()
	conn.tools = append(conn.tools, mcp.ToolDefinition{Name: "describe_schema"})
	conn.mu.Unlock()
	m := r.manager
	require.NoError(t, m.Reconnect(context.Background(), "geo"))

	h, err := r.Route(reg, allKinds(), cfg)
	require.NoError(t, err)
	assert.Equal(t, backend.KindMCP, h.Kind())
}

func TestRouterNoLiveInstance(t *testing.T) {
	r := NewRouter(backend.NewRegistry(backend.KindNative), backend.NewRegistry(backend.KindPlugin), nil)

	_, err := r.Route(sqlQueryReg(backend.KindNative, backend.KindMCP, backend.KindPlugin), allKinds(), policy.DefaultConfig())
	require.Error(t, err)
	bErr := AsError(err)
	require.NotNil(t, bErr)
	assert.Equal(t, CodeBackendUnavailable, bErr.Code)
	assert.True(t, bErr.IsRetryable())
}

func TestRouterPluginLast(t *testing.T) {
	plugin := backend.NewRegistry(backend.KindPlugin)
	require.NoError(t, plugin.Register(&fakeHandle{
		kind:        backend.KindPlugin,
		integration: "earth-engine",
		fn:          func(ctx context.Context, call int) (interface{}, error) { return "plugin", nil },
	}))

	r := NewRouter(nil, plugin, nil)

	reg := &capability.Registration{
		IntegrationID: "earth-engine",
		Capability:    "ee.compute",
		Backends:      []backend.Kind{backend.KindNative, backend.KindPlugin},
	}
	h, err := r.Route(reg, allKinds(), policy.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, backend.KindPlugin, h.Kind())
}

func TestMCPHandleTransportErrorIsTransient(t *testing.T) {
	conn := &stubConn{tools: []mcp.ToolDefinition{{Name: "execute_select_query"}}}
	r := NewRouter(nil, nil, readyManager(t, "geo", conn))

	h, err := r.Route(sqlQueryReg(backend.KindMCP), allKinds(), policy.DefaultConfig())
	require.NoError(t, err)

	conn.mu.Lock()
	conn.callErr = errors.New("broken pipe")
	conn.mu.Unlock()

	_, err = h.Invoke(context.Background(), "sql.query", nil)
	require.Error(t, err)
	assert.True(t, isTransient(err))
}

func TestMCPHandleToolErrorIsPermanent(t *testing.T) {
	conn := &stubConn{
		tools: []mcp.ToolDefinition{{Name: "execute_select_query"}},
		reply: &mcp.ToolCallResponse{
			IsError: true,
			Content: []mcp.ContentItem{{Type: "text", Text: "relation does not exist"}},
		},
	}
	r := NewRouter(nil, nil, readyManager(t, "geo", conn))

	h, err := r.Route(sqlQueryReg(backend.KindMCP), allKinds(), policy.DefaultConfig())
	require.NoError(t, err)

	_, err = h.Invoke(context.Background(), "sql.query", nil)
	require.Error(t, err)
	assert.False(t, isTransient(err))
	assert.Contains(t, err.Error(), "relation does not exist")
}
