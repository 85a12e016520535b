package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn for driving the manager in tests.
type fakeConn struct {
	mu        sync.Mutex
	tools     []ToolDefinition
	listErr   error
	callErr   error
	pingErr   error
	closed    bool
	callSeen  []ToolCallRequest
	callReply *ToolCallResponse
}

func (f *fakeConn) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]ToolDefinition, len(f.tools))
	copy(out, f.tools)
	return out, nil
}

func (f *fakeConn) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callSeen = append(f.callSeen, req)
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.callReply != nil {
		return f.callReply, nil
	}
	return &ToolCallResponse{Content: []ContentItem{{Type: "text", Text: "ok"}}}, nil
}

func (f *fakeConn) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer returns scripted connections per server name. A delay makes
// the dial wait before completing, aborting early if ctx is cancelled,
// like a real child-process spawn would.
type fakeDialer struct {
	mu     sync.Mutex
	conns  map[string]*fakeConn
	errs   map[string]error
	delays map[string]time.Duration
	dials  map[string]int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		conns:  make(map[string]*fakeConn),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
		dials:  make(map[string]int),
	}
}

func (d *fakeDialer) dial(ctx context.Context, cfg ServerConfig) (Conn, error) {
	d.mu.Lock()
	d.dials[cfg.Name]++
	delay := d.delays[cfg.Name]
	scriptedErr := d.errs[cfg.Name]
	conn, ok := d.conns[cfg.Name]
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if scriptedErr != nil {
		return nil, scriptedErr
	}
	if !ok {
		return nil, errors.New("no scripted conn for " + cfg.Name)
	}
	return conn, nil
}

func textTool(name string) ToolDefinition {
	return ToolDefinition{Name: name, Description: name + " tool"}
}

func boolPtr(b bool) *bool { return &b }

func testConfig(servers ...ServerConfig) *ServersConfig {
	return &ServersConfig{Servers: servers}
}

func stdioServer(name string) ServerConfig {
	return ServerConfig{Name: name, Command: "fake-server"}
}

func TestManagerConnectAll(t *testing.T) {
	dialer := newFakeDialer()
	dialer.conns["geo"] = &fakeConn{tools: []ToolDefinition{textTool("execute_select_query"), textTool("describe_schema")}}
	dialer.conns["files"] = &fakeConn{tools: []ToolDefinition{textTool("list_dir")}}

	m, err := NewManager(testConfig(stdioServer("geo"), stdioServer("files")),
		WithDialer(dialer.dial))
	require.NoError(t, err)

	require.NoError(t, m.ConnectAll(context.Background()))

	state, err := m.State("geo")
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)

	tools, err := m.Tools("geo")
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	statuses := m.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "geo", statuses[0].Name)
	assert.Equal(t, "files", statuses[1].Name)
	assert.Equal(t, 1, statuses[1].ToolCount)
}

func TestManagerConnectAllIsolatesFailures(t *testing.T) {
	// "bad" fails the instant it is dialed while "slow" is still mid-dial.
	// The failure must not cancel the sibling: "slow" has to finish its
	// dial and come up ready.
	dialer := newFakeDialer()
	dialer.conns["slow"] = &fakeConn{tools: []ToolDefinition{textTool("list_dir")}}
	dialer.delays["slow"] = 100 * time.Millisecond
	dialer.errs["bad"] = errors.New("spawn failed")

	m, err := NewManager(testConfig(stdioServer("bad"), stdioServer("slow")),
		WithDialer(dialer.dial))
	require.NoError(t, err)

	err = m.ConnectAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn failed")

	state, err := m.State("slow")
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)

	state, err = m.State("bad")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, state)

	statuses := m.Status()
	assert.Contains(t, statuses[0].LastError, "spawn failed")
}

func TestManagerDisabledServerSkipped(t *testing.T) {
	dialer := newFakeDialer()
	dialer.conns["off"] = &fakeConn{tools: []ToolDefinition{textTool("list_dir")}}

	cfg := testConfig(ServerConfig{Name: "off", Command: "fake-server", Enabled: boolPtr(false)})
	m, err := NewManager(cfg, WithDialer(dialer.dial))
	require.NoError(t, err)

	require.NoError(t, m.ConnectAll(context.Background()))
	assert.Zero(t, dialer.dials["off"])

	state, err := m.State("off")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, state)
}

func TestManagerDiscoveryFailureClearsServer(t *testing.T) {
	conn := &fakeConn{listErr: errors.New("tools/list unsupported")}
	dialer := newFakeDialer()
	dialer.conns["geo"] = conn

	m, err := NewManager(testConfig(stdioServer("geo")), WithDialer(dialer.dial))
	require.NoError(t, err)

	err = m.ConnectAll(context.Background())
	require.Error(t, err)

	assert.True(t, conn.isClosed())
	state, _ := m.State("geo")
	assert.Equal(t, StateDisconnected, state)
	tools, err := m.Tools("geo")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestManagerCallFailureMarksServerDown(t *testing.T) {
	conn := &fakeConn{
		tools:   []ToolDefinition{textTool("execute_select_query")},
		callErr: errors.New("broken pipe"),
	}
	dialer := newFakeDialer()
	dialer.conns["geo"] = conn

	m, err := NewManager(testConfig(stdioServer("geo")), WithDialer(dialer.dial))
	require.NoError(t, err)
	require.NoError(t, m.ConnectAll(context.Background()))

	_, err = m.CallTool(context.Background(), "geo", ToolCallRequest{Name: "execute_select_query"})
	require.Error(t, err)

	// The server disappears from routing: state cleared, tools emptied,
	// connection closed.
	state, _ := m.State("geo")
	assert.Equal(t, StateDisconnected, state)
	tools, _ := m.Tools("geo")
	assert.Empty(t, tools)
	assert.True(t, conn.isClosed())

	_, ok := m.FindTool("execute_select_query")
	assert.False(t, ok)

	// Until a reconnect is asked for, calls fail fast.
	_, err = m.CallTool(context.Background(), "geo", ToolCallRequest{Name: "execute_select_query"})
	var mcpErr *Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeNotConnected, mcpErr.Code)
}

func TestManagerReconnectRestoresTools(t *testing.T) {
	conn := &fakeConn{
		tools:   []ToolDefinition{textTool("execute_select_query")},
		callErr: errors.New("broken pipe"),
	}
	dialer := newFakeDialer()
	dialer.conns["geo"] = conn

	m, err := NewManager(testConfig(stdioServer("geo")), WithDialer(dialer.dial))
	require.NoError(t, err)
	require.NoError(t, m.ConnectAll(context.Background()))

	_, err = m.CallTool(context.Background(), "geo", ToolCallRequest{Name: "execute_select_query"})
	require.Error(t, err)

	// Swap in a healthy connection for the next dial.
	dialer.mu.Lock()
	dialer.conns["geo"] = &fakeConn{tools: []ToolDefinition{textTool("execute_select_query"), textTool("execute_spatial_query")}}
	dialer.mu.Unlock()

	require.NoError(t, m.Reconnect(context.Background(), "geo"))

	state, _ := m.State("geo")
	assert.Equal(t, StateReady, state)
	tools, _ := m.Tools("geo")
	assert.Len(t, tools, 2)
	assert.Equal(t, 2, dialer.dials["geo"])
}

func TestManagerFindToolPrefersConfigOrder(t *testing.T) {
	dialer := newFakeDialer()
	dialer.conns["first"] = &fakeConn{tools: []ToolDefinition{textTool("list_dir")}}
	dialer.conns["second"] = &fakeConn{tools: []ToolDefinition{textTool("list_dir")}}

	m, err := NewManager(testConfig(stdioServer("first"), stdioServer("second")),
		WithDialer(dialer.dial))
	require.NoError(t, err)
	require.NoError(t, m.ConnectAll(context.Background()))

	server, ok := m.FindTool("list_dir")
	require.True(t, ok)
	assert.Equal(t, "first", server)

	// When the first holder goes down, routing falls through to the next.
	require.NoError(t, m.Ping(context.Background(), "first"))
	dialer.conns["first"].mu.Lock()
	dialer.conns["first"].pingErr = errors.New("gone")
	dialer.conns["first"].mu.Unlock()
	require.Error(t, m.Ping(context.Background(), "first"))

	server, ok = m.FindTool("list_dir")
	require.True(t, ok)
	assert.Equal(t, "second", server)
}

func TestManagerRefreshToolsReplacesList(t *testing.T) {
	conn := &fakeConn{tools: []ToolDefinition{textTool("list_dir"), textTool("find_files")}}
	dialer := newFakeDialer()
	dialer.conns["files"] = conn

	m, err := NewManager(testConfig(stdioServer("files")), WithDialer(dialer.dial))
	require.NoError(t, err)
	require.NoError(t, m.ConnectAll(context.Background()))

	// The server drops a tool; refresh must not merge, it replaces.
	conn.mu.Lock()
	conn.tools = []ToolDefinition{textTool("list_dir")}
	conn.mu.Unlock()

	require.NoError(t, m.RefreshTools(context.Background(), "files"))
	tools, _ := m.Tools("files")
	require.Len(t, tools, 1)
	assert.Equal(t, "list_dir", tools[0].Name)
}

func TestManagerUnknownServer(t *testing.T) {
	m, err := NewManager(testConfig(), WithDialer(newFakeDialer().dial))
	require.NoError(t, err)

	_, err = m.CallTool(context.Background(), "nope", ToolCallRequest{Name: "x"})
	var mcpErr *Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeNotFound, mcpErr.Code)

	err = m.Reconnect(context.Background(), "nope")
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeNotFound, mcpErr.Code)
}

func TestManagerCloseAll(t *testing.T) {
	connA := &fakeConn{tools: []ToolDefinition{textTool("a")}}
	connB := &fakeConn{tools: []ToolDefinition{textTool("b")}}
	dialer := newFakeDialer()
	dialer.conns["a"] = connA
	dialer.conns["b"] = connB

	m, err := NewManager(testConfig(stdioServer("a"), stdioServer("b")),
		WithDialer(dialer.dial))
	require.NoError(t, err)
	require.NoError(t, m.ConnectAll(context.Background()))

	m.CloseAll()

	assert.True(t, connA.isClosed())
	assert.True(t, connB.isClosed())
	for _, name := range m.Names() {
		state, err := m.State(name)
		require.NoError(t, err)
		assert.Equal(t, StateDisconnected, state)
	}
}
