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
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ilog "github.com/GeoRetina/arion/internal/log"
)

// Conn is the subset of Client the manager needs. A fake implementation
// can be injected through Dialer in tests.
type Conn interface {
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dialer establishes a connection for one configured server.
type Dialer func(ctx context.Context, cfg ServerConfig) (Conn, error)

// defaultDialer dials a real MCP server via the mcp-go client.
func defaultDialer(ctx context.Context, cfg ServerConfig) (Conn, error) {
	return Dial(ctx, cfg)
}

// serverState tracks the runtime state of one configured server.
type serverState struct {
	// config is the server configuration
	config ServerConfig

	// conn is the active connection, nil unless state is connected or ready
	conn Conn

	// state is the current lifecycle state
	state ConnState

	// tools is the last successful discovery result. It is replaced
	// wholesale on every successful discovery and cleared to empty on
	// any disconnect or discovery failure, so a stale list never
	// survives a failure.
	tools []ToolDefinition

	// connectedAt is when the connection last became ready
	connectedAt time.Time

	// lastError is the most recent connection error message
	lastError string

	// mu protects all fields above
	mu sync.RWMutex
}

// ServerStatus is a point-in-time snapshot of one server's state.
type ServerStatus struct {
	Name        string        `json:"name"`
	Transport   Transport     `json:"transport"`
	Enabled     bool          `json:"enabled"`
	State       ConnState     `json:"state"`
	ToolCount   int           `json:"toolCount"`
	ConnectedAt time.Time     `json:"connectedAt,omitzero"`
	Uptime      time.Duration `json:"uptime,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
}

// Manager owns the connections to all configured MCP servers.
//
// Connections are established explicitly: at startup via ConnectAll, and
// afterwards only through Reconnect. A dropped connection stays down until
// an operator or caller asks for it again; there is no automatic retry
// loop.
type Manager struct {
	// order preserves configuration file order for deterministic routing
	order []string

	// servers tracks state per server name
	servers map[string]*serverState

	// dial establishes connections; replaced in tests
	dial Dialer

	// logger is used for structured logging
	logger *slog.Logger

	// mu protects order and servers
	mu sync.RWMutex
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithDialer replaces the connection dialer.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) {
		m.dial = d
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager for the servers in cfg. No connections are
// made until ConnectAll or Reconnect is called.
func NewManager(cfg *ServersConfig, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		servers: make(map[string]*serverState, len(cfg.Servers)),
		dial:    defaultDialer,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = ilog.WithComponent(m.logger, "mcp")

	for _, sc := range cfg.Servers {
		m.order = append(m.order, sc.Name)
		m.servers[sc.Name] = &serverState{
			config: sc,
			state:  StateDisconnected,
		}
	}

	return m, nil
}

// ConnectAll connects every enabled server concurrently. A failure on one
// server never blocks or fails another; each failed server is left
// disconnected with its error recorded, and the first error is returned
// after all attempts finish.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.RUnlock()

	// A plain group, not WithContext: one server's failure must never
	// cancel a sibling's in-flight dial. Each attempt is bounded by its
	// own timeout derived from the caller's ctx.
	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			state := m.lookup(name)
			if state == nil || !state.config.IsEnabled() {
				return nil
			}
			if err := m.connect(ctx, state); err != nil {
				m.logger.Warn("mcp server connect failed",
					ilog.ServerKey, name,
					ilog.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// connect establishes one server's connection and discovers its tools,
// transitioning disconnected -> connecting -> connected -> ready.
func (m *Manager) connect(ctx context.Context, state *serverState) error {
	state.mu.Lock()
	if state.state != StateDisconnected {
		state.mu.Unlock()
		return nil
	}
	state.state = StateConnecting
	cfg := state.config
	state.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	conn, err := m.dial(dialCtx, cfg)
	cancel()
	if err != nil {
		state.mu.Lock()
		state.state = StateDisconnected
		state.tools = nil
		state.lastError = err.Error()
		state.mu.Unlock()
		return WrapError(err, ErrorCodeConnectFailed, "connect failed").WithServer(cfg.Name)
	}

	state.mu.Lock()
	state.conn = conn
	state.state = StateConnected
	state.mu.Unlock()

	listCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	tools, err := conn.ListTools(listCtx)
	cancel()
	if err != nil {
		// A server we cannot enumerate is a server we cannot route to.
		_ = conn.Close()
		state.mu.Lock()
		state.conn = nil
		state.state = StateDisconnected
		state.tools = nil
		state.lastError = err.Error()
		state.mu.Unlock()
		return ErrDiscoveryFailed(cfg.Name, err)
	}

	state.mu.Lock()
	state.tools = tools
	state.state = StateReady
	state.connectedAt = time.Now()
	state.lastError = ""
	state.mu.Unlock()

	m.logger.Info("mcp server ready",
		ilog.ServerKey, cfg.Name,
		"transport", string(cfg.EffectiveTransport()),
		"tools", len(tools))

	return nil
}

// Reconnect tears down and re-establishes the named server's connection,
// rediscovering its tools. This is the only way a failed server comes
// back.
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	state := m.lookup(name)
	if state == nil {
		return ErrServerNotFound(name)
	}

	state.mu.Lock()
	if state.conn != nil {
		_ = state.conn.Close()
		state.conn = nil
	}
	state.state = StateDisconnected
	state.tools = nil
	state.mu.Unlock()

	return m.connect(ctx, state)
}

// RefreshTools re-runs discovery on a ready server, replacing its tool
// list with the new result.
func (m *Manager) RefreshTools(ctx context.Context, name string) error {
	state := m.lookup(name)
	if state == nil {
		return ErrServerNotFound(name)
	}

	state.mu.RLock()
	conn := state.conn
	ready := state.state == StateReady
	timeout := state.config.Timeout()
	state.mu.RUnlock()

	if !ready || conn == nil {
		return ErrServerNotConnected(name)
	}

	listCtx, cancel := context.WithTimeout(ctx, timeout)
	tools, err := conn.ListTools(listCtx)
	cancel()
	if err != nil {
		m.markDown(state, err)
		return ErrDiscoveryFailed(name, err)
	}

	state.mu.Lock()
	state.tools = tools
	state.mu.Unlock()
	return nil
}

// CallTool invokes a raw tool on the named server.
func (m *Manager) CallTool(ctx context.Context, server string, req ToolCallRequest) (*ToolCallResponse, error) {
	state := m.lookup(server)
	if state == nil {
		return nil, ErrServerNotFound(server)
	}

	state.mu.RLock()
	conn := state.conn
	ready := state.state == StateReady
	state.mu.RUnlock()

	if !ready || conn == nil {
		return nil, ErrServerNotConnected(server)
	}

	resp, err := conn.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			// A transport-level failure means the connection is gone;
			// future routing must not see this server's tools.
			m.markDown(state, err)
		}
		return nil, WrapError(err, ErrorCodeCallFailed, "tool call failed").WithServer(server)
	}
	return resp, nil
}

// markDown closes the connection and clears the tool list.
func (m *Manager) markDown(state *serverState, cause error) {
	state.mu.Lock()
	if state.conn != nil {
		_ = state.conn.Close()
		state.conn = nil
	}
	state.state = StateDisconnected
	state.tools = nil
	state.lastError = cause.Error()
	name := state.config.Name
	state.mu.Unlock()

	m.logger.Warn("mcp server marked disconnected",
		ilog.ServerKey, name,
		ilog.Error(cause))
}

// FindTool returns the first enabled, ready server (in configuration
// order) that advertises the named tool. Returns empty when none does.
func (m *Manager) FindTool(tool string) (server string, ok bool) {
	m.mu.RLock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.RUnlock()

	for _, name := range names {
		state := m.lookup(name)
		if state == nil {
			continue
		}
		state.mu.RLock()
		found := false
		if state.config.IsEnabled() && state.state == StateReady {
			for _, t := range state.tools {
				if t.Name == tool {
					found = true
					break
				}
			}
		}
		state.mu.RUnlock()
		if found {
			return name, true
		}
	}
	return "", false
}

// Tools returns the discovered tools for one server. The slice is a copy.
func (m *Manager) Tools(name string) ([]ToolDefinition, error) {
	state := m.lookup(name)
	if state == nil {
		return nil, ErrServerNotFound(name)
	}

	state.mu.RLock()
	defer state.mu.RUnlock()
	tools := make([]ToolDefinition, len(state.tools))
	copy(tools, state.tools)
	return tools, nil
}

// Status returns a snapshot of every configured server in configuration
// order.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		state := m.lookup(name)
		if state == nil {
			continue
		}
		state.mu.RLock()
		st := ServerStatus{
			Name:      state.config.Name,
			Transport: state.config.EffectiveTransport(),
			Enabled:   state.config.IsEnabled(),
			State:     state.state,
			ToolCount: len(state.tools),
			LastError: state.lastError,
		}
		if state.state == StateReady {
			st.ConnectedAt = state.connectedAt
			st.Uptime = time.Since(state.connectedAt)
		}
		state.mu.RUnlock()
		statuses = append(statuses, st)
	}
	return statuses
}

// State returns the lifecycle state of one server.
func (m *Manager) State(name string) (ConnState, error) {
	state := m.lookup(name)
	if state == nil {
		return StateDisconnected, ErrServerNotFound(name)
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.state, nil
}

// Ping checks liveness of one server's connection. A failed ping marks
// the server disconnected.
func (m *Manager) Ping(ctx context.Context, name string) error {
	state := m.lookup(name)
	if state == nil {
		return ErrServerNotFound(name)
	}

	state.mu.RLock()
	conn := state.conn
	ready := state.state == StateReady
	state.mu.RUnlock()

	if !ready || conn == nil {
		return ErrServerNotConnected(name)
	}

	if err := conn.Ping(ctx); err != nil {
		m.markDown(state, err)
		return WrapError(err, ErrorCodeNotConnected, "ping failed").WithServer(name)
	}
	return nil
}

// CloseAll closes every connection and clears all tool lists. The manager
// can be reused afterwards via ConnectAll.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.RUnlock()

	for _, name := range names {
		state := m.lookup(name)
		if state == nil {
			continue
		}
		state.mu.Lock()
		if state.conn != nil {
			_ = state.conn.Close()
			state.conn = nil
		}
		state.state = StateDisconnected
		state.tools = nil
		state.mu.Unlock()
	}

	m.logger.Info("mcp connections closed")
}

// Names returns the configured server names in configuration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

func (m *Manager) lookup(name string) *serverState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.servers[name]
}
