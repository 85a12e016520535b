package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoRetina/arion/internal/approval"
	"github.com/GeoRetina/arion/internal/backend"
	"github.com/GeoRetina/arion/internal/capability"
	"github.com/GeoRetina/arion/internal/mcp"
	"github.com/GeoRetina/arion/internal/policy"
)

// answeringClient resolves every permission request with a fixed answer.
type answeringClient struct {
	mu      sync.Mutex
	grant   bool
	resolve func(id string, granted bool) bool
	seen    []approval.Request
}

func (c *answeringClient) ShowPermissionRequest(req approval.Request) {
	c.mu.Lock()
	c.seen = append(c.seen, req)
	grant := c.grant
	c.mu.Unlock()
	go c.resolve(req.ID, grant)
}

func (c *answeringClient) requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// silentClient never answers; approvals must fail closed on timeout.
type silentClient struct{}

func (silentClient) ShowPermissionRequest(approval.Request) {}

type testHarness struct {
	broker  *Broker
	client  *answeringClient
	native  *backend.Registry
	handle  *fakeHandle
	manager *mcp.Manager
}

// newHarness wires a broker over one native integration and one MCP
// server, with an auto-answering approval client.
func newHarness(t *testing.T, pol *policy.Config, waitTimeout time.Duration) *testHarness {
	t.Helper()

	caps, err := capability.NewRegistry([]capability.Registration{
		{
			IntegrationID: "postgresql-postgis",
			Capability:    "sql.query",
			Backends:      []backend.Kind{backend.KindNative, backend.KindMCP},
			MCPTool:       "execute_select_query",
		},
		{
			IntegrationID: "postgresql-postgis",
			Capability:    "sql.mutate",
			Backends:      []backend.Kind{backend.KindNative},
			Sensitivity:   capability.SensitivitySensitive,
		},
		{
			IntegrationID: "file-system",
			Capability:    "fs.list",
			Backends:      []backend.Kind{backend.KindMCP},
			MCPTool:       "list_dir",
		},
	})
	require.NoError(t, err)

	handle := &fakeHandle{
		kind:        backend.KindNative,
		integration: "postgresql-postgis",
		fn: func(ctx context.Context, call int) (interface{}, error) {
			return "rows", nil
		},
	}
	native := backend.NewRegistry(backend.KindNative)
	require.NoError(t, native.Register(handle))

	conn := &stubConn{tools: []mcp.ToolDefinition{{Name: "list_dir"}, {Name: "execute_select_query"}}}
	manager := readyManager(t, "geo", conn)

	ledger, err := approval.NewLedger(nil, nil)
	require.NoError(t, err)

	client := &answeringClient{grant: true}
	approvals := approval.NewBroker(approval.BrokerConfig{
		Ledger:      ledger,
		Client:      client,
		WaitTimeout: waitTimeout,
	})
	client.resolve = approvals.Resolve

	b := New(Config{
		Capabilities: caps,
		Router:       NewRouter(native, nil, manager),
		Approvals:    approvals,
		Ledger:       ledger,
		Policy:       pol,
		Retry:        fastRetry(),
	})

	return &testHarness{
		broker:  b,
		client:  client,
		native:  native,
		handle:  handle,
		manager: manager,
	}
}

func TestInvokeSuccess(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query",
		map[string]interface{}{"query": "select 1"})

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "rows", res.Payload)
	assert.Equal(t, "native", res.Backend)
	assert.NotEmpty(t, res.RunID)

	// Exactly one run record per invocation.
	tail := h.broker.RunLogTail(0)
	require.Len(t, tail, 1)
	assert.Equal(t, res.RunID, tail[0].RunID)
	assert.Equal(t, OutcomeSuccess, tail[0].Outcome)
	assert.Equal(t, "session-1", tail[0].ScopeKey)
}

func TestInvokeUnknownCapability(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.nonsense", nil)

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, CodeUnknownCapability, res.ErrorCode)

	tail := h.broker.RunLogTail(0)
	require.Len(t, tail, 1)
	assert.Equal(t, CodeUnknownCapability, tail[0].ErrorCode)
}

func TestInvokeDisabledPolicyIsAdvisory(t *testing.T) {
	pol := policy.DefaultConfig()
	pol.Enabled = false
	pol.SensitiveCapabilities = []string{"sql.query"}
	h := newHarness(t, pol, time.Second)

	// Disabled policy never blocks and never asks for approval.
	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Zero(t, h.client.requests())
}

func TestInvokeSensitiveDenied(t *testing.T) {
	pol := policy.DefaultConfig()
	pol.SensitiveCapabilities = []string{"sql.query"}
	h := newHarness(t, pol, time.Second)
	h.client.grant = false

	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)

	assert.Equal(t, OutcomePolicyDenied, res.Outcome)
	assert.Equal(t, CodePermissionDenied, res.ErrorCode)
	assert.Contains(t, res.Message, "denied")
	assert.Zero(t, h.handle.callCount())

	tail := h.broker.RunLogTail(0)
	require.Len(t, tail, 1)
	assert.Equal(t, OutcomePolicyDenied, tail[0].Outcome)
}

func TestInvokeSensitiveGranted(t *testing.T) {
	pol := policy.DefaultConfig()
	pol.SensitiveCapabilities = []string{"sql.query"}
	h := newHarness(t, pol, time.Second)

	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, h.client.requests())

	// The dialog grant was one-shot; the next call asks again.
	res = h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, h.client.requests())
}

func TestInvokeApprovalTimeoutFailsClosed(t *testing.T) {
	pol := policy.DefaultConfig()
	pol.SensitiveCapabilities = []string{"sql.mutate"}
	h := newHarness(t, pol, 30*time.Millisecond)

	// Swap in a client that never answers.
	approvalsLedger, err := approval.NewLedger(nil, nil)
	require.NoError(t, err)
	approvals := approval.NewBroker(approval.BrokerConfig{
		Ledger:      approvalsLedger,
		Client:      silentClient{},
		WaitTimeout: 30 * time.Millisecond,
	})
	h.broker.approvals = approvals
	h.broker.ledger = approvalsLedger

	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.mutate", nil)

	assert.Equal(t, OutcomePolicyDenied, res.Outcome)
	assert.Equal(t, CodePermissionDenied, res.ErrorCode)
	assert.Empty(t, h.broker.PendingApprovals())
}

func TestInvokeSessionGrantSkipsDialog(t *testing.T) {
	pol := policy.DefaultConfig()
	pol.SensitiveCapabilities = []string{"sql.query"}
	h := newHarness(t, pol, time.Second)

	require.NoError(t, h.broker.GrantApproval("session-1", "postgresql-postgis", "sql.query", approval.ModeSession))

	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Zero(t, h.client.requests())

	// Ending the scope drops the session grant.
	h.broker.EndScope("session-1")
	res = h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, h.client.requests())
}

func TestInvokeAlwaysGrantCoversAllScopes(t *testing.T) {
	pol := policy.DefaultConfig()
	pol.SensitiveCapabilities = []string{"sql.query"}
	h := newHarness(t, pol, time.Second)

	require.NoError(t, h.broker.GrantApproval("session-1", "postgresql-postgis", "sql.query", approval.ModeAlways))

	res := h.broker.Invoke(context.Background(), "session-2", "postgresql-postgis", "sql.query", nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Zero(t, h.client.requests())

	// Explicit clear removes it.
	require.NoError(t, h.broker.ClearApprovals(""))
	res = h.broker.Invoke(context.Background(), "session-2", "postgresql-postgis", "sql.query", nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, h.client.requests())
}

func TestInvokeGrantApprovalUnknownCapability(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	err := h.broker.GrantApproval("session-1", "postgresql-postgis", "sql.nonsense", approval.ModeSession)
	require.Error(t, err)
	bErr := AsError(err)
	require.NotNil(t, bErr)
	assert.Equal(t, CodeUnknownCapability, bErr.Code)
}

func TestInvokeNoEligibleBackendDenied(t *testing.T) {
	pol := policy.DefaultConfig()
	pol.BackendDenylist = []backend.Kind{backend.KindNative, backend.KindMCP}
	h := newHarness(t, pol, time.Second)

	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)

	assert.Equal(t, OutcomePolicyDenied, res.Outcome)
	assert.Equal(t, CodeNoEligibleBackend, res.ErrorCode)
	assert.Zero(t, h.handle.callCount())
}

func TestInvokeMCPBackendUnavailableAfterDrop(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	// fs.list is MCP-only; first call succeeds.
	res := h.broker.Invoke(context.Background(), "session-1", "file-system", "fs.list",
		map[string]interface{}{"path": "/data"})
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "mcp", res.Backend)

	// The server connection drops; its tools vanish from routing and the
	// next call reports no live backend.
	h.manager.CloseAll()

	res = h.broker.Invoke(context.Background(), "session-1", "file-system", "fs.list", nil)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, CodeBackendUnavailable, res.ErrorCode)

	// An explicit reconnect restores service.
	require.NoError(t, h.manager.Reconnect(context.Background(), "geo"))
	res = h.broker.Invoke(context.Background(), "session-1", "file-system", "fs.list", nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestInvokeTransientRetrySucceeds(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	h.handle.fn = func(ctx context.Context, call int) (interface{}, error) {
		if call == 1 {
			return nil, transientErr()
		}
		return "rows", nil
	}

	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, h.handle.callCount())

	// One record for the whole call, duration covering both attempts.
	tail := h.broker.RunLogTail(0)
	require.Len(t, tail, 1)
	assert.Equal(t, OutcomeSuccess, tail[0].Outcome)
	assert.GreaterOrEqual(t, tail[0].DurationMs, int64(0))
}

func TestInvokeTimeoutOutcome(t *testing.T) {
	pol := policy.DefaultConfig()
	pol.DefaultTimeoutMs = 20
	pol.DefaultMaxRetries = 0
	h := newHarness(t, pol, time.Second)
	h.handle.fn = func(ctx context.Context, call int) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)

	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, CodeExecutionTimeout, res.ErrorCode)

	tail := h.broker.RunLogTail(0)
	require.Len(t, tail, 1)
	assert.Equal(t, OutcomeTimeout, tail[0].Outcome)
}

func TestInvokeStrictModeForcesApprovalOffNative(t *testing.T) {
	pol := policy.DefaultConfig()
	pol.StrictMode = true
	h := newHarness(t, pol, time.Second)

	// sql.query can route to mcp as well as native, so strict mode
	// demands approval.
	res := h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, h.client.requests())

	// sql.mutate resolves to exactly {native}, which strict mode trusts;
	// it still needs approval because the registration is sensitive.
	res = h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.mutate", nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, h.client.requests())
}

func TestSetPolicyValidatesAndSwaps(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	bad := policy.DefaultConfig()
	bad.DefaultApprovalMode = "sometimes"
	require.Error(t, h.broker.SetPolicy(bad))

	good := policy.DefaultConfig()
	good.SensitiveCapabilities = []string{"sql.query"}
	require.NoError(t, h.broker.SetPolicy(good))

	snap := h.broker.PolicySnapshot()
	assert.Equal(t, []string{"sql.query"}, snap.SensitiveCapabilities)

	// The snapshot is a copy; mutating it does not affect the broker.
	snap.SensitiveCapabilities = nil
	assert.Equal(t, []string{"sql.query"}, h.broker.PolicySnapshot().SensitiveCapabilities)
}

func TestRunLogClearViaBroker(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	for i := 0; i < 3; i++ {
		h.broker.Invoke(context.Background(), "session-1", "postgresql-postgis", "sql.query", nil)
	}
	require.Len(t, h.broker.RunLogTail(0), 3)

	h.broker.RunLogClear()
	assert.Empty(t, h.broker.RunLogTail(0))
}

func TestListCapabilities(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	caps := h.broker.ListCapabilities()
	require.Len(t, caps, 3)
}
