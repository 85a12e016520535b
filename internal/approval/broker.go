package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultWaitTimeout bounds how long a call waits for the interactive
// client before the request is denied.
const DefaultWaitTimeout = 2 * time.Minute

// pendingRequest pairs a request with its single-resolution channel.
// The channel is buffered so the resolver never blocks; exactly-once
// resolution is enforced by deleting the entry under the broker mutex
// before sending.
type pendingRequest struct {
	req  Request
	done chan bool
}

// Broker pairs permission requests with their asynchronous responses.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	ledger      *Ledger
	client      Client
	waitTimeout time.Duration
	logger      *slog.Logger
}

// BrokerConfig configures the permission broker.
type BrokerConfig struct {
	// Ledger holds existing grants and records new ones (required).
	Ledger *Ledger

	// Client is the interactive side-channel (required).
	Client Client

	// WaitTimeout bounds the wait for a client response.
	// Defaults to DefaultWaitTimeout.
	WaitTimeout time.Duration

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// NewBroker creates a permission broker.
func NewBroker(cfg BrokerConfig) *Broker {
	timeout := cfg.WaitTimeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Broker{
		pending:     make(map[string]*pendingRequest),
		ledger:      cfg.Ledger,
		client:      cfg.Client,
		waitTimeout: timeout,
		logger:      logger,
	}
}

// EnsureApproved returns true once the call is covered by a grant.
// It first consults the ledger; if no grant exists it issues a request
// to the interactive client and suspends the caller until the client
// answers, the wait bound elapses (deny), or ctx is cancelled (deny).
// On a grant with a persistent mode, the grant is recorded before
// returning.
func (b *Broker) EnsureApproved(ctx context.Context, scopeKey, integrationID, capability string, mode Mode) (bool, error) {
	if b.ledger.Consume(scopeKey, integrationID, capability) {
		return true, nil
	}

	req := Request{
		ID:            uuid.NewString(),
		ScopeKey:      scopeKey,
		IntegrationID: integrationID,
		Capability:    capability,
		CreatedAt:     time.Now(),
	}

	p := &pendingRequest{
		req:  req,
		done: make(chan bool, 1),
	}

	b.mu.Lock()
	b.pending[req.ID] = p
	b.mu.Unlock()

	b.client.ShowPermissionRequest(req)

	timer := time.NewTimer(b.waitTimeout)
	defer timer.Stop()

	var granted bool
	select {
	case granted = <-p.done:
	case <-timer.C:
		// Fail closed. resolve is a no-op if the client answered in the
		// meantime; in that race the answer already sits in the buffered
		// channel.
		b.resolve(req.ID, false)
		granted = <-p.done
		b.logger.Info("permission request timed out",
			"request_id", req.ID,
			"integration", integrationID,
			"capability", capability,
		)
	case <-ctx.Done():
		b.resolve(req.ID, false)
		granted = <-p.done
	}

	if granted && (mode == ModeSession || mode == ModeAlways) {
		scope := scopeKey
		if mode == ModeAlways {
			scope = GlobalScope
		}
		if err := b.ledger.Record(Grant{
			ScopeKey:      scope,
			IntegrationID: integrationID,
			Capability:    capability,
			Mode:          mode,
		}); err != nil {
			return false, err
		}
	}

	return granted, nil
}

// Resolve delivers the client's answer for a request. The first call
// wins; later calls for the same id (a late answer after a timeout, a
// double-submit from the UI) return false and have no effect.
func (b *Broker) Resolve(requestID string, granted bool) bool {
	return b.resolve(requestID, granted)
}

func (b *Broker) resolve(requestID string, granted bool) bool {
	b.mu.Lock()
	p, exists := b.pending[requestID]
	if exists {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if !exists {
		return false
	}

	p.done <- granted
	return true
}

// EndScope denies every pending request owned by the scope and drops
// the scope's grants. A permission request must never outlive its scope.
func (b *Broker) EndScope(scopeKey string) {
	b.mu.Lock()
	var ids []string
	for id, p := range b.pending {
		if p.req.ScopeKey == scopeKey {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.resolve(id, false)
	}

	b.ledger.EndScope(scopeKey)
}

// Pending returns a snapshot of outstanding requests, for diagnostics.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Request, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.req)
	}
	return out
}
