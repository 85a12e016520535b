package approval

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// grantKey identifies one grant in the ledger.
type grantKey struct {
	scope       string
	integration string
	capability  string
}

// GrantStore persists grants across process restarts.
// Only ModeAlways grants are persisted; once and session grants are
// process-local by definition.
type GrantStore interface {
	Load() ([]Grant, error)
	Put(g Grant) error
	Delete(scopeKey, integrationID, capability string) error
	Clear(scopeKey string) error
	Close() error
}

// Ledger is the in-memory table of granted approvals.
// Check-and-consume of a once grant is a single atomic step under the
// ledger mutex so two concurrent calls can never both spend it.
type Ledger struct {
	mu     sync.Mutex
	grants map[grantKey]Grant
	store  GrantStore
	logger *slog.Logger
}

// NewLedger creates a ledger. store may be nil, in which case always
// grants live only for the process lifetime.
func NewLedger(store GrantStore, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Ledger{
		grants: make(map[grantKey]Grant),
		store:  store,
		logger: logger,
	}

	if store != nil {
		persisted, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading persisted grants: %w", err)
		}
		for _, g := range persisted {
			if g.Mode != ModeAlways {
				// Stale rows from older versions; ignore rather than
				// resurrect session state across restarts.
				continue
			}
			l.grants[grantKey{g.ScopeKey, g.IntegrationID, g.Capability}] = g
		}
	}

	return l, nil
}

// Record adds a grant to the ledger. ModeAlways grants are also written
// to the store when one is configured; a store failure does not lose the
// in-memory grant.
func (l *Ledger) Record(g Grant) error {
	if !g.Mode.Valid() {
		return fmt.Errorf("unknown grant mode: %q", g.Mode)
	}
	if g.ScopeKey == "" || g.IntegrationID == "" || g.Capability == "" {
		return fmt.Errorf("grant scope, integration, and capability are required")
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now()
	}

	l.mu.Lock()
	l.grants[grantKey{g.ScopeKey, g.IntegrationID, g.Capability}] = g
	l.mu.Unlock()

	if g.Mode == ModeAlways && l.store != nil {
		if err := l.store.Put(g); err != nil {
			l.logger.Warn("failed to persist always grant",
				"integration", g.IntegrationID,
				"capability", g.Capability,
				"error", err,
			)
		}
	}

	return nil
}

// Consume checks for a grant covering (scopeKey or global, integration,
// capability) and spends it. Session and always grants satisfy the call
// without being removed; a once grant is deleted atomically with the
// check that observed it.
func (l *Ledger) Consume(scopeKey, integrationID, capability string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, scope := range []string{scopeKey, GlobalScope} {
		key := grantKey{scope, integrationID, capability}
		g, exists := l.grants[key]
		if !exists {
			continue
		}
		if g.Mode == ModeOnce {
			delete(l.grants, key)
		}
		return true
	}
	return false
}

// EndScope removes all grants owned by the scope. Always grants with an
// explicit session scope die with the session too; only global always
// grants survive.
func (l *Ledger) EndScope(scopeKey string) {
	if scopeKey == GlobalScope {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.grants {
		if key.scope == scopeKey {
			delete(l.grants, key)
		}
	}
}

// Revoke removes one grant. The session scope is checked first, then
// the global scope, so callers can revoke an always grant without
// knowing which scope it was recorded under. The persisted row, if any,
// is deleted too. Returns false when no matching grant exists.
func (l *Ledger) Revoke(scopeKey, integrationID, capability string) (bool, error) {
	l.mu.Lock()
	var removed *Grant
	for _, scope := range []string{scopeKey, GlobalScope} {
		key := grantKey{scope, integrationID, capability}
		if g, exists := l.grants[key]; exists {
			delete(l.grants, key)
			removed = &g
			break
		}
	}
	l.mu.Unlock()

	if removed == nil {
		return false, nil
	}
	if removed.Mode == ModeAlways && l.store != nil {
		if err := l.store.Delete(removed.ScopeKey, integrationID, capability); err != nil {
			return true, fmt.Errorf("deleting persisted grant: %w", err)
		}
	}
	return true, nil
}

// Clear removes grants. An empty scopeKey clears everything, including
// persisted always grants.
func (l *Ledger) Clear(scopeKey string) error {
	l.mu.Lock()
	if scopeKey == "" {
		l.grants = make(map[grantKey]Grant)
	} else {
		for key := range l.grants {
			if key.scope == scopeKey {
				delete(l.grants, key)
			}
		}
	}
	l.mu.Unlock()

	if l.store != nil {
		return l.store.Clear(scopeKey)
	}
	return nil
}

// List returns a snapshot of all grants, for status display.
func (l *Ledger) List() []Grant {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Grant, 0, len(l.grants))
	for _, g := range l.grants {
		out = append(out, g)
	}
	return out
}
