package approval

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(nil, nil)
	require.NoError(t, err)
	return l
}

func TestOnceGrantConsumedExactlyOnce(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Record(Grant{
		ScopeKey:      "session-1",
		IntegrationID: "postgresql-postgis",
		Capability:    "sql.query",
		Mode:          ModeOnce,
	}))

	assert.True(t, l.Consume("session-1", "postgresql-postgis", "sql.query"))
	// The grant was spent by the first call.
	assert.False(t, l.Consume("session-1", "postgresql-postgis", "sql.query"))
}

func TestOnceGrantNoDoubleSpendUnderConcurrency(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Record(Grant{
		ScopeKey:      "session-1",
		IntegrationID: "postgresql-postgis",
		Capability:    "sql.query",
		Mode:          ModeOnce,
	}))

	const workers = 32
	var granted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l.Consume("session-1", "postgresql-postgis", "sql.query") {
				granted.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), granted.Load())
}

func TestSessionGrantSatisfiesRepeatedCalls(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Record(Grant{
		ScopeKey:      "session-1",
		IntegrationID: "s3-storage",
		Capability:    "storage.put",
		Mode:          ModeSession,
	}))

	for i := 0; i < 5; i++ {
		assert.True(t, l.Consume("session-1", "s3-storage", "storage.put"))
	}

	// Other sessions are not covered.
	assert.False(t, l.Consume("session-2", "s3-storage", "storage.put"))
}

func TestGlobalGrantCoversAllScopes(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Record(Grant{
		ScopeKey:      GlobalScope,
		IntegrationID: "earth-engine",
		Capability:    "ee.execute",
		Mode:          ModeAlways,
	}))

	assert.True(t, l.Consume("session-1", "earth-engine", "ee.execute"))
	assert.True(t, l.Consume("session-2", "earth-engine", "ee.execute"))
}

func TestEndScopeDropsSessionGrants(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Record(Grant{
		ScopeKey: "session-1", IntegrationID: "s3-storage", Capability: "storage.put", Mode: ModeSession,
	}))
	require.NoError(t, l.Record(Grant{
		ScopeKey: GlobalScope, IntegrationID: "earth-engine", Capability: "ee.execute", Mode: ModeAlways,
	}))

	l.EndScope("session-1")

	assert.False(t, l.Consume("session-1", "s3-storage", "storage.put"))
	assert.True(t, l.Consume("session-1", "earth-engine", "ee.execute"))
}

func TestRevokeRemovesSingleGrant(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Record(Grant{
		ScopeKey: "session-1", IntegrationID: "s3-storage", Capability: "storage.put", Mode: ModeSession,
	}))
	require.NoError(t, l.Record(Grant{
		ScopeKey: "session-1", IntegrationID: "s3-storage", Capability: "storage.get", Mode: ModeSession,
	}))

	revoked, err := l.Revoke("session-1", "s3-storage", "storage.put")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Only the named grant is gone; the sibling survives.
	assert.False(t, l.Consume("session-1", "s3-storage", "storage.put"))
	assert.True(t, l.Consume("session-1", "s3-storage", "storage.get"))

	revoked, err = l.Revoke("session-1", "s3-storage", "storage.put")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeFindsGlobalGrant(t *testing.T) {
	path := t.TempDir() + "/grants.db"

	store, err := NewSQLiteGrantStore(path)
	require.NoError(t, err)
	defer store.Close()

	l, err := NewLedger(store, nil)
	require.NoError(t, err)

	require.NoError(t, l.Record(Grant{
		ScopeKey:      GlobalScope,
		IntegrationID: "earth-engine",
		Capability:    "ee.execute",
		Mode:          ModeAlways,
	}))

	// The caller revokes from its own scope; the global grant is found
	// and the persisted row deleted with it.
	revoked, err := l.Revoke("session-1", "earth-engine", "ee.execute")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.False(t, l.Consume("session-1", "earth-engine", "ee.execute"))

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestClearRemovesGrants(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Record(Grant{
		ScopeKey: "session-1", IntegrationID: "s3-storage", Capability: "storage.put", Mode: ModeSession,
	}))
	require.NoError(t, l.Record(Grant{
		ScopeKey: GlobalScope, IntegrationID: "earth-engine", Capability: "ee.execute", Mode: ModeAlways,
	}))

	require.NoError(t, l.Clear(""))

	assert.Empty(t, l.List())
}

func TestRecordValidation(t *testing.T) {
	l := newTestLedger(t)

	err := l.Record(Grant{ScopeKey: "s", IntegrationID: "i", Capability: "c", Mode: "forever"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown grant mode")

	err = l.Record(Grant{Mode: ModeOnce})
	require.Error(t, err)
}

func TestSQLiteGrantStoreRoundTrip(t *testing.T) {
	path := t.TempDir() + "/grants.db"

	store, err := NewSQLiteGrantStore(path)
	require.NoError(t, err)

	l, err := NewLedger(store, nil)
	require.NoError(t, err)

	require.NoError(t, l.Record(Grant{
		ScopeKey:      GlobalScope,
		IntegrationID: "earth-engine",
		Capability:    "ee.execute",
		Mode:          ModeAlways,
	}))
	require.NoError(t, store.Close())

	// A fresh ledger over the same file sees the always grant.
	store2, err := NewSQLiteGrantStore(path)
	require.NoError(t, err)
	defer store2.Close()

	l2, err := NewLedger(store2, nil)
	require.NoError(t, err)

	assert.True(t, l2.Consume("any-session", "earth-engine", "ee.execute"))
}
