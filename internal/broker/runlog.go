package broker

import (
	"sync"
	"time"
)

// DefaultRunLogSize bounds the run log ring.
const DefaultRunLogSize = 500

// Outcome is the normalized result class of one capability invocation.
type Outcome string

const (
	// OutcomeSuccess means the backend returned a payload.
	OutcomeSuccess Outcome = "success"
	// OutcomeError means the call failed for a non-policy reason.
	OutcomeError Outcome = "error"
	// OutcomePolicyDenied means policy or the user blocked the call
	// before it reached a backend.
	OutcomePolicyDenied Outcome = "policy_denied"
	// OutcomeTimeout means the call exceeded its deadline.
	OutcomeTimeout Outcome = "timeout"
)

// RunRecord captures one attempted capability call.
type RunRecord struct {
	RunID         string    `json:"runId"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	DurationMs    int64     `json:"durationMs"`
	ScopeKey      string    `json:"scopeKey"`
	IntegrationID string    `json:"integrationId"`
	Capability    string    `json:"capability"`
	Backend       string    `json:"backend,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Message       string    `json:"message,omitempty"`
	ErrorCode     Code      `json:"errorCode,omitempty"`
}

// RunLog is a bounded, append-only record of capability calls. The oldest
// records are dropped once the ring is full; records leave only through
// eviction or an explicit Clear.
type RunLog struct {
	mu      sync.Mutex
	records []RunRecord
	next    int
	full    bool
}

// NewRunLog creates a run log retaining the most recent size records.
// A non-positive size falls back to DefaultRunLogSize.
func NewRunLog(size int) *RunLog {
	if size <= 0 {
		size = DefaultRunLogSize
	}
	return &RunLog{
		records: make([]RunRecord, size),
	}
}

// Append records one run. Safe under concurrent writers.
func (l *RunLog) Append(rec RunRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records[l.next] = rec
	l.next++
	if l.next == len(l.records) {
		l.next = 0
		l.full = true
	}
}

// Tail returns up to limit of the most recent records, newest first.
// limit <= 0 returns everything retained.
func (l *RunLog) Tail(limit int) []RunRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.next
	if l.full {
		count = len(l.records)
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	out := make([]RunRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.next - 1 - i + len(l.records)) % len(l.records)
		out = append(out, l.records[idx])
	}
	return out
}

// Len returns the number of retained records.
func (l *RunLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.records)
	}
	return l.next
}

// Clear drops every retained record.
func (l *RunLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.records {
		l.records[i] = RunRecord{}
	}
	l.next = 0
	l.full = false
}
