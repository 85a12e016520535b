// Package broker implements the capability invocation pipeline: resolve
// the capability, evaluate policy, gate on human approval, route to a
// backend, execute with timeout and bounded retries, and record exactly
// one run record per call.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GeoRetina/arion/internal/approval"
	"github.com/GeoRetina/arion/internal/capability"
	ilog "github.com/GeoRetina/arion/internal/log"
	"github.com/GeoRetina/arion/internal/policy"
)

var tracer = otel.Tracer("github.com/GeoRetina/arion/internal/broker")

// Result is the normalized outcome of one capability invocation.
type Result struct {
	// RunID identifies the run record for this call.
	RunID string `json:"runId"`

	// Outcome classifies what happened.
	Outcome Outcome `json:"outcome"`

	// Payload is the backend's response on success.
	Payload interface{} `json:"payload,omitempty"`

	// Backend is the kind that served the call, when one was reached.
	Backend string `json:"backend,omitempty"`

	// ErrorCode is set for every non-success outcome.
	ErrorCode Code `json:"errorCode,omitempty"`

	// Message is a human-readable description of the outcome.
	Message string `json:"message,omitempty"`

	// DurationMs covers the whole pipeline including approval waits
	// and retries.
	DurationMs int64 `json:"durationMs"`
}

// Broker is the single entry point for capability invocation.
type Broker struct {
	caps      *capability.Registry
	router    *Router
	approvals *approval.Broker
	ledger    *approval.Ledger
	runlog    *RunLog
	retry     RetryConfig
	logger    *slog.Logger

	// policyMu guards the policy snapshot; Invoke reads it once per call.
	policyMu sync.RWMutex
	policy   *policy.Config
}

// Config assembles a Broker.
type Config struct {
	// Capabilities is the capability registry (required).
	Capabilities *capability.Registry

	// Router picks backend instances (required).
	Router *Router

	// Approvals is the permission broker (required).
	Approvals *approval.Broker

	// Ledger holds approval grants (required).
	Ledger *approval.Ledger

	// Policy is the initial policy snapshot. Defaults to
	// policy.DefaultConfig().
	Policy *policy.Config

	// RunLogSize bounds the run log. Defaults to DefaultRunLogSize.
	RunLogSize int

	// Retry configures backoff between execution retries.
	Retry RetryConfig

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// New creates a Broker.
func New(cfg Config) *Broker {
	pol := cfg.Policy
	if pol == nil {
		pol = policy.DefaultConfig()
	}
	retry := cfg.Retry
	if retry.InitialBackoff == 0 && retry.MaxBackoff == 0 {
		retry = DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Broker{
		caps:      cfg.Capabilities,
		router:    cfg.Router,
		approvals: cfg.Approvals,
		ledger:    cfg.Ledger,
		runlog:    NewRunLog(cfg.RunLogSize),
		retry:     retry,
		logger:    ilog.WithComponent(logger, "broker"),
		policy:    pol.Clone(),
	}
}

// SetPolicy replaces the policy snapshot used by subsequent calls.
// In-flight calls keep the snapshot they started with.
func (b *Broker) SetPolicy(cfg *policy.Config) error {
	if err := cfg.Validate(b.caps); err != nil {
		return err
	}
	b.policyMu.Lock()
	b.policy = cfg.Clone()
	b.policyMu.Unlock()

	b.logger.Info("policy snapshot replaced",
		"enabled", cfg.Enabled,
		"strict", cfg.StrictMode)
	return nil
}

// PolicySnapshot returns a copy of the current policy.
func (b *Broker) PolicySnapshot() *policy.Config {
	b.policyMu.RLock()
	defer b.policyMu.RUnlock()
	return b.policy.Clone()
}

// Invoke runs one capability call through the full pipeline. It never
// returns a raw backend error; every path produces a normalized Result
// and appends exactly one run record.
func (b *Broker) Invoke(ctx context.Context, scopeKey, integrationID, capabilityName string, args map[string]interface{}) Result {
	started := time.Now()
	runID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "broker.invoke", trace.WithAttributes(
		attribute.String("integration", integrationID),
		attribute.String("capability", capabilityName),
	))
	defer span.End()

	logger := b.logger.With(
		ilog.RunIDKey, runID,
		ilog.ScopeKey, scopeKey,
		ilog.IntegrationKey, integrationID,
		ilog.CapabilityKey, capabilityName,
	)

	finish := func(outcome Outcome, backendKind string, payload interface{}, brokerErr *Error, attempts int) Result {
		finished := time.Now()
		duration := finished.Sub(started)

		rec := RunRecord{
			RunID:         runID,
			StartedAt:     started,
			FinishedAt:    finished,
			DurationMs:    duration.Milliseconds(),
			ScopeKey:      scopeKey,
			IntegrationID: integrationID,
			Capability:    capabilityName,
			Backend:       backendKind,
			Outcome:       outcome,
		}
		res := Result{
			RunID:      runID,
			Outcome:    outcome,
			Payload:    payload,
			Backend:    backendKind,
			DurationMs: duration.Milliseconds(),
		}
		if brokerErr != nil {
			rec.Message = brokerErr.UserMessage()
			rec.ErrorCode = brokerErr.Code
			res.Message = brokerErr.UserMessage()
			res.ErrorCode = brokerErr.Code
		}
		b.runlog.Append(rec)

		recordInvocation(integrationID, capabilityName, backendKind, outcome, duration, attempts, rec.ErrorCode)
		span.SetAttributes(attribute.String("outcome", string(outcome)))

		level := slog.LevelInfo
		if outcome == OutcomeError || outcome == OutcomeTimeout {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "capability invocation finished",
			ilog.OutcomeKey, string(outcome),
			ilog.BackendKey, backendKind,
			ilog.DurationKey, duration.Milliseconds(),
		)

		return res
	}

	// 1. Resolve the capability.
	reg, err := b.caps.Resolve(integrationID, capabilityName)
	if err != nil {
		return finish(OutcomeError, "", nil,
			newError(CodeUnknownCapability, integrationID, capabilityName,
				"capability is not registered", err), 0)
	}

	// 2. Evaluate policy against the current snapshot.
	b.policyMu.RLock()
	pol := b.policy
	b.policyMu.RUnlock()

	decision := policy.Evaluate(pol, reg)
	if !decision.Allowed {
		code := CodePermissionDenied
		msg := "disabled by policy"
		if decision.Reason == policy.ReasonNoEligibleBackend {
			code = CodeNoEligibleBackend
			msg = "policy leaves no eligible backend"
		}
		return finish(OutcomePolicyDenied, "", nil,
			newError(code, integrationID, capabilityName, msg, nil), 0)
	}

	// 3. Gate on approval.
	if decision.ApprovalRequired {
		waitStart := time.Now()
		granted, err := b.approvals.EnsureApproved(ctx, scopeKey, integrationID, capabilityName, approval.ModeOnce)
		approvalWaits.Observe(time.Since(waitStart).Seconds())
		if err != nil {
			return finish(OutcomeError, "", nil,
				newError(CodeExecutionError, integrationID, capabilityName,
					"approval handling failed", err), 0)
		}
		if !granted {
			return finish(OutcomePolicyDenied, "", nil,
				newError(CodePermissionDenied, integrationID, capabilityName,
					"permission was denied", nil), 0)
		}
	}

	// 4. Route to a backend instance.
	handle, routeErr := b.router.Route(reg, decision.AllowedBackends, pol)
	if routeErr != nil {
		brokerErr := AsError(routeErr)
		if brokerErr == nil {
			brokerErr = newError(CodeBackendUnavailable, integrationID, capabilityName,
				routeErr.Error(), routeErr)
		}
		return finish(OutcomeError, "", nil, brokerErr, 0)
	}

	// 5. Execute with deadline and bounded retries.
	res := execute(ctx, b.retry, handle, integrationID, capabilityName, args,
		decision.Timeout, decision.MaxRetries)

	return finish(res.outcome, string(handle.Kind()), res.payload, res.err, res.attempts)
}

// ListCapabilities returns every registration, sorted.
func (b *Broker) ListCapabilities() []capability.Registration {
	return b.caps.List()
}

// RunLogTail returns up to limit of the most recent run records,
// newest first.
func (b *Broker) RunLogTail(limit int) []RunRecord {
	return b.runlog.Tail(limit)
}

// RunLogClear drops all run records.
func (b *Broker) RunLogClear() {
	b.runlog.Clear()
	b.logger.Info("run log cleared")
}

// GrantApproval records an explicit approval grant without a dialog
// round trip ("remember this" semantics).
func (b *Broker) GrantApproval(scopeKey, integrationID, capabilityName string, mode approval.Mode) error {
	if !b.caps.Has(integrationID, capabilityName) {
		return newError(CodeUnknownCapability, integrationID, capabilityName,
			"capability is not registered", nil)
	}
	scope := scopeKey
	if mode == approval.ModeAlways {
		scope = approval.GlobalScope
	}
	return b.ledger.Record(approval.Grant{
		ScopeKey:      scope,
		IntegrationID: integrationID,
		Capability:    capabilityName,
		Mode:          mode,
	})
}

// RevokeApproval removes a single recorded grant, leaving the rest of
// the scope intact. Returns false when no matching grant exists.
func (b *Broker) RevokeApproval(scopeKey, integrationID, capabilityName string) (bool, error) {
	revoked, err := b.ledger.Revoke(scopeKey, integrationID, capabilityName)
	if revoked {
		b.logger.Info("approval revoked",
			ilog.ScopeKey, scopeKey,
			ilog.IntegrationKey, integrationID,
			ilog.CapabilityKey, capabilityName)
	}
	return revoked, err
}

// ClearApprovals removes grants. An empty scopeKey clears everything,
// including persisted always-grants.
func (b *Broker) ClearApprovals(scopeKey string) error {
	return b.ledger.Clear(scopeKey)
}

// ResolvePermission delivers the interactive client's answer for a
// pending request. Returns false when the request already resolved.
func (b *Broker) ResolvePermission(requestID string, granted bool) bool {
	return b.approvals.Resolve(requestID, granted)
}

// PendingApprovals lists outstanding permission requests.
func (b *Broker) PendingApprovals() []approval.Request {
	return b.approvals.Pending()
}

// EndScope tears down one approval scope: pending requests are denied
// and the scope's session grants are dropped.
func (b *Broker) EndScope(scopeKey string) {
	b.approvals.EndScope(scopeKey)
	b.logger.Info("scope ended", ilog.ScopeKey, scopeKey)
}
