package policy

import (
	"time"

	"github.com/GeoRetina/arion/internal/backend"
	"github.com/GeoRetina/arion/internal/capability"
)

// DenialReason explains why a decision disallowed execution.
type DenialReason string

const (
	// ReasonDisabled means the integration or capability is switched off.
	ReasonDisabled DenialReason = "disabled"
	// ReasonNoEligibleBackend means the allowed set intersected with the
	// registration's backends, minus the denylist, came up empty.
	ReasonNoEligibleBackend DenialReason = "no_eligible_backend"
)

// Decision is the outcome of evaluating policy for one capability call.
type Decision struct {
	// Allowed is false when policy forbids the call outright.
	Allowed bool

	// Reason is set when Allowed is false.
	Reason DenialReason

	// AllowedBackends is the effective backend set the router may use,
	// in registration order.
	AllowedBackends []backend.Kind

	// ApprovalRequired means the call must pass the permission broker
	// before dispatch.
	ApprovalRequired bool

	// Timeout bounds each call attempt.
	Timeout time.Duration

	// MaxRetries bounds retries of transient failures.
	MaxRetries int
}

// Evaluate computes the effective policy decision for a registration.
// It is a pure function of the config snapshot and the registration:
//
//  1. Disabled policy is advisory only: everything the registry supports
//     is allowed, no approval, defaults for timeout and retries.
//  2. Field values cascade most-specific-wins: capability override,
//     then integration override, then global default.
//  3. The effective backend set is the cascaded allow-list intersected
//     with the registration's backends, minus the denylist. Empty means
//     the call is denied with ReasonNoEligibleBackend.
//  4. Approval is required for capabilities on the sensitive list, for
//     registrations marked sensitive, for an effective approval mode of
//     "require", and under strict mode whenever the effective backend
//     set is anything other than exactly {native}.
func Evaluate(cfg *Config, reg *capability.Registration) Decision {
	if !cfg.Enabled {
		return Decision{
			Allowed:         true,
			AllowedBackends: append([]backend.Kind(nil), reg.Backends...),
			Timeout:         msToDuration(cfg.DefaultTimeoutMs),
			MaxRetries:      cfg.DefaultMaxRetries,
		}
	}

	ip, haveIntegration := cfg.IntegrationPolicies[reg.IntegrationID]
	var cp CapabilityPolicy
	haveCapability := false
	if haveIntegration {
		cp, haveCapability = ip.Capabilities[reg.Capability]
	}

	// Enabled flag, most specific wins.
	enabled := true
	if haveIntegration && ip.Enabled != nil {
		enabled = *ip.Enabled
	}
	if haveCapability && cp.Enabled != nil {
		enabled = *cp.Enabled
	}
	if !enabled {
		return Decision{Allowed: false, Reason: ReasonDisabled}
	}

	// Allowed backend cascade.
	allowList := cfg.DefaultAllowedBackends
	if haveIntegration && ip.AllowedBackends != nil {
		allowList = ip.AllowedBackends
	}
	if haveCapability && cp.AllowedBackends != nil {
		allowList = cp.AllowedBackends
	}

	// Intersect with the registration's backends, then remove the
	// denylist. Denylist wins over every allow-list.
	var effective []backend.Kind
	for _, kind := range reg.Backends {
		if !kindListed(allowList, kind) {
			continue
		}
		if cfg.IsDeniedBackend(kind) {
			continue
		}
		effective = append(effective, kind)
	}
	if len(effective) == 0 {
		return Decision{Allowed: false, Reason: ReasonNoEligibleBackend}
	}

	// Approval mode cascade.
	mode := cfg.DefaultApprovalMode
	if mode == "" {
		mode = ApprovalAuto
	}
	if haveIntegration && ip.ApprovalMode != nil {
		mode = *ip.ApprovalMode
	}
	if haveCapability && cp.ApprovalMode != nil {
		mode = *cp.ApprovalMode
	}

	approvalRequired := mode == ApprovalRequire ||
		cfg.IsSensitiveCapability(reg.Capability) ||
		reg.Sensitivity == capability.SensitivitySensitive ||
		(cfg.StrictMode && !onlyNative(effective))

	// Timeout and retry cascade.
	timeoutMs := cfg.DefaultTimeoutMs
	if haveIntegration && ip.TimeoutMs != nil {
		timeoutMs = *ip.TimeoutMs
	}
	if haveCapability && cp.TimeoutMs != nil {
		timeoutMs = *cp.TimeoutMs
	}

	maxRetries := cfg.DefaultMaxRetries
	if haveIntegration && ip.MaxRetries != nil {
		maxRetries = *ip.MaxRetries
	}
	if haveCapability && cp.MaxRetries != nil {
		maxRetries = *cp.MaxRetries
	}

	return Decision{
		Allowed:          true,
		AllowedBackends:  effective,
		ApprovalRequired: approvalRequired,
		Timeout:          msToDuration(timeoutMs),
		MaxRetries:       maxRetries,
	}
}

func kindListed(kinds []backend.Kind, kind backend.Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func onlyNative(kinds []backend.Kind) bool {
	return len(kinds) == 1 && kinds[0] == backend.KindNative
}

func msToDuration(ms int) time.Duration {
	if ms <= 0 {
		return 30 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}
