package broker

import (
	"fmt"
)

// Code classifies a broker failure.
type Code string

const (
	// CodeUnknownCapability means no registration exists for the
	// (integration, capability) pair. Always a caller bug.
	CodeUnknownCapability Code = "UNKNOWN_CAPABILITY"
	// CodeNoEligibleBackend means policy left no backend kind to route to.
	CodeNoEligibleBackend Code = "NO_ELIGIBLE_BACKEND"
	// CodePermissionDenied means policy or the user refused the call.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeBackendUnavailable means an allowed backend kind exists but no
	// live instance can serve the call right now.
	CodeBackendUnavailable Code = "BACKEND_UNAVAILABLE"
	// CodeExecutionTimeout means the call exceeded its deadline.
	CodeExecutionTimeout Code = "EXECUTION_TIMEOUT"
	// CodeExecutionError means the backend reported a failure.
	CodeExecutionError Code = "EXECUTION_ERROR"
	// CodeTransientError means a retryable failure exhausted its retries.
	CodeTransientError Code = "TRANSIENT_ERROR"
)

// Error is the broker's normalized failure type. Raw backend errors
// never reach the caller; they are wrapped here with a stable code.
type Error struct {
	// Code classifies the failure.
	Code Code
	// IntegrationID and Capability identify the attempted call.
	IntegrationID string
	Capability    string
	// Message is a human-readable description.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s/%s: %s", e.Code, e.IntegrationID, e.Capability, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *Error) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError. The message must
// let a user tell a policy denial from a missing backend from a timeout.
func (e *Error) UserMessage() string {
	switch e.Code {
	case CodeUnknownCapability:
		return fmt.Sprintf("capability %s/%s is not registered", e.IntegrationID, e.Capability)
	case CodeNoEligibleBackend:
		return fmt.Sprintf("policy leaves no backend able to serve %s/%s", e.IntegrationID, e.Capability)
	case CodePermissionDenied:
		return fmt.Sprintf("permission to run %s/%s was denied", e.IntegrationID, e.Capability)
	case CodeBackendUnavailable:
		return fmt.Sprintf("no backend for %s/%s is currently available", e.IntegrationID, e.Capability)
	case CodeExecutionTimeout:
		return fmt.Sprintf("%s/%s timed out", e.IntegrationID, e.Capability)
	default:
		return e.Message
	}
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *Error) Suggestion() string {
	switch e.Code {
	case CodeNoEligibleBackend:
		return "Check the policy's allowed backends and denylist: arion policy show"
	case CodeBackendUnavailable:
		return "Check backend status: arion mcp status"
	case CodeExecutionTimeout:
		return "Increase the capability's timeout in the policy configuration"
	default:
		return ""
	}
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *Error) ErrorType() string {
	return "broker_" + string(e.Code)
}

// IsRetryable implements pkg/errors.ErrorClassifier. Only availability
// problems are worth a retry at a higher level; denials and timeouts
// are final.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeBackendUnavailable, CodeTransientError:
		return true
	default:
		return false
	}
}

// newError constructs an Error for one attempted call.
func newError(code Code, integrationID, capability, message string, cause error) *Error {
	return &Error{
		Code:          code,
		IntegrationID: integrationID,
		Capability:    capability,
		Message:       message,
		Cause:         cause,
	}
}

// AsError extracts a broker Error from err, or nil.
func AsError(err error) *Error {
	if bErr, ok := err.(*Error); ok {
		return bErr
	}
	return nil
}
