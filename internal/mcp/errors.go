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
	"fmt"
	"strings"
)

// ErrorCode represents a category of MCP connection error.
type ErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found in the configuration.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeNotConnected indicates the server has no live connection.
	ErrorCodeNotConnected ErrorCode = "NOT_CONNECTED"
	// ErrorCodeConnectFailed indicates the transport could not be established.
	ErrorCodeConnectFailed ErrorCode = "CONNECT_FAILED"
	// ErrorCodeHandshakeFailed indicates the MCP initialize handshake failed.
	ErrorCodeHandshakeFailed ErrorCode = "HANDSHAKE_FAILED"
	// ErrorCodeDiscoveryFailed indicates tool discovery failed.
	ErrorCodeDiscoveryFailed ErrorCode = "DISCOVERY_FAILED"
	// ErrorCodeCallFailed indicates a tool call returned an error.
	ErrorCodeCallFailed ErrorCode = "CALL_FAILED"
	// ErrorCodeValidation indicates a validation error.
	ErrorCodeValidation ErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig ErrorCode = "CONFIG"
	// ErrorCodeTimeout indicates a timeout occurred.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
)

// Error is an MCP connection error that carries suggestions for resolution.
type Error struct {
	// Code is the error category.
	Code ErrorCode
	// Server is the configured server name, when known.
	Server string
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)

	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n  Suggestions:\n")
		for _, s := range e.Suggestions {
			sb.WriteString("  - ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements pkg/errors.UserVisibleError.
// Connection errors are always user-visible.
func (e *Error) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *Error) UserMessage() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *Error) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *Error) ErrorType() string {
	return "mcp_" + strings.ToLower(string(e.Code))
}

// IsRetryable implements pkg/errors.ErrorClassifier. Transport-level
// failures may clear on a later attempt; configuration and validation
// problems never do.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrorCodeConnectFailed, ErrorCodeNotConnected, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// NewError creates a new Error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithServer records the server name on the error.
func (e *Error) WithServer(name string) *Error {
	e.Server = name
	return e
}

// WithDetail adds detail to the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// ErrServerNotFound creates an error for when a server is not configured.
func ErrServerNotFound(name string) *Error {
	return NewError(ErrorCodeNotFound, fmt.Sprintf("MCP server '%s' not found", name)).
		WithServer(name).
		WithSuggestions(
			"Check the server name: arion mcp status",
			"Add the server to mcp.yaml and restart",
		)
}

// ErrServerNotConnected creates an error for when a server has no live
// connection.
func ErrServerNotConnected(name string) *Error {
	return NewError(ErrorCodeNotConnected, fmt.Sprintf("MCP server '%s' is not connected", name)).
		WithServer(name).
		WithSuggestions(
			fmt.Sprintf("Reconnect the server: arion mcp reconnect %s", name),
			"Check status: arion mcp status",
		)
}

// ErrConnectFailed creates an error for a failed transport setup.
func ErrConnectFailed(name string, cause error) *Error {
	return NewError(ErrorCodeConnectFailed, fmt.Sprintf("failed to connect to MCP server '%s'", name)).
		WithServer(name).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			"Verify the command and arguments in mcp.yaml are correct",
			"Ensure required environment variables are set",
			fmt.Sprintf("Retry the connection: arion mcp reconnect %s", name),
		)
}

// ErrHandshakeFailed creates an error for a failed initialize handshake.
func ErrHandshakeFailed(name string, cause error) *Error {
	return NewError(ErrorCodeHandshakeFailed, fmt.Sprintf("MCP server '%s' rejected the handshake", name)).
		WithServer(name).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			"Verify the server implements the MCP protocol",
			"Check the server's own logs for startup errors",
		)
}

// ErrDiscoveryFailed creates an error for when tool discovery fails.
func ErrDiscoveryFailed(name string, cause error) *Error {
	return NewError(ErrorCodeDiscoveryFailed, fmt.Sprintf("tool discovery failed for MCP server '%s'", name)).
		WithServer(name).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			fmt.Sprintf("Reconnect to refresh tools: arion mcp reconnect %s", name),
		)
}

// ErrInvalidServerName creates an error for an invalid server name.
func ErrInvalidServerName(name string) *Error {
	return NewError(ErrorCodeValidation, fmt.Sprintf("invalid server name '%s'", name)).
		WithDetail("Names must start with a letter, contain only letters/numbers/hyphens/underscores, and be at most 64 characters").
		WithSuggestions(
			"Use only letters, numbers, hyphens (-), and underscores (_)",
			"Start the name with a letter",
		)
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(detail string) *Error {
	return NewError(ErrorCodeConfig, "invalid MCP server configuration").
		WithDetail(detail).
		WithSuggestions(
			"Check the configuration syntax in mcp.yaml",
			"Ensure all required fields are provided",
		)
}

// ErrTimeout creates an error for a timed-out operation against a server.
func ErrTimeout(name, operation string) *Error {
	return NewError(ErrorCodeTimeout, fmt.Sprintf("operation '%s' on MCP server '%s' timed out", operation, name)).
		WithServer(name).
		WithSuggestions(
			"Check if the server is responding",
			"Increase the server timeout in mcp.yaml",
		)
}

// WrapError wraps a standard error in an Error if it isn't one already.
func WrapError(err error, code ErrorCode, message string) *Error {
	if mcpErr, ok := err.(*Error); ok {
		return mcpErr
	}
	return NewError(code, message).WithDetail(err.Error()).WithCause(err)
}

// IsError checks if an error is an MCP Error.
func IsError(err error) bool {
	_, ok := err.(*Error)
	return ok
}
