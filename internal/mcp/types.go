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

// Package mcp manages Arion's long-lived connections to Model Context
// Protocol servers.
//
// Each configured server gets one persistent client connection over
// stdio or SSE. After a successful handshake the manager discovers the
// server's tools; the discovered list fully replaces the previous one
// on every successful discovery and is cleared entirely on disconnect,
// so the broker's router only ever routes against live information.
package mcp

import (
	"encoding/json"
)

// Transport identifies how a server connection is carried.
type Transport string

const (
	// TransportStdio runs the server as a child process speaking MCP
	// over stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportSSE connects to a remote server over Server-Sent Events.
	TransportSSE Transport = "sse"
)

// Valid returns true for known transports.
func (t Transport) Valid() bool {
	return t == TransportStdio || t == TransportSSE
}

// ConnState is the lifecycle state of one server connection.
type ConnState string

const (
	// StateDisconnected means no connection exists.
	StateDisconnected ConnState = "disconnected"
	// StateConnecting means the transport is being established.
	StateConnecting ConnState = "connecting"
	// StateConnected means the handshake completed but tools are not yet
	// discovered.
	StateConnected ConnState = "connected"
	// StateReady means the connection is usable and tools are discovered.
	StateReady ConnState = "ready"
)

// ToolDefinition represents an MCP tool advertised by a server.
type ToolDefinition struct {
	// Name is the raw tool name on the server
	Name string `json:"name"`

	// Description explains what the tool does
	Description string `json:"description"`

	// InputSchema defines the expected input parameters using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallRequest represents a request to execute an MCP tool.
type ToolCallRequest struct {
	// Name is the raw tool name to execute
	Name string `json:"name"`

	// Arguments contains the input parameters for the tool
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolCallResponse represents the result of an MCP tool execution.
type ToolCallResponse struct {
	// Content contains the tool's output
	Content []ContentItem `json:"content"`

	// IsError indicates if the tool execution failed
	IsError bool `json:"isError,omitempty"`
}

// ContentItem represents a piece of content in an MCP response.
type ContentItem struct {
	// Type is the content type (text, image)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`
}
