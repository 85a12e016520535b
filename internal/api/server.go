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

// Package api exposes the broker over a local HTTP endpoint. The serve
// process binds it to loopback; the CLI subcommands and agent callers
// talk to it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GeoRetina/arion/internal/approval"
	"github.com/GeoRetina/arion/internal/broker"
	ilog "github.com/GeoRetina/arion/internal/log"
	"github.com/GeoRetina/arion/internal/mcp"
	"github.com/GeoRetina/arion/internal/policy"
)

// DefaultAddr is the default listen address, loopback only.
const DefaultAddr = "127.0.0.1:7465"

// Server serves the broker API and prometheus metrics.
type Server struct {
	broker  *broker.Broker
	manager *mcp.Manager
	policy  policy.Store
	logger  *slog.Logger

	httpServer *http.Server
}

// Config assembles a Server.
type Config struct {
	// Broker is the capability broker (required).
	Broker *broker.Broker

	// Manager is the MCP connection manager (optional; mcp endpoints
	// return 404 without it).
	Manager *mcp.Manager

	// Policy persists policy updates accepted over the API (optional;
	// without it PUT /v1/policy only replaces the in-memory snapshot).
	Policy policy.Store

	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		broker:  cfg.Broker,
		manager: cfg.Manager,
		policy:  cfg.Policy,
		logger:  ilog.WithComponent(logger, "api"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/invoke", s.handleInvoke)
	mux.HandleFunc("GET /v1/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /v1/runlog", s.handleRunLog)
	mux.HandleFunc("POST /v1/runlog/clear", s.handleRunLogClear)
	mux.HandleFunc("GET /v1/policy", s.handlePolicyGet)
	mux.HandleFunc("PUT /v1/policy", s.handlePolicySet)
	mux.HandleFunc("GET /v1/approvals/pending", s.handlePending)
	mux.HandleFunc("POST /v1/approvals/resolve", s.handleResolve)
	mux.HandleFunc("POST /v1/approvals/grant", s.handleGrant)
	mux.HandleFunc("POST /v1/approvals/revoke", s.handleRevoke)
	mux.HandleFunc("POST /v1/approvals/clear", s.handleApprovalsClear)
	mux.HandleFunc("POST /v1/scopes/end", s.handleEndScope)
	mux.HandleFunc("GET /v1/mcp/status", s.handleMCPStatus)
	mux.HandleFunc("POST /v1/mcp/reconnect/{server}", s.handleMCPReconnect)
	mux.HandleFunc("POST /v1/mcp/ping/{server}", s.handleMCPPing)
	mux.HandleFunc("POST /v1/mcp/refresh/{server}", s.handleMCPRefresh)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// ListenAndServe starts the server. It blocks until Shutdown or a listen
// failure.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("api listening", "addr", ln.Addr().String())

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// invokeRequest is the body of POST /v1/invoke.
type invokeRequest struct {
	ScopeKey      string                 `json:"scopeKey"`
	IntegrationID string                 `json:"integrationId"`
	Capability    string                 `json:"capability"`
	Args          map[string]interface{} `json:"args"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ScopeKey == "" || req.IntegrationID == "" || req.Capability == "" {
		writeError(w, http.StatusBadRequest, "scopeKey, integrationId, and capability are required")
		return
	}

	res := s.broker.Invoke(r.Context(), req.ScopeKey, req.IntegrationID, req.Capability, req.Args)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.ListCapabilities())
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.broker.RunLogTail(limit))
}

func (s *Server) handleRunLogClear(w http.ResponseWriter, r *http.Request) {
	s.broker.RunLogClear()
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.PolicySnapshot())
}

func (s *Server) handlePolicySet(w http.ResponseWriter, r *http.Request) {
	var cfg policy.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy body")
		return
	}
	if err := s.broker.SetPolicy(&cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.policy != nil {
		if err := s.policy.Set(&cfg); err != nil {
			s.logger.Warn("policy applied but not persisted", ilog.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": true})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.PendingApprovals())
}

// resolveRequest is the body of POST /v1/approvals/resolve.
type resolveRequest struct {
	RequestID string `json:"requestId"`
	Granted   bool   `json:"granted"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	resolved := s.broker.ResolvePermission(req.RequestID, req.Granted)
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": resolved})
}

// grantRequest is the body of POST /v1/approvals/grant.
type grantRequest struct {
	ScopeKey      string `json:"scopeKey"`
	IntegrationID string `json:"integrationId"`
	Capability    string `json:"capability"`
	Mode          string `json:"mode"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode := approval.Mode(req.Mode)
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "mode must be once, session, or always")
		return
	}
	if err := s.broker.GrantApproval(req.ScopeKey, req.IntegrationID, req.Capability, mode); err != nil {
		status := http.StatusUnprocessableEntity
		if bErr := broker.AsError(err); bErr != nil && bErr.Code == broker.CodeUnknownCapability {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": true})
}

// revokeRequest is the body of POST /v1/approvals/revoke.
type revokeRequest struct {
	ScopeKey      string `json:"scopeKey"`
	IntegrationID string `json:"integrationId"`
	Capability    string `json:"capability"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IntegrationID == "" || req.Capability == "" {
		writeError(w, http.StatusBadRequest, "integrationId and capability are required")
		return
	}
	revoked, err := s.broker.RevokeApproval(req.ScopeKey, req.IntegrationID, req.Capability)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !revoked {
		writeError(w, http.StatusNotFound, "no matching grant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

type scopeRequest struct {
	ScopeKey string `json:"scopeKey"`
}

func (s *Server) handleApprovalsClear(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.broker.ClearApprovals(req.ScopeKey); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleEndScope(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScopeKey == "" {
		writeError(w, http.StatusBadRequest, "scopeKey is required")
		return
	}
	s.broker.EndScope(req.ScopeKey)
	writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
}

func (s *Server) handleMCPStatus(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeError(w, http.StatusNotFound, "no MCP manager configured")
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleMCPReconnect(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeError(w, http.StatusNotFound, "no MCP manager configured")
		return
	}
	name := r.PathValue("server")
	if err := s.manager.Reconnect(r.Context(), name); err != nil {
		writeError(w, mcpErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reconnected": true})
}

func (s *Server) handleMCPPing(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeError(w, http.StatusNotFound, "no MCP manager configured")
		return
	}
	name := r.PathValue("server")
	if err := s.manager.Ping(r.Context(), name); err != nil {
		writeError(w, mcpErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

func (s *Server) handleMCPRefresh(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeError(w, http.StatusNotFound, "no MCP manager configured")
		return
	}
	name := r.PathValue("server")
	if err := s.manager.RefreshTools(r.Context(), name); err != nil {
		writeError(w, mcpErrorStatus(err), err.Error())
		return
	}
	tools, err := s.manager.Tools(name)
	if err != nil {
		writeError(w, mcpErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"toolCount": len(tools)})
}

func mcpErrorStatus(err error) int {
	var mcpErr *mcp.Error
	if errors.As(err, &mcpErr) && mcpErr.Code == mcp.ErrorCodeNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
