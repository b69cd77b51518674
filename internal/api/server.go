// Copyright 2025 Tom Barlow
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

// Package api exposes the HTTP/JSON surface spec.md §6 documents for
// the editor: pipeline CRUD, the smart-run preflight plan, run
// lifecycle control, and secure-input management. Server.Routes
// registers every route on one *http.ServeMux, one handler method per
// route.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fyreflow/core/internal/auth"
	"github.com/fyreflow/core/internal/log"
	"github.com/fyreflow/core/internal/mcp"
	"github.com/fyreflow/core/internal/runner"
	"github.com/fyreflow/core/internal/scheduler"
	"github.com/fyreflow/core/internal/store"
	"github.com/fyreflow/core/internal/vault"
	fyerrors "github.com/fyreflow/core/pkg/errors"
)

// Server composes the run-execution core's components behind the
// HTTP surface the editor depends on.
type Server struct {
	store     *store.Store
	runner    *runner.Runner
	vault     *vault.Vault
	mcp       *mcp.Registry
	scheduler *scheduler.Scheduler
	auth      *auth.Validator
	logger    *slog.Logger
}

// Deps are the components Server wires together. Scheduler and MCP
// may be nil; a nil MCP registry leaves the MCP reachability check out
// of the preflight plan. A nil Auth validator disables bearer-token
// enforcement entirely.
type Deps struct {
	Store     *store.Store
	Runner    *runner.Runner
	Vault     *vault.Vault
	MCP       *mcp.Registry
	Scheduler *scheduler.Scheduler
	Auth      *auth.Validator
	Logger    *slog.Logger
}

// NewServer builds a Server from deps.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     deps.Store,
		runner:    deps.Runner,
		vault:     deps.Vault,
		mcp:       deps.MCP,
		scheduler: deps.Scheduler,
		auth:      deps.Auth,
		logger:    logger.With("component", "api"),
	}
}

// Routes builds the *http.ServeMux every handler registers onto,
// wrapped with request logging middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /state", s.handleState)

	mux.HandleFunc("POST /pipelines", s.handlePipelineCreate)
	mux.HandleFunc("PATCH /pipelines/{id}", s.handlePipelineUpdate)
	mux.HandleFunc("DELETE /pipelines/{id}", s.handlePipelineDelete)

	mux.HandleFunc("GET /pipelines/{id}/smart-run-plan", s.handleSmartRunPlan)
	mux.HandleFunc("GET /pipelines/{id}/startup-check", s.handleStartupCheck)

	mux.HandleFunc("GET /pipelines/{id}/secure-inputs", s.handleSecureInputsList)
	mux.HandleFunc("PUT /pipelines/{id}/secure-inputs", s.handleSecureInputsPut)
	mux.HandleFunc("DELETE /pipelines/{id}/secure-inputs", s.handleSecureInputsDelete)

	mux.HandleFunc("POST /runs", s.handleRunCreate)
	mux.HandleFunc("GET /runs", s.handleRunList)
	mux.HandleFunc("GET /runs/{id}", s.handleRunGet)
	mux.HandleFunc("POST /runs/{id}/stop", s.handleRunStop)
	mux.HandleFunc("POST /runs/{id}/pause", s.handleRunPause)
	mux.HandleFunc("POST /runs/{id}/resume", s.handleRunResume)
	mux.HandleFunc("POST /runs/{id}/inputs", s.handleRunSubmitInputs)
	mux.HandleFunc("POST /runs/{id}/approvals/{approvalId}", s.handleRunApproval)

	return s.withLogging(s.withAuth(mux))
}

// withAuth enforces a bearer token on every request when an auth
// validator is configured. GET /state stays open so the editor can
// poll readiness before a token has been provisioned.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/state" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, &fyerrors.UnauthorizedError{Reason: "missing bearer token"})
			return
		}
		if _, err := s.auth.Validate(header[len(prefix):]); err != nil {
			writeError(w, &fyerrors.UnauthorizedError{Reason: err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		correlationID := r.Header.Get("X-Correlation-Id")
		req := &log.HTTPRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			CorrelationID: correlationID,
			RemoteAddr:    r.RemoteAddr,
		}
		log.LogHTTPRequest(s.logger, req)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.LogHTTPResponse(s.logger, req, &log.HTTPResponse{
			StatusCode: rec.status,
			DurationMs: time.Since(start).Milliseconds(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the {code, message} shape spec.md §6 requires of every
// API error.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps err to its stable code (pkg/errors.CodeOf) and the
// matching HTTP status (pkg/errors.HTTPStatus).
func writeError(w http.ResponseWriter, err error) {
	code := fyerrors.CodeOf(err)
	writeJSON(w, fyerrors.HTTPStatus(code), errorBody{Code: code, Message: err.Error()})
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &fyerrors.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}
