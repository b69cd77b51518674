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

package api

import (
	"net/http"
	"strconv"

	"github.com/fyreflow/core/internal/runner"
	fyerrors "github.com/fyreflow/core/pkg/errors"
)

// createRunRequest is the body of POST /runs.
type createRunRequest struct {
	PipelineID string            `json:"pipelineId"`
	Task       string            `json:"task"`
	Inputs     map[string]string `json:"inputs"`
}

func (s *Server) handleRunCreate(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PipelineID == "" {
		writeError(w, &fyerrors.ValidationError{Field: "pipelineId", Message: "pipelineId is required"})
		return
	}

	p, err := s.store.Get(req.PipelineID)
	if err != nil {
		writeError(w, err)
		return
	}

	run, err := s.runner.Submit(runner.SubmitRequest{
		Pipeline:    *p,
		Task:        req.Task,
		Inputs:      req.Inputs,
		TriggeredBy: "api",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	filter := runner.ListFilter{
		PipelineID: r.URL.Query().Get("pipelineId"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.runner.List(filter))
}

func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunStop(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	s.writeRunOK(w, r)
}

func (s *Server) handleRunPause(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Pause(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	s.writeRunOK(w, r)
}

func (s *Server) handleRunResume(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Resume(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	s.writeRunOK(w, r)
}

// submitInputsRequest is the body of POST /runs/:id/inputs, resolving a
// paused runtime-input-request (C7).
type submitInputsRequest struct {
	Values map[string]string `json:"values"`
}

func (s *Server) handleRunSubmitInputs(w http.ResponseWriter, r *http.Request) {
	var req submitInputsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.runner.SubmitInputs(r.Context(), r.PathValue("id"), req.Values); err != nil {
		writeError(w, err)
		return
	}
	s.writeRunOK(w, r)
}

// approvalDecisionRequest is the body of
// POST /runs/:id/approvals/:approvalId.
type approvalDecisionRequest struct {
	Decision string `json:"decision"` // approved | rejected
	Note     string `json:"note,omitempty"`
}

func (s *Server) handleRunApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalDecisionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	approved := req.Decision == "approved"
	if !approved && req.Decision != "rejected" {
		writeError(w, &fyerrors.ValidationError{Field: "decision", Message: "decision must be \"approved\" or \"rejected\""})
		return
	}

	runID := r.PathValue("id")
	approvalID := r.PathValue("approvalId")
	if err := s.runner.Approve(r.Context(), runID, approvalID, approved, req.Note); err != nil {
		writeError(w, err)
		return
	}
	s.writeRunOK(w, r)
}

func (s *Server) writeRunOK(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
