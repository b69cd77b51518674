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

	"github.com/fyreflow/core/internal/model"
	"github.com/fyreflow/core/internal/preflight"
	"github.com/fyreflow/core/internal/runner"
	fyerrors "github.com/fyreflow/core/pkg/errors"
)

// stateResponse is the payload for GET /state.
type stateResponse struct {
	Pipelines []*model.Pipeline `json:"pipelines"`
	Runs      []model.Run       `json:"runs"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		Pipelines: s.store.List(),
	}
	if s.runner != nil {
		resp.Runs = s.runner.List(runner.ListFilter{})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePipelineCreate(w http.ResponseWriter, r *http.Request) {
	var p model.Pipeline
	if err := readJSON(r, &p); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.store.Create(&p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handlePipelineUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var p model.Pipeline
	if err := readJSON(r, &p); err != nil {
		writeError(w, err)
		return
	}
	p.ID = id
	updated, err := s.store.Update(&p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePipelineDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	if s.vault != nil {
		if err := s.vault.Purge(id); err != nil {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSmartRunPlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	inputs, err := s.mergedInputs(id, r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	plan := preflight.Plan(*p, inputs, s.mcpReachable())
	writeJSON(w, http.StatusOK, plan)
}

// startupCheckResponse is the payload for
// GET /pipelines/:id/startup-check.
type startupCheckResponse struct {
	Status   string                  `json:"status"` // pass | needs_input | blocked
	Requests []model.RunInputRequest `json:"requests"`
	Blockers []model.PreflightCheck  `json:"blockers"`
	Summary  string                  `json:"summary"`
}

func (s *Server) handleStartupCheck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	inputs, err := s.mergedInputs(id, r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	plan := preflight.Plan(*p, inputs, s.mcpReachable())

	resp := startupCheckResponse{Status: "pass", Requests: plan.Fields}
	var missing, blocked int
	for _, c := range plan.Checks {
		if c.Status != model.CheckFail {
			continue
		}
		resp.Blockers = append(resp.Blockers, c)
		if isInputCheck(c.ID) {
			missing++
		} else {
			blocked++
		}
	}
	switch {
	case blocked > 0:
		resp.Status = "blocked"
		resp.Summary = "pipeline-level checks failed"
	case missing > 0:
		resp.Status = "needs_input"
		resp.Summary = "required inputs are missing"
	default:
		resp.Summary = "ready to run"
	}

	writeJSON(w, http.StatusOK, resp)
}

func isInputCheck(id string) bool {
	return len(id) > 6 && id[:6] == "input:"
}

// mergedInputs resolves query-string inputs (?inputs=key:value,…-style
// callers may also just POST a body; query params are the documented
// GET-friendly shape) merged over any already-saved secure inputs,
// masked for preflight's own "missing or [secure]" check.
func (s *Server) mergedInputs(pipelineID string, query map[string][]string) (map[string]string, error) {
	inputs := make(map[string]string)
	for k, vs := range query {
		if k == "task" || len(vs) == 0 {
			continue
		}
		inputs[k] = vs[0]
	}
	if s.vault != nil {
		saved, err := s.vault.Read(pipelineID)
		if err != nil {
			return nil, &fyerrors.SecretsUnavailableError{Reason: err.Error()}
		}
		for k := range saved {
			if _, present := inputs[k]; !present {
				inputs[k] = "[secure]"
			}
		}
	}
	return inputs, nil
}

func (s *Server) mcpReachable() func(string) bool {
	if s.mcp == nil {
		return nil
	}
	return s.mcp.Reachable
}
