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
	"sort"

	fyerrors "github.com/fyreflow/core/pkg/errors"
)

// secureInputsListResponse is the payload for
// GET /pipelines/:id/secure-inputs — key names only, never plaintext.
type secureInputsListResponse struct {
	Keys []string `json:"keys"`
}

func (s *Server) handleSecureInputsList(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, &fyerrors.SecretsUnavailableError{Reason: "no vault configured"})
		return
	}

	saved, err := s.vault.Read(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	keys := make([]string, 0, len(saved))
	for k := range saved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, secureInputsListResponse{Keys: keys})
}

// secureInputsPutRequest is the body of PUT /pipelines/:id/secure-inputs.
type secureInputsPutRequest struct {
	Values map[string]string `json:"values"`
}

func (s *Server) handleSecureInputsPut(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, &fyerrors.SecretsUnavailableError{Reason: "no vault configured"})
		return
	}

	var req secureInputsPutRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Values) == 0 {
		writeError(w, &fyerrors.ValidationError{Field: "values", Message: "at least one value is required"})
		return
	}

	id := r.PathValue("id")
	if err := s.vault.Save(id, req.Values); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// secureInputsDeleteRequest is the body of
// DELETE /pipelines/:id/secure-inputs. An empty Keys list forgets every
// secure input saved for the pipeline.
type secureInputsDeleteRequest struct {
	Keys []string `json:"keys"`
}

func (s *Server) handleSecureInputsDelete(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, &fyerrors.SecretsUnavailableError{Reason: "no vault configured"})
		return
	}

	id := r.PathValue("id")

	var req secureInputsDeleteRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	if len(req.Keys) == 0 {
		if err := s.vault.Purge(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.vault.Forget(id, req.Keys); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
