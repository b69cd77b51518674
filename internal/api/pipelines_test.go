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

package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyreflow/core/internal/model"
)

// errorBody mirrors the unexported api.errorBody wire shape for test
// assertions.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func samplePipeline() model.Pipeline {
	return model.Pipeline{
		Name: "release notes",
		Steps: []model.Step{
			{
				ID:              "draft",
				Name:            "draft",
				Role:            model.RoleAnalysis,
				Prompt:          "summarize {{input.repo}}",
				ContextTemplate: "{{task}}",
				Provider:        model.ProviderSelector{ProviderID: "anthropic", Model: "claude"},
				OutputFormat:    model.OutputMarkdown,
			},
		},
		Config: model.DefaultRuntimeConfig(),
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestHandlePipelineCreate(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Routes()

	rec := doRequest(t, h, http.MethodPost, "/pipelines", samplePipeline())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Pipeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "release notes", created.Name)
}

func TestHandlePipelineCreate_InvalidName(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	p.Name = "x"
	rec := doRequest(t, h, http.MethodPost, "/pipelines", p)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "validation_error", body.Code)
}

func TestHandleState_ListsCreatedPipelines(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	_, err := store.Create(&p)
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Pipelines []model.Pipeline `json:"pipelines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Pipelines, 1)
}

func TestHandlePipelineDelete(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	created, err := store.Create(&p)
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodDelete, "/pipelines/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err = store.Get(created.ID)
	require.Error(t, err)
}

func TestHandlePipelineDelete_NotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Routes()

	rec := doRequest(t, h, http.MethodDelete, "/pipelines/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSmartRunPlan(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	created, err := store.Create(&p)
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodGet, "/pipelines/"+created.ID+"/smart-run-plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var plan model.SmartRunPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Fields, 1)
	require.Equal(t, "repo", plan.Fields[0].Key)
}

func TestHandleStartupCheck_NeedsInput(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	created, err := store.Create(&p)
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodGet, "/pipelines/"+created.ID+"/startup-check", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "needs_input", resp.Status)
}

func TestHandleStartupCheck_PassWithInput(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	created, err := store.Create(&p)
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodGet, "/pipelines/"+created.ID+"/startup-check?repo=fyreflow/core", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pass", resp.Status)
}
