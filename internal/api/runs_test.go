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
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyreflow/core/internal/model"
)

func TestHandleRunCreate(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	created, err := store.Create(&p)
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodPost, "/runs", map[string]any{
		"pipelineId": created.ID,
		"task":       "write this week's notes",
		"inputs":     map[string]string{"repo": "fyreflow/core"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var run model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.NotEmpty(t, run.ID)
	require.Equal(t, created.ID, run.PipelineID)
	require.Equal(t, "api", run.TriggeredBy)
}

func TestHandleRunCreate_UnknownPipeline(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Routes()

	rec := doRequest(t, h, http.MethodPost, "/runs", map[string]any{"pipelineId": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRunCreate_MissingPipelineID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Routes()

	rec := doRequest(t, h, http.MethodPost, "/runs", map[string]any{"task": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRunGetAndList(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	created, err := store.Create(&p)
	require.NoError(t, err)

	createRec := doRequest(t, h, http.MethodPost, "/runs", map[string]any{"pipelineId": created.ID})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &run))

	getRec := doRequest(t, h, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	listRec := doRequest(t, h, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
}

func TestHandleRunGet_NotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Routes()

	rec := doRequest(t, h, http.MethodGet, "/runs/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRunStop(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	created, err := store.Create(&p)
	require.NoError(t, err)

	createRec := doRequest(t, h, http.MethodPost, "/runs", map[string]any{"pipelineId": created.ID})
	var run model.Run
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &run))

	stopRec := doRequest(t, h, http.MethodPost, "/runs/"+run.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, stopRec.Code)
}

func TestHandleSecureInputs_PutAndDelete(t *testing.T) {
	srv, store, _, vault := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	created, err := store.Create(&p)
	require.NoError(t, err)

	putRec := doRequest(t, h, http.MethodPut, "/pipelines/"+created.ID+"/secure-inputs", map[string]any{
		"values": map[string]string{"token": "super-secret"},
	})
	require.Equal(t, http.StatusNoContent, putRec.Code)

	saved, err := vault.Read(created.ID)
	require.NoError(t, err)
	require.Contains(t, saved, "token")

	listRec := doRequest(t, h, http.MethodGet, "/pipelines/"+created.ID+"/secure-inputs", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	require.Contains(t, listRec.Body.String(), "token")
	require.NotContains(t, listRec.Body.String(), "super-secret")

	delRec := doRequest(t, h, http.MethodDelete, "/pipelines/"+created.ID+"/secure-inputs", nil)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	saved, err = vault.Read(created.ID)
	require.NoError(t, err)
	require.Empty(t, saved)
}

func TestHandleSecureInputsPut_EmptyValues(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Routes()

	p := samplePipeline()
	created, err := store.Create(&p)
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodPut, "/pipelines/"+created.ID+"/secure-inputs", map[string]any{
		"values": map[string]string{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
