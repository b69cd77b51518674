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

package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogHTTPRequestResponse(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	req := &HTTPRequest{Method: "POST", Path: "/runs", CorrelationID: "corr-1", RemoteAddr: "127.0.0.1:1234"}
	LogHTTPRequest(logger, req)
	LogHTTPResponse(logger, req, &HTTPResponse{StatusCode: 202, DurationMs: 12})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var reqLine map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &reqLine))
	require.Equal(t, "http_request", reqLine[EventKey])
	require.Equal(t, "corr-1", reqLine["correlation_id"])

	var respLine map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &respLine))
	require.Equal(t, "http_response", respLine[EventKey])
	require.Equal(t, float64(202), respLine["status"])
}

func TestHTTPMiddlewareWrapsHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	mw := NewHTTPMiddleware(logger)

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/pipelines", nil)
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, buf.String(), `"status":201`)
}

func TestHTTPMiddlewareDefaultsStatusOK(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	mw := NewHTTPMiddleware(logger)

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/state", nil)
	handler.ServeHTTP(rec, r)

	require.Contains(t, buf.String(), `"status":200`)
}
