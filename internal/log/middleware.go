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
	"log/slog"
	"net/http"
	"time"
)

// HTTPRequest captures the fields of an inbound HTTP request worth
// logging.
type HTTPRequest struct {
	Method        string
	Path          string
	CorrelationID string
	RemoteAddr    string
}

// HTTPResponse captures the fields of an HTTP response worth logging.
type HTTPResponse struct {
	StatusCode int
	DurationMs int64
	Error      string
}

// LogHTTPRequest logs an incoming HTTP request.
func LogHTTPRequest(logger *slog.Logger, req *HTTPRequest) {
	attrs := []any{
		EventKey, "http_request",
		"method", req.Method,
		"path", req.Path,
		"remote", req.RemoteAddr,
	}
	if req.CorrelationID != "" {
		attrs = append(attrs, "correlation_id", req.CorrelationID)
	}
	logger.Info("http request received", attrs...)
}

// LogHTTPResponse logs a completed HTTP response.
func LogHTTPResponse(logger *slog.Logger, req *HTTPRequest, resp *HTTPResponse) {
	attrs := []any{
		EventKey, "http_response",
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		DurationKey, resp.DurationMs,
		"remote", req.RemoteAddr,
	}
	if req.CorrelationID != "" {
		attrs = append(attrs, "correlation_id", req.CorrelationID)
	}

	level := slog.LevelInfo
	message := "http request completed"
	if resp.StatusCode >= 500 {
		level = slog.LevelError
		message = "http request failed"
		if resp.Error != "" {
			attrs = append(attrs, "error", resp.Error)
		}
	} else if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}

	logger.Log(nil, level, message, attrs...)
}

// statusRecorder wraps http.ResponseWriter to capture the status code
// written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware wraps an http.Handler with request/response logging,
// following the teacher's correlation-aware RPC logging idiom applied to
// the HTTP transport this repository actually exposes.
type HTTPMiddleware struct {
	logger *slog.Logger
}

// NewHTTPMiddleware creates a new HTTP logging middleware.
func NewHTTPMiddleware(logger *slog.Logger) *HTTPMiddleware {
	return &HTTPMiddleware{logger: logger}
}

// Wrap returns next instrumented with request/response logging.
func (m *HTTPMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		req := &HTTPRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			CorrelationID: r.Header.Get("X-Correlation-Id"),
			RemoteAddr:    r.RemoteAddr,
		}
		LogHTTPRequest(m.logger, req)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		LogHTTPResponse(m.logger, req, &HTTPResponse{
			StatusCode: rec.status,
			DurationMs: time.Since(start).Milliseconds(),
		})
	})
}
