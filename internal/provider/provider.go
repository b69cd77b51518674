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

// Package provider executes a single pipeline step against an external
// LLM provider. It is opaque from the run state machine's point of
// view: given a resolved context string it returns text, or an error
// classified into one of pkg/errors' provider kinds.
package provider

import (
	"context"

	"github.com/fyreflow/core/internal/model"
)

// OutputMode selects the format a provider is asked to produce.
type OutputMode string

const (
	OutputModeText OutputMode = "text"
	OutputModeJSON OutputMode = "json"
)

// SimulatedPrefix marks provider output as unauthenticated / CLI
// fallback. Callers treat any output beginning with this prefix as an
// auth failure rather than a real result.
const SimulatedPrefix = "[Simulated "

// Config resolves which provider backs a step and how to reach it.
type Config struct {
	ProviderID string
	Model      string
	CLIPath    string // override for the claudecode CLI binary, if set
}

// ExecuteRequest is the single input to Execute.
type ExecuteRequest struct {
	Config     Config
	Step       model.Step
	Task       string
	Context    string
	OutputMode OutputMode
}

// TokenUsage captures consumption metrics from the provider, when it
// reports them.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// OutputMetadata carries non-text accounting about one provider call.
type OutputMetadata struct {
	Provider   string      `json:"provider,omitempty"`
	Model      string      `json:"model,omitempty"`
	DurationMs int64       `json:"duration_ms,omitempty"`
	Usage      *TokenUsage `json:"token_usage,omitempty"`
}

// Executor calls out to an LLM provider and returns its raw text
// output. Execute is pure with respect to the core's own state: it
// performs no writes and is safe to call concurrently across distinct
// steps. Cancellation is honored via ctx; a cancelled ctx aborts an
// in-flight call as soon as the underlying transport observes it.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (string, error)
}

// Result pairs a provider's text output with its accounting metadata,
// for callers that need both (the run state machine does; the gate
// evaluator only needs the text).
type Result struct {
	Text     string
	Metadata OutputMetadata
}
