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

package provider

import (
	"context"
	"sync"
	"time"
)

// Registry resolves a step's provider_id to a concrete Executor and
// falls back to Simulated when none is registered. It is the single
// entry point the run dispatcher calls.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

// NewRegistry builds a Registry pre-seeded with the claudecode adapter
// under the "claude-code" id. Additional providers can be registered
// with Register.
func NewRegistry() *Registry {
	r := &Registry{
		executors: make(map[string]Executor),
		fallback:  Simulated{},
	}
	r.Register("claude-code", NewClaudeCode())
	return r
}

// Register associates a provider id with an Executor.
func (r *Registry) Register(providerID string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[providerID] = e
}

func (r *Registry) resolve(providerID string) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.executors[providerID]; ok {
		return e
	}
	return r.fallback
}

// Execute dispatches req to the registered executor for
// req.Config.ProviderID, recording elapsed time into the returned
// Result's metadata.
func (r *Registry) Execute(ctx context.Context, req ExecuteRequest) (Result, error) {
	start := time.Now()
	executor := r.resolve(req.Config.ProviderID)

	text, err := executor.Execute(ctx, req)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Text: text,
		Metadata: OutputMetadata{
			Provider:   req.Config.ProviderID,
			Model:      req.Config.Model,
			DurationMs: time.Since(start).Milliseconds(),
		},
	}, nil
}
