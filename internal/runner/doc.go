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

// Package runner implements the run state machine (C5): the per-run
// dispatch loop that walks a pipeline's step graph, honoring link
// conditions, loop caps and timeouts, alongside the run table
// (StateManager) and the per-run event/log stream (LogAggregator, C9).
//
// Each Run is modeled as an actor: external control operations (stop,
// pause, resume, approve, submit-inputs) are pushed onto the run's own
// buffered channel and applied only at a dispatch boundary or a
// suspension release, never by mutating Run state from another
// goroutine directly.
package runner
