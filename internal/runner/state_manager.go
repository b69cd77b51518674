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

package runner

import (
	"sort"
	"sync"

	"github.com/fyreflow/core/internal/model"
	fyerrors "github.com/fyreflow/core/pkg/errors"
)

// StateManager owns the run table: every Run this process knows about,
// keyed by id, guarded by a single RWMutex. It is the only component
// that may add or remove entries from the table; runs mutate their own
// state through the run actor, not through StateManager.
type StateManager struct {
	mu   sync.RWMutex
	runs map[string]*run
}

// NewStateManager builds an empty run table.
func NewStateManager() *StateManager {
	return &StateManager{runs: make(map[string]*run)}
}

func (s *StateManager) add(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.state.ID] = r
}

func (s *StateManager) get(id string) (*run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// GetRun returns a snapshot of the run with the given id.
func (s *StateManager) GetRun(id string) (model.Run, error) {
	r, ok := s.get(id)
	if !ok {
		return model.Run{}, &fyerrors.NotFoundError{Resource: "run", ID: id}
	}
	return r.snapshot(), nil
}

// ListFilter narrows ListRuns results.
type ListFilter struct {
	PipelineID string
	Status     model.RunStatus
	Limit      int
}

// ListRuns returns snapshots of every known run matching filter,
// newest first.
func (s *StateManager) ListRuns(filter ListFilter) []model.Run {
	s.mu.RLock()
	all := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		all = append(all, r)
	}
	s.mu.RUnlock()

	out := make([]model.Run, 0, len(all))
	for _, r := range all {
		snap := r.snapshot()
		if filter.PipelineID != "" && snap.PipelineID != filter.PipelineID {
			continue
		}
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// HasActiveRun implements store.ActiveRunChecker: at most one run per
// pipeline may be queued/running/paused/awaiting_approval at a time
// (spec.md §8 invariant 1).
func (s *StateManager) HasActiveRun(pipelineID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		r.mu.RLock()
		active := r.state.PipelineID == pipelineID && r.state.Status.Active()
		r.mu.RUnlock()
		if active {
			return true
		}
	}
	return false
}

// ActiveRunCount returns how many runs across all pipelines are
// currently active.
func (s *StateManager) ActiveRunCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.runs {
		r.mu.RLock()
		active := r.state.Status.Active()
		r.mu.RUnlock()
		if active {
			n++
		}
	}
	return n
}

// CancelAll requests cancellation of every active run, used during
// graceful shutdown.
func (s *StateManager) CancelAll() {
	s.mu.RLock()
	all := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		all = append(all, r)
	}
	s.mu.RUnlock()

	for _, r := range all {
		r.mu.RLock()
		active := r.state.Status.Active()
		r.mu.RUnlock()
		if active {
			r.requestStop()
		}
	}
}
