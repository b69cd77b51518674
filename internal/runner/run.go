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
	"context"
	"sync"

	"github.com/fyreflow/core/internal/model"
	"github.com/fyreflow/core/internal/rtinput"
)

// outputRecord is one step's output, carried alongside identifying
// fields so context substitution can render "### Step Name" sections
// in execution order.
type outputRecord struct {
	StepID   string
	StepName string
	Output   string
}

// run is the mutable actor backing one model.Run. All mutation happens
// on the dispatch goroutine; everything else reaches it either through
// Snapshot (a deep copy) or through the control channel.
type run struct {
	mu    sync.RWMutex
	state model.Run

	// resolvedInputs holds plaintext input values (secrets included),
	// used only for context substitution. Never copied into state.Inputs
	// and never logged.
	resolvedInputs map[string]string

	ctx    context.Context
	cancel context.CancelFunc

	// traceCtx carries the run-level span so step dispatches attach as
	// children of it. Set once at the top of the dispatch loop; reads
	// and writes happen only on the dispatch goroutine, like ready/
	// dispatched/executed.
	traceCtx context.Context

	cancelOnce sync.Once
	stopped    chan struct{}

	// control carries external operations (stop/pause/resume/approve/
	// submit-inputs), serialized onto this run's own queue per the
	// actor discipline in spec.md §5 and §9.
	control chan controlMsg

	// broker deduplicates runtime input-requests within this run.
	broker *rtinput.Broker

	// executed records every output produced so far, in dispatch
	// order, for {{all_outputs}} / {{incoming_outputs}} substitution.
	executed []outputRecord

	// dispatched marks which step ids have been handed to the
	// provider at least once, distinguishing an initial dispatch from
	// a remediation-loop re-entry.
	dispatched map[string]bool

	// ready is the FIFO of step ids awaiting dispatch.
	ready []string
}

func newRun(r model.Run, resolvedInputs map[string]string) *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		state:          r,
		resolvedInputs: resolvedInputs,
		ctx:            ctx,
		traceCtx:       ctx,
		cancel:         cancel,
		stopped:        make(chan struct{}),
		control:        make(chan controlMsg, 16),
		broker:         rtinput.NewBroker(),
		dispatched:     make(map[string]bool),
	}
}

// snapshot returns a deep-enough copy of the run's exposed state, safe
// to hand to callers outside the dispatch goroutine.
func (r *run) snapshot() model.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := r.state
	cp.Steps = append([]model.StepRun(nil), r.state.Steps...)
	for i := range cp.Steps {
		cp.Steps[i].QualityGateResults = append([]model.GateResult(nil), r.state.Steps[i].QualityGateResults...)
	}
	cp.Approvals = append([]model.ApprovalRequest(nil), r.state.Approvals...)
	cp.InputReqs = append([]model.RunInputRequest(nil), r.state.InputReqs...)
	cp.Logs = append([]string(nil), r.state.Logs...)
	loopCounts := make(map[string]int, len(r.state.LoopCounts))
	for k, v := range r.state.LoopCounts {
		loopCounts[k] = v
	}
	cp.LoopCounts = loopCounts
	inputs := make(map[string]string, len(r.state.Inputs))
	for k, v := range r.state.Inputs {
		inputs[k] = v
	}
	cp.Inputs = inputs
	return cp
}

// requestStop signals cancellation exactly once, closing stopped and
// cancelling the run's context so an in-flight provider call observes
// it immediately.
func (r *run) requestStop() {
	r.cancelOnce.Do(func() {
		close(r.stopped)
	})
	r.cancel()
}

const maxLogLines = 2000

// appendLog appends a bounded log line, truncating the oldest entries
// beyond capacity per spec.md §4.9.
func (r *run) appendLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Logs = append(r.state.Logs, line)
	if len(r.state.Logs) > maxLogLines {
		r.state.Logs = r.state.Logs[len(r.state.Logs)-maxLogLines:]
	}
}
