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
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyreflow/core/internal/gate"
	"github.com/fyreflow/core/internal/model"
	"github.com/fyreflow/core/internal/provider"
	"github.com/fyreflow/core/internal/rtinput"
	fyerrors "github.com/fyreflow/core/pkg/errors"
	"github.com/fyreflow/core/pkg/secrets"
)

// providerUnauthenticatedError wraps a Simulated-executor fallback as a
// distinct, stable failure code rather than a generic provider error.
type providerUnauthenticatedError struct {
	Provider string
	Detail   string
}

func (e *providerUnauthenticatedError) Error() string {
	return fmt.Sprintf("provider %q is not configured: %s", e.Provider, e.Detail)
}

func (e *providerUnauthenticatedError) Code() string { return "provider_unauthenticated" }

type coder interface{ Code() string }

// errorCode derives the stable failure code a terminal run or step
// records, per spec.md §7: typed run errors report their own code,
// provider timeouts and generic provider failures get dedicated codes,
// anything else is "internal_error".
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	var timeoutErr *fyerrors.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "provider_timeout"
	}
	var providerErr *fyerrors.ProviderError
	if errors.As(err, &providerErr) {
		return "provider_error"
	}
	return "internal_error"
}

// stepResult is the outcome of one dispatchStep call, carried forward
// into next-step selection.
type stepResult struct {
	workflow       model.WorkflowOutcome
	blockingFailed bool
	blockingGateID string
}

// runLoop is the goroutine body behind every submitted run: it acquires
// a concurrency slot, then drives the dispatch loop until the run
// reaches a terminal status.
func (rn *Runner) runLoop(r *run) {
	defer rn.wg.Done()
	select {
	case rn.semaphore <- struct{}{}:
		defer func() { <-rn.semaphore }()
	case <-r.ctx.Done():
		rn.finalizeCancelled(r)
		return
	}
	rn.dispatchLoop(r)
}

// dispatchLoop implements spec.md §4.5: seed entry steps, then
// repeatedly dispatch the next ready step, apply gate/approval/
// runtime-input suspension, and select successors via link conditions
// until the ready queue drains or the run terminates early.
func (rn *Runner) dispatchLoop(r *run) {
	r.mu.Lock()
	r.state.Status = model.RunRunning
	pipeline := r.state.Pipeline
	runID := r.state.ID
	r.mu.Unlock()

	traceCtx, span := rn.tracer.Start(r.ctx, "run.dispatch", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("pipeline.id", pipeline.ID),
	))
	r.traceCtx = traceCtx
	defer span.End()

	rn.logs.emit(r, Event{Type: EventStatus, Status: string(model.RunRunning)}, "run started")

	for _, s := range pipeline.EntrySteps() {
		r.ready = append(r.ready, s.ID)
	}

	for {
		if rn.drainControl(r) {
			return
		}

		r.mu.RLock()
		paused := r.state.Status == model.RunPaused
		r.mu.RUnlock()
		if paused {
			if rn.waitForResume(r) {
				return
			}
			continue
		}

		if len(r.ready) == 0 {
			break
		}
		stepID := r.ready[0]
		r.ready = r.ready[1:]

		step, ok := pipeline.StepByID(stepID)
		if !ok {
			continue
		}

		r.mu.RLock()
		execCount := r.state.StepExecutionCount
		r.mu.RUnlock()
		if execCount >= pipeline.Config.MaxStepExecutions {
			rn.finalizeFailed(r, &fyerrors.LimitExhaustedError{Limit: pipeline.Config.MaxStepExecutions})
			return
		}

		result, terminated := rn.dispatchStep(r, pipeline, step)
		if terminated {
			return
		}

		if rn.selectNext(r, pipeline, step, result) {
			return
		}
	}

	rn.finalizeCompleted(r)
}

// drainControl applies every control message currently queued without
// blocking, and reports whether the run has been stopped.
func (rn *Runner) drainControl(r *run) bool {
	for {
		select {
		case <-r.ctx.Done():
			rn.finalizeCancelled(r)
			return true
		case msg := <-r.control:
			if rn.applyControl(r, msg) {
				return true
			}
		default:
			return false
		}
	}
}

// applyControl handles a control message reaching the loop outside any
// step suspension. approve/submit_inputs are only meaningful while a
// dispatchStep call is itself waiting on r.control; arriving here means
// no such wait is in progress, so they are acknowledged and dropped.
func (rn *Runner) applyControl(r *run, msg controlMsg) bool {
	defer msg.acknowledge()
	switch msg.kind {
	case controlStop:
		r.requestStop()
		rn.finalizeCancelled(r)
		return true
	case controlPause:
		r.mu.Lock()
		if !r.state.Status.Terminal() {
			r.state.Status = model.RunPaused
		}
		r.mu.Unlock()
		rn.logs.emit(r, Event{Type: EventStatus, Status: string(model.RunPaused)}, "run paused")
	case controlResume:
		r.mu.Lock()
		if r.state.Status == model.RunPaused {
			r.state.Status = model.RunRunning
		}
		r.mu.Unlock()
		rn.logs.emit(r, Event{Type: EventStatus, Status: string(model.RunRunning)}, "run resumed")
	}
	return false
}

// waitForResume blocks on the control channel while the run is paused,
// applying exactly one message per call so the dispatch loop can
// re-check status between messages.
func (rn *Runner) waitForResume(r *run) bool {
	select {
	case <-r.ctx.Done():
		rn.finalizeCancelled(r)
		return true
	case msg := <-r.control:
		return rn.applyControl(r, msg)
	}
}

// dispatchStep executes one step to completion: context resolution,
// the provider call, gate evaluation, runtime-input detection, and
// approval suspension. terminated reports whether the run was already
// finalized (cancelled or failed) while handling this step.
func (rn *Runner) dispatchStep(r *run, pipeline model.Pipeline, step model.Step) (stepResult, bool) {
	r.mu.Lock()
	sr := r.state.StepByID(step.ID)
	sr.Attempts++
	sr.Status = model.StepRunning
	startedAt := time.Now()
	sr.StartedAt = &startedAt
	r.state.StepExecutionCount++
	attempt := sr.Attempts
	r.dispatched[step.ID] = true
	executedSoFar := append([]outputRecord(nil), r.executed...)
	inputsSoFar := cloneStrMap(r.resolvedInputs)
	runID := r.state.ID
	pipelineID := r.state.Pipeline.ID
	r.mu.Unlock()

	rn.logs.emit(r, Event{Type: EventStepStart, StepID: step.ID, StepName: step.Name, Status: "running"}, fmt.Sprintf("dispatching step %q (attempt %d)", step.Name, attempt))

	stepCtx, span := rn.tracer.Start(r.traceCtx, "step.dispatch", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.name", step.Name),
		attribute.String("step.role", string(step.Role)),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	incomingIDs := sourceStepIDs(pipeline, step.ID)

	for {
		ctxText := resolveContext(step.ContextTemplate, rn.taskOf(r), lastOutput(executedSoFar), incomingOutputs(executedSoFar, incomingIDs), executedSoFar, inputsSoFar)

		providerCfg := provider.Config{ProviderID: step.Provider.ProviderID, Model: step.Provider.Model}
		outputMode := provider.OutputModeText
		if step.OutputFormat == model.OutputJSON {
			outputMode = provider.OutputModeJSON
		}

		timeout := time.Duration(pipeline.Config.StageTimeoutMs) * time.Millisecond
		callCtx, cancel := context.WithTimeout(stepCtx, timeout)
		result, err := rn.providers.Execute(callCtx, provider.ExecuteRequest{
			Config:     providerCfg,
			Step:       step,
			Task:       rn.taskOf(r),
			Context:    ctxText,
			OutputMode: outputMode,
		})
		deadlineExceeded := callCtx.Err() == context.DeadlineExceeded
		cancel()

		if r.ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			rn.finalizeCancelled(r)
			return stepResult{}, true
		}

		if err != nil {
			if deadlineExceeded {
				ferr := &fyerrors.TimeoutError{Operation: fmt.Sprintf("step %q provider call", step.Name), Duration: timeout}
				span.RecordError(ferr)
				span.SetStatus(codes.Error, errorCode(ferr))
				return rn.handleStepFailure(r, step, ferr), true
			}
			ferr := &fyerrors.ProviderError{Provider: step.Provider.ProviderID, Message: err.Error()}
			span.RecordError(ferr)
			span.SetStatus(codes.Error, errorCode(ferr))
			return rn.handleStepFailure(r, step, ferr), true
		}

		if strings.HasPrefix(result.Text, provider.SimulatedPrefix) {
			uerr := &providerUnauthenticatedError{Provider: step.Provider.ProviderID, Detail: result.Text}
			span.RecordError(uerr)
			span.SetStatus(codes.Error, uerr.Code())
			return rn.handleStepFailure(r, step, uerr), true
		}

		storage := rn.storagePathsFor(pipelineID, runID, step)
		gateOutcome, gerr := rn.gates.Evaluate(r.ctx, runID, pipeline.Gates, step, result.Text, inputsSoFar, storage)
		if gerr != nil {
			span.RecordError(gerr)
			span.SetStatus(codes.Error, errorCode(gerr))
			return rn.handleStepFailure(r, step, gerr), true
		}

		if req, ok := rtinput.Detect(runID, step.ID, attempt, result.Text); ok && !r.broker.Seen(req.Signature) {
			proceed, stop := rn.awaitRuntimeInputs(r, step, req)
			if stop {
				return stepResult{}, true
			}
			if proceed {
				r.mu.RLock()
				inputsSoFar = cloneStrMap(r.resolvedInputs)
				r.mu.RUnlock()
				continue
			}
		}

		if len(gateOutcome.Approvals) > 0 {
			results, outcome, stop := rn.awaitApprovals(r, step, result.Text, gateOutcome)
			if stop {
				return stepResult{}, true
			}
			gateOutcome.Results = results
			gateOutcome.Workflow = outcome
		}

		finishedAt := time.Now()
		r.mu.Lock()
		sr := r.state.StepByID(step.ID)
		sr.Status = model.StepCompleted
		sr.Output = result.Text
		sr.WorkflowOutcome = gateOutcome.Workflow
		sr.QualityGateResults = gateOutcome.Results
		sr.FinishedAt = &finishedAt
		r.executed = append(r.executed, outputRecord{StepID: step.ID, StepName: step.Name, Output: result.Text})
		r.mu.Unlock()

		rn.logs.emit(r, Event{Type: EventStepComplete, StepID: step.ID, StepName: step.Name, Status: string(gateOutcome.Workflow)}, fmt.Sprintf("step %q completed: %s", step.Name, gateOutcome.Workflow))

		res := stepResult{workflow: gateOutcome.Workflow}
		for _, g := range gateOutcome.Results {
			if g.Blocking && g.Status == model.GateStatusFail {
				res.blockingFailed = true
				res.blockingGateID = g.GateID
				break
			}
		}
		span.SetAttributes(attribute.String("workflow.outcome", string(gateOutcome.Workflow)))
		if res.blockingFailed {
			span.SetStatus(codes.Error, "blocking gate failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return res, false
	}
}

// handleStepFailure records a failed StepRun and finalizes the owning
// run, returning a zero stepResult for dispatchStep's terminated path.
func (rn *Runner) handleStepFailure(r *run, step model.Step, err error) stepResult {
	r.mu.Lock()
	sr := r.state.StepByID(step.ID)
	if sr != nil {
		sr.Status = model.StepFailed
		sr.Error = err.Error()
		now := time.Now()
		sr.FinishedAt = &now
	}
	r.mu.Unlock()
	rn.logs.emit(r, Event{Type: EventStepComplete, StepID: step.ID, StepName: step.Name, Status: string(model.StepFailed), Error: errorCode(err)}, fmt.Sprintf("step %q failed: %v", step.Name, err))
	rn.finalizeFailed(r, err)
	return stepResult{}
}

// awaitRuntimeInputs pauses the run until an operator submits values
// for a detected input-request, or the run is stopped. proceed reports
// whether the step's single attempt should be re-run against the
// now-augmented inputs.
func (rn *Runner) awaitRuntimeInputs(r *run, step model.Step, req rtinput.Request) (proceed, stop bool) {
	r.mu.Lock()
	r.state.Status = model.RunPaused
	r.state.InputReqs = req.Fields
	r.mu.Unlock()
	rn.logs.emit(r, Event{Type: EventStatus, StepID: step.ID, StepName: step.Name, Status: string(model.RunPaused)}, fmt.Sprintf("step %q requested runtime input: %s", step.Name, req.Summary))

	for {
		select {
		case <-r.ctx.Done():
			rn.finalizeCancelled(r)
			return false, true
		case msg := <-r.control:
			switch msg.kind {
			case controlStop:
				r.requestStop()
				rn.finalizeCancelled(r)
				msg.acknowledge()
				return false, true
			case controlSubmitInputs:
				rn.applySubmittedInputs(r, step, req, msg.inputs)
				r.mu.Lock()
				r.state.InputReqs = nil
				r.state.Status = model.RunRunning
				r.mu.Unlock()
				msg.acknowledge()
				rn.logs.emit(r, Event{Type: EventStatus, StepID: step.ID, StepName: step.Name, Status: string(model.RunRunning)}, fmt.Sprintf("runtime inputs received for step %q, resuming", step.Name))
				return true, false
			default:
				msg.acknowledge()
			}
		}
	}
}

// applySubmittedInputs splits an operator's resolution into secret and
// plain values, persisting secrets to the vault and merging both into
// the run's resolved/masked input maps.
func (rn *Runner) applySubmittedInputs(r *run, step model.Step, req rtinput.Request, values map[string]string) {
	secretValues, plainValues := rtinput.ApplyResolution(req, rtinput.Resolution{Values: values})

	r.mu.RLock()
	pipelineID := r.state.Pipeline.ID
	r.mu.RUnlock()

	if len(secretValues) > 0 && rn.vault != nil {
		if err := rn.vault.Save(pipelineID, secretValues); err != nil {
			rn.logs.emit(r, Event{Type: EventLog, StepID: step.ID, Level: "error", Message: "failed to persist runtime secret input"}, fmt.Sprintf("failed saving secret inputs for step %q: %v", step.Name, err))
		}
	}

	r.mu.Lock()
	if r.state.Inputs == nil {
		r.state.Inputs = make(map[string]string)
	}
	for k, v := range plainValues {
		r.resolvedInputs[k] = v
		r.state.Inputs[k] = v
	}
	for k, v := range secretValues {
		r.resolvedInputs[k] = v
		r.state.Inputs[k] = secrets.SecureSentinel
	}
	r.mu.Unlock()
}

// awaitApprovals pauses the run until every manual_approval gate raised
// for this step is resolved, or the run is stopped, then re-derives the
// step's workflow outcome from the resolved gate results.
func (rn *Runner) awaitApprovals(r *run, step model.Step, output string, out gate.Outcome) ([]model.GateResult, model.WorkflowOutcome, bool) {
	r.mu.Lock()
	r.state.Status = model.RunAwaitingApproval
	r.state.Approvals = append(r.state.Approvals, out.Approvals...)
	r.mu.Unlock()
	rn.logs.emit(r, Event{Type: EventStatus, StepID: step.ID, StepName: step.Name, Status: string(model.RunAwaitingApproval)}, fmt.Sprintf("step %q awaiting manual approval", step.Name))

	pending := make(map[string]bool, len(out.Approvals))
	for _, a := range out.Approvals {
		pending[a.ID] = true
	}
	results := out.Results

	for len(pending) > 0 {
		select {
		case <-r.ctx.Done():
			rn.finalizeCancelled(r)
			return nil, model.OutcomeUnknown, true
		case msg := <-r.control:
			switch msg.kind {
			case controlStop:
				r.requestStop()
				rn.finalizeCancelled(r)
				msg.acknowledge()
				return nil, model.OutcomeUnknown, true
			case controlApprove:
				if !pending[msg.approvalID] {
					msg.acknowledge()
					continue
				}
				status := model.ApprovalRejected
				if msg.approved {
					status = model.ApprovalApproved
				}
				now := time.Now()
				r.mu.Lock()
				for i := range r.state.Approvals {
					if r.state.Approvals[i].ID != msg.approvalID {
						continue
					}
					r.state.Approvals[i].Status = status
					r.state.Approvals[i].Note = msg.note
					r.state.Approvals[i].ResolvedAt = &now
					gateID := r.state.Approvals[i].GateID
					for j := range results {
						if results[j].GateID == gateID {
							results[j] = gate.ResolveApproval(results[j], status)
						}
					}
				}
				r.mu.Unlock()
				delete(pending, msg.approvalID)
				msg.acknowledge()
				rn.logs.emit(r, Event{Type: EventStatus, StepID: step.ID, StepName: step.Name, Status: string(status)}, fmt.Sprintf("approval %s resolved: %s", msg.approvalID, status))
			default:
				msg.acknowledge()
			}
		}
	}

	r.mu.Lock()
	r.state.Status = model.RunRunning
	r.mu.Unlock()

	normalized := gate.NormalizeStatusMarkers(output)
	return results, gate.DeriveWorkflowOutcome(normalized, results), false
}

// selectNext applies spec.md §4.5 step 8: link-condition routing plus
// remediation-loop counting. It returns true if the run was finalized
// (a blocking gate failure with no remediation link, or an exhausted
// loop) and the dispatch loop should stop.
func (rn *Runner) selectNext(r *run, pipeline model.Pipeline, step model.Step, result stepResult) bool {
	links := pipeline.LinksFrom(step.ID)

	hasOnFail := false
	var targets []string
	for _, l := range links {
		switch l.Condition {
		case model.ConditionAlways:
			targets = append(targets, l.TargetStepID)
		case model.ConditionOnPass:
			if result.workflow == model.OutcomePass {
				targets = append(targets, l.TargetStepID)
			}
		case model.ConditionOnFail:
			hasOnFail = true
			if result.workflow == model.OutcomeFail {
				targets = append(targets, l.TargetStepID)
			}
		}
	}

	if result.blockingFailed && !hasOnFail {
		rn.finalizeFailed(r, &fyerrors.GateBlockingFailedError{GateID: result.blockingGateID, StepID: step.ID, Message: "blocking gate failed with no remediation link"})
		return true
	}

	for _, target := range targets {
		r.mu.Lock()
		if r.dispatched[target] {
			r.state.LoopCounts[target]++
			count := r.state.LoopCounts[target]
			r.mu.Unlock()
			if count > pipeline.Config.MaxLoops {
				rn.finalizeFailed(r, &fyerrors.LoopExhaustedError{StepID: target, MaxLoops: pipeline.Config.MaxLoops})
				return true
			}
		} else {
			r.mu.Unlock()
		}
		r.ready = append(r.ready, target)
	}
	return false
}

func (rn *Runner) finalizeCompleted(r *run) {
	r.mu.Lock()
	r.state.Status = model.RunCompleted
	now := time.Now()
	r.state.FinishedAt = &now
	r.mu.Unlock()
	trace.SpanFromContext(r.traceCtx).SetStatus(codes.Ok, "")
	rn.logs.emit(r, Event{Type: EventStatus, Status: string(model.RunCompleted)}, "run completed")
}

func (rn *Runner) finalizeFailed(r *run, err error) {
	r.mu.Lock()
	if r.state.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state.Status = model.RunFailed
	r.state.Error = err.Error()
	now := time.Now()
	r.state.FinishedAt = &now
	r.mu.Unlock()
	span := trace.SpanFromContext(r.traceCtx)
	span.RecordError(err)
	span.SetStatus(codes.Error, errorCode(err))
	rn.logs.emit(r, Event{Type: EventStatus, Status: string(model.RunFailed), Error: errorCode(err)}, fmt.Sprintf("run failed: %v", err))
}

func (rn *Runner) finalizeCancelled(r *run) {
	r.mu.Lock()
	if r.state.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state.Status = model.RunCancelled
	r.state.Error = (&fyerrors.CancelledError{RunID: r.state.ID}).Error()
	now := time.Now()
	r.state.FinishedAt = &now
	r.mu.Unlock()
	trace.SpanFromContext(r.traceCtx).SetStatus(codes.Error, "cancelled")
	rn.logs.emit(r, Event{Type: EventStatus, Status: string(model.RunCancelled)}, "run cancelled")
}

func (rn *Runner) taskOf(r *run) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Task
}

// storagePathsFor builds the scoped storage bundle a step's gates
// search, rooted at the runner's configured storage root.
func (rn *Runner) storagePathsFor(pipelineID, runID string, step model.Step) gate.StoragePaths {
	if rn.storageRoot == "" {
		return gate.StoragePaths{}
	}
	sp := gate.StoragePaths{RunDir: filepath.Join(rn.storageRoot, "runs", runID)}
	if step.StorageShared {
		sp.Shared = filepath.Join(rn.storageRoot, "shared", pipelineID)
	}
	if step.StorageIsolated {
		sp.Isolated = filepath.Join(rn.storageRoot, "isolated", pipelineID, step.ID)
	}
	return sp
}

// sourceStepIDs returns the set of step ids with a direct link into
// target, used to compute {{incoming_outputs}}.
func sourceStepIDs(pipeline model.Pipeline, target string) map[string]bool {
	out := make(map[string]bool)
	for _, l := range pipeline.Links {
		if l.TargetStepID == target {
			out[l.SourceStepID] = true
		}
	}
	return out
}

func cloneStrMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
