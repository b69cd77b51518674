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
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyreflow/core/internal/gate"
	"github.com/fyreflow/core/internal/model"
	"github.com/fyreflow/core/internal/provider"
	"github.com/fyreflow/core/internal/vault"
	fyerrors "github.com/fyreflow/core/pkg/errors"
	"github.com/fyreflow/core/pkg/secrets"
)

// tracerName scopes every span this package emits under one
// instrumentation library name, matching the teacher's
// internal/tracing.OTelProvider.Tracer(name) convention.
const tracerName = "github.com/fyreflow/core/internal/runner"

// storageRootEnv mirrors internal/preflight's FYREFLOW_STORAGE_ROOT
// convention, used when Config.StorageRoot is left blank.
const storageRootEnv = "FYREFLOW_STORAGE_ROOT"

// defaultMaxParallel matches spec.md §5's default concurrency budget.
const defaultMaxParallel = 8

// Tracer is the subset of an OTel TracerProvider the runner needs,
// satisfied by *internal/tracing.Provider or otel.GetTracerProvider().
type Tracer interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
}

// Config bounds a Runner's behavior.
type Config struct {
	MaxParallel int
	StorageRoot string

	// Tracing supplies the TracerProvider used to emit run/step spans.
	// Nil falls back to the process-global provider (a no-op until
	// something calls otel.SetTracerProvider).
	Tracing Tracer
}

// Runner composes every piece the run state machine needs: the run
// table, the event bus, the provider registry, the gate evaluator, and
// the secrets vault. Grounded on the teacher's controller/runner.Runner
// composition.
type Runner struct {
	state *StateManager
	logs  *LogAggregator

	providers *provider.Registry
	gates     *gate.Evaluator
	vault     *vault.Vault
	tracer    trace.Tracer

	storageRoot string

	semaphore chan struct{}
	wg        sync.WaitGroup
	draining  atomic.Bool
}

// New builds a Runner. providers and gates must not be nil; vault may
// be nil only for deployments with no secret-typed inputs (Submit then
// fails fast on any secret sentinel it is asked to resolve).
func New(providers *provider.Registry, gates *gate.Evaluator, v *vault.Vault, cfg Config) *Runner {
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	storageRoot := cfg.StorageRoot
	if storageRoot == "" {
		storageRoot = os.Getenv(storageRootEnv)
	}
	var tp Tracer = cfg.Tracing
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Runner{
		state:       NewStateManager(),
		logs:        NewLogAggregator(),
		providers:   providers,
		gates:       gates,
		vault:       v,
		tracer:      tp.Tracer(tracerName),
		storageRoot: storageRoot,
		semaphore:   make(chan struct{}, maxParallel),
	}
}

// SubmitRequest is the single input to Submit.
type SubmitRequest struct {
	Pipeline    model.Pipeline
	Task        string
	Inputs      map[string]string
	TriggeredBy string // "api", "cli", or "schedule"
}

// Submit creates and launches a new Run. It enforces the
// at-most-one-active-run-per-pipeline invariant and resolves any
// "[secure]" sentinel inputs to vault plaintext before dispatch begins.
func (rn *Runner) Submit(req SubmitRequest) (model.Run, error) {
	if rn.draining.Load() {
		return model.Run{}, &fyerrors.ValidationError{Message: "runner is draining: not accepting new runs"}
	}
	if rn.state.HasActiveRun(req.Pipeline.ID) {
		return model.Run{}, &fyerrors.ValidationError{Field: "pipeline_id", Message: "pipeline already has an active run"}
	}

	resolvedInputs := req.Inputs
	if rn.vault != nil {
		resolved, err := rn.vault.ResolveForDispatch(req.Pipeline.ID, req.Inputs)
		if err != nil {
			return model.Run{}, err
		}
		resolvedInputs = resolved
	} else {
		for k, v := range req.Inputs {
			if v == secrets.SecureSentinel {
				return model.Run{}, &fyerrors.SecretsUnavailableError{Reason: fmt.Sprintf("no vault configured to resolve secure input %q", k)}
			}
		}
	}

	steps := make([]model.StepRun, 0, len(req.Pipeline.Steps))
	for _, s := range req.Pipeline.Steps {
		steps = append(steps, model.StepRun{StepID: s.ID, StepName: s.Name, Status: model.StepPending})
	}

	m := model.Run{
		ID:          uuid.NewString(),
		PipelineID:  req.Pipeline.ID,
		Pipeline:    req.Pipeline,
		Status:      model.RunQueued,
		Task:        req.Task,
		Inputs:      secrets.MaskSensitiveInputs(req.Inputs),
		Steps:       steps,
		LoopCounts:  make(map[string]int),
		StartedAt:   time.Now(),
		TriggeredBy: req.TriggeredBy,
	}

	actor := newRun(m, resolvedInputs)
	rn.state.add(actor)

	rn.wg.Add(1)
	go rn.runLoop(actor)

	return actor.snapshot(), nil
}

// Get returns a snapshot of one run.
func (rn *Runner) Get(runID string) (model.Run, error) {
	return rn.state.GetRun(runID)
}

// List returns snapshots of runs matching filter.
func (rn *Runner) List(filter ListFilter) []model.Run {
	return rn.state.ListRuns(filter)
}

// ActiveRunCount reports how many runs are currently active.
func (rn *Runner) ActiveRunCount() int {
	return rn.state.ActiveRunCount()
}

// HasActiveRun implements store.ActiveRunChecker.
func (rn *Runner) HasActiveRun(pipelineID string) bool {
	return rn.state.HasActiveRun(pipelineID)
}

// Subscribe streams a run's events to the caller until unsubscribe is
// called.
func (rn *Runner) Subscribe(runID string) (<-chan Event, func()) {
	return rn.logs.Subscribe(runID)
}

// send delivers a control message to a run and blocks until the
// dispatch loop has applied it, or ctx is done.
func (rn *Runner) send(ctx context.Context, runID string, msg controlMsg) error {
	r, ok := rn.state.get(runID)
	if !ok {
		return &fyerrors.NotFoundError{Resource: "run", ID: runID}
	}
	msg.ack = make(chan struct{})
	select {
	case r.control <- msg:
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-msg.ack:
		return nil
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops a run, however far it has progressed.
func (rn *Runner) Cancel(ctx context.Context, runID string) error {
	return rn.send(ctx, runID, controlMsg{kind: controlStop})
}

// Pause requests that a running run suspend before its next dispatch.
func (rn *Runner) Pause(ctx context.Context, runID string) error {
	run, err := rn.Get(runID)
	if err != nil {
		return err
	}
	if run.Status != model.RunRunning {
		return &fyerrors.ValidationError{Field: "status", Message: fmt.Sprintf("cannot pause a run in status %q", run.Status)}
	}
	return rn.send(ctx, runID, controlMsg{kind: controlPause})
}

// Resume requests that a paused run continue dispatching.
func (rn *Runner) Resume(ctx context.Context, runID string) error {
	run, err := rn.Get(runID)
	if err != nil {
		return err
	}
	if run.Status != model.RunPaused {
		return &fyerrors.ValidationError{Field: "status", Message: fmt.Sprintf("cannot resume a run in status %q", run.Status)}
	}
	return rn.send(ctx, runID, controlMsg{kind: controlResume})
}

// Approve resolves a pending ApprovalRequest.
func (rn *Runner) Approve(ctx context.Context, runID, approvalID string, approved bool, note string) error {
	run, err := rn.Get(runID)
	if err != nil {
		return err
	}
	if run.Status != model.RunAwaitingApproval {
		return &fyerrors.ValidationError{Field: "status", Message: fmt.Sprintf("run %s is not awaiting approval", runID)}
	}
	found := false
	for _, a := range run.Approvals {
		if a.ID == approvalID && a.Status == model.ApprovalPending {
			found = true
			break
		}
	}
	if !found {
		return &fyerrors.NotFoundError{Resource: "approval", ID: approvalID}
	}
	return rn.send(ctx, runID, controlMsg{kind: controlApprove, approvalID: approvalID, approved: approved, note: note})
}

// SubmitInputs resolves a pending runtime input-request.
func (rn *Runner) SubmitInputs(ctx context.Context, runID string, values map[string]string) error {
	run, err := rn.Get(runID)
	if err != nil {
		return err
	}
	if run.Status != model.RunPaused || len(run.InputReqs) == 0 {
		return &fyerrors.ValidationError{Field: "status", Message: fmt.Sprintf("run %s is not awaiting runtime input", runID)}
	}
	return rn.send(ctx, runID, controlMsg{kind: controlSubmitInputs, inputs: values})
}

// StartDraining marks the Runner as no longer accepting new runs,
// letting in-flight runs finish naturally.
func (rn *Runner) StartDraining() {
	rn.draining.Store(true)
}

// IsDraining reports whether the Runner is draining.
func (rn *Runner) IsDraining() bool {
	return rn.draining.Load()
}

// WaitForDrain blocks until every active run has reached a terminal
// status or ctx is done.
func (rn *Runner) WaitForDrain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		rn.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop begins draining and cancels every active run once ctx expires,
// for graceful-then-forced shutdown.
func (rn *Runner) Stop(ctx context.Context) error {
	rn.StartDraining()
	select {
	case <-waitChan(&rn.wg):
		return nil
	case <-ctx.Done():
		rn.state.CancelAll()
		return ctx.Err()
	}
}

func waitChan(wg *sync.WaitGroup) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}
