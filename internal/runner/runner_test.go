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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/core/internal/gate"
	"github.com/fyreflow/core/internal/model"
	"github.com/fyreflow/core/internal/provider"
)

const testProviderID = "test"

// scriptedExecutor returns a per-step sequence of canned outputs,
// repeating the final entry once a step's sequence is exhausted, and
// records how many times each step was dispatched.
type scriptedExecutor struct {
	mu      sync.Mutex
	outputs map[string][]string
	calls   map[string]int
}

func newScriptedExecutor(outputs map[string][]string) *scriptedExecutor {
	return &scriptedExecutor{outputs: outputs, calls: make(map[string]int)}
}

func (s *scriptedExecutor) Execute(ctx context.Context, req provider.ExecuteRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := req.Step.ID
	idx := s.calls[id]
	s.calls[id]++
	seq := s.outputs[id]
	if len(seq) == 0 {
		return "", nil
	}
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	return seq[idx], nil
}

func (s *scriptedExecutor) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func newTestRunner(exec *scriptedExecutor) *Runner {
	registry := provider.NewRegistry()
	registry.Register(testProviderID, exec)
	return New(registry, gate.New(), nil, Config{MaxParallel: 4})
}

func step(id, name string) model.Step {
	return model.Step{
		ID:              id,
		Name:            name,
		Role:            model.RoleExecutor,
		Provider:        model.ProviderSelector{ProviderID: testProviderID, Model: "test-model"},
		ContextTemplate: "{{task}}",
		OutputFormat:    model.OutputMarkdown,
	}
}

func waitTerminal(t *testing.T, rn *Runner, runID string) model.Run {
	t.Helper()
	var last model.Run
	require.Eventually(t, func() bool {
		r, err := rn.Get(runID)
		require.NoError(t, err)
		last = r
		return r.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func TestLinearPipelineAllPass(t *testing.T) {
	exec := newScriptedExecutor(map[string][]string{
		"a": {"## Analysis\nWORKFLOW_STATUS: PASS"},
		"b": {"## Build\nWORKFLOW_STATUS: PASS"},
		"c": {"## Review\nWORKFLOW_STATUS: **PASS**"},
	})
	rn := newTestRunner(exec)

	pipeline := model.Pipeline{
		ID:   "p1",
		Name: "E1",
		Steps: []model.Step{
			step("a", "Analysis"),
			step("b", "Build"),
			step("c", "Review"),
		},
		Links: []model.Link{
			{ID: "l1", SourceStepID: "a", TargetStepID: "b", Condition: model.ConditionAlways},
			{ID: "l2", SourceStepID: "b", TargetStepID: "c", Condition: model.ConditionAlways},
		},
		Gates: []model.QualityGate{
			{ID: "g1", Name: "status", TargetStepID: "c", Kind: model.GateRegexMustMatch, Blocking: true, Pattern: `WORKFLOW_STATUS\s*:\s*(PASS|FAIL|NEUTRAL)`},
		},
		Config: model.DefaultRuntimeConfig(),
	}

	run, err := rn.Submit(SubmitRequest{Pipeline: pipeline, Task: "Run E1", TriggeredBy: "test"})
	require.NoError(t, err)

	final := waitTerminal(t, rn, run.ID)
	assert.Equal(t, model.RunCompleted, final.Status)
	require.Len(t, final.Steps, 3)
	for _, sr := range final.Steps {
		assert.Equal(t, model.StepCompleted, sr.Status)
		assert.Equal(t, 1, sr.Attempts)
	}
	c := final.StepByID("c")
	require.NotNil(t, c)
	assert.Equal(t, model.OutcomePass, c.WorkflowOutcome)
	require.Len(t, c.QualityGateResults, 1)
	assert.Equal(t, model.GateStatusPass, c.QualityGateResults[0].Status)
}

func remediationPipeline() model.Pipeline {
	return model.Pipeline{
		ID:   "p2",
		Name: "E2/E3",
		Steps: []model.Step{
			step("build", "Build"),
			step("review", "Reviewer"),
		},
		Links: []model.Link{
			{ID: "l1", SourceStepID: "build", TargetStepID: "review", Condition: model.ConditionAlways},
			{ID: "l2", SourceStepID: "review", TargetStepID: "build", Condition: model.ConditionOnFail},
		},
		Config: model.RuntimeConfig{MaxLoops: 2, MaxStepExecutions: 18, StageTimeoutMs: 5000},
	}
}

func TestRemediationLoopSucceeds(t *testing.T) {
	exec := newScriptedExecutor(map[string][]string{
		"build":  {"WORKFLOW_STATUS: PASS", "WORKFLOW_STATUS: PASS"},
		"review": {"WORKFLOW_STATUS: FAIL", "WORKFLOW_STATUS: PASS"},
	})
	rn := newTestRunner(exec)

	run, err := rn.Submit(SubmitRequest{Pipeline: remediationPipeline(), Task: "Run E2", TriggeredBy: "test"})
	require.NoError(t, err)

	final := waitTerminal(t, rn, run.ID)
	assert.Equal(t, model.RunCompleted, final.Status)

	build := final.StepByID("build")
	review := final.StepByID("review")
	require.NotNil(t, build)
	require.NotNil(t, review)
	assert.Equal(t, 2, build.Attempts)
	assert.Equal(t, 2, review.Attempts)
	assert.Equal(t, 1, final.LoopCounts["build"])
}

func TestRemediationLoopExhausted(t *testing.T) {
	exec := newScriptedExecutor(map[string][]string{
		"build":  {"WORKFLOW_STATUS: PASS"},
		"review": {"WORKFLOW_STATUS: FAIL"},
	})
	rn := newTestRunner(exec)

	run, err := rn.Submit(SubmitRequest{Pipeline: remediationPipeline(), Task: "Run E3", TriggeredBy: "test"})
	require.NoError(t, err)

	final := waitTerminal(t, rn, run.ID)
	assert.Equal(t, model.RunFailed, final.Status)
	assert.Contains(t, final.Error, "loop")

	build := final.StepByID("build")
	require.NotNil(t, build)
	assert.Equal(t, 3, build.Attempts)
	assert.Equal(t, 3, final.LoopCounts["build"])

	found := false
	for _, line := range final.Logs {
		if strings.Contains(line, "exceeded max loop") {
			found = true
		}
	}
	assert.True(t, found, "expected a loop-exhausted log line, got: %v", final.Logs)
}

func TestManualApprovalApprove(t *testing.T) {
	exec := newScriptedExecutor(map[string][]string{
		"deploy": {"## Deploy\nWORKFLOW_STATUS: PASS"},
	})
	rn := newTestRunner(exec)

	pipeline := model.Pipeline{
		ID:    "p4",
		Name:  "E4",
		Steps: []model.Step{step("deploy", "Deploy")},
		Gates: []model.QualityGate{
			{ID: "g-approve", Name: "ship it", TargetStepID: "deploy", Kind: model.GateManualApproval},
		},
		Config: model.DefaultRuntimeConfig(),
	}

	run, err := rn.Submit(SubmitRequest{Pipeline: pipeline, Task: "Run E4", TriggeredBy: "test"})
	require.NoError(t, err)

	var awaiting model.Run
	require.Eventually(t, func() bool {
		r, err := rn.Get(run.ID)
		require.NoError(t, err)
		awaiting = r
		return r.Status == model.RunAwaitingApproval
	}, 2*time.Second, 5*time.Millisecond)
	require.Len(t, awaiting.Approvals, 1)
	assert.Equal(t, model.ApprovalPending, awaiting.Approvals[0].Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rn.Approve(ctx, run.ID, awaiting.Approvals[0].ID, true, "looks good"))

	final := waitTerminal(t, rn, run.ID)
	assert.Equal(t, model.RunCompleted, final.Status)
	assert.Equal(t, model.ApprovalApproved, final.Approvals[0].Status)
	deploy := final.StepByID("deploy")
	require.NotNil(t, deploy)
	assert.Equal(t, model.OutcomePass, deploy.WorkflowOutcome)
}

func TestManualApprovalReject(t *testing.T) {
	exec := newScriptedExecutor(map[string][]string{
		"deploy": {"## Deploy\nWORKFLOW_STATUS: PASS"},
	})
	rn := newTestRunner(exec)

	pipeline := model.Pipeline{
		ID:    "p5",
		Name:  "E4-reject",
		Steps: []model.Step{step("deploy", "Deploy")},
		Gates: []model.QualityGate{
			{ID: "g-approve", Name: "ship it", TargetStepID: "deploy", Kind: model.GateManualApproval, Blocking: true},
		},
		Config: model.DefaultRuntimeConfig(),
	}

	run, err := rn.Submit(SubmitRequest{Pipeline: pipeline, Task: "Run E4-reject", TriggeredBy: "test"})
	require.NoError(t, err)

	var awaiting model.Run
	require.Eventually(t, func() bool {
		r, err := rn.Get(run.ID)
		require.NoError(t, err)
		awaiting = r
		return r.Status == model.RunAwaitingApproval
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rn.Approve(ctx, run.ID, awaiting.Approvals[0].ID, false, "not ready"))

	final := waitTerminal(t, rn, run.ID)
	assert.Equal(t, model.RunFailed, final.Status)
	assert.Equal(t, model.ApprovalRejected, final.Approvals[0].Status)
}

func TestCancelStopsAnActiveRun(t *testing.T) {
	exec := newScriptedExecutor(map[string][]string{
		"a": {"WORKFLOW_STATUS: PASS"},
	})
	rn := newTestRunner(exec)

	pipeline := model.Pipeline{
		ID:     "p6",
		Name:   "cancel-me",
		Steps:  []model.Step{step("a", "A")},
		Gates:  []model.QualityGate{{ID: "g", Name: "approve", TargetStepID: "a", Kind: model.GateManualApproval}},
		Config: model.DefaultRuntimeConfig(),
	}

	run, err := rn.Submit(SubmitRequest{Pipeline: pipeline, Task: "cancel", TriggeredBy: "test"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := rn.Get(run.ID)
		require.NoError(t, err)
		return r.Status == model.RunAwaitingApproval
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rn.Cancel(ctx, run.ID))

	final := waitTerminal(t, rn, run.ID)
	assert.Equal(t, model.RunCancelled, final.Status)
}

func TestAtMostOneActiveRunPerPipeline(t *testing.T) {
	exec := newScriptedExecutor(map[string][]string{
		"a": {"WORKFLOW_STATUS: PASS"},
	})
	rn := newTestRunner(exec)

	pipeline := model.Pipeline{
		ID:     "p7",
		Name:   "single-active",
		Steps:  []model.Step{step("a", "A")},
		Gates:  []model.QualityGate{{ID: "g", Name: "approve", TargetStepID: "a", Kind: model.GateManualApproval}},
		Config: model.DefaultRuntimeConfig(),
	}

	_, err := rn.Submit(SubmitRequest{Pipeline: pipeline, Task: "first", TriggeredBy: "test"})
	require.NoError(t, err)

	_, err = rn.Submit(SubmitRequest{Pipeline: pipeline, Task: "second", TriggeredBy: "test"})
	require.Error(t, err)
}
