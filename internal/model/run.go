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

package model

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunQueued            RunStatus = "queued"
	RunRunning           RunStatus = "running"
	RunPaused            RunStatus = "paused"
	RunAwaitingApproval  RunStatus = "awaiting_approval"
	RunCompleted         RunStatus = "completed"
	RunFailed            RunStatus = "failed"
	RunCancelled         RunStatus = "cancelled"
)

// Active reports whether a pipeline with a Run in this status counts
// against the at-most-one-active-run-per-pipeline invariant.
func (s RunStatus) Active() bool {
	switch s {
	case RunQueued, RunRunning, RunPaused, RunAwaitingApproval:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status represents a finished run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// StepRunStatus is the lifecycle state of a single step execution.
type StepRunStatus string

const (
	StepPending   StepRunStatus = "pending"
	StepRunning   StepRunStatus = "running"
	StepCompleted StepRunStatus = "completed"
	StepFailed    StepRunStatus = "failed"
	StepSkipped   StepRunStatus = "skipped"
)

// WorkflowOutcome is a step's derived pass/fail/neutral/unknown signal,
// computed by the gate evaluator from status markers and blocking gate
// results.
type WorkflowOutcome string

const (
	OutcomePass    WorkflowOutcome = "pass"
	OutcomeFail    WorkflowOutcome = "fail"
	OutcomeNeutral WorkflowOutcome = "neutral"
	OutcomeUnknown WorkflowOutcome = "unknown"
)

// GateResultStatus is the per-gate evaluation outcome.
type GateResultStatus string

const (
	GateStatusPass GateResultStatus = "pass"
	GateStatusFail GateResultStatus = "fail"
	GateStatusWarn GateResultStatus = "warn"
)

// GateResult records the outcome of evaluating one QualityGate against a
// StepRun's output.
type GateResult struct {
	GateID   string           `json:"gate_id"`
	GateName string           `json:"gate_name"`
	Status   GateResultStatus `json:"status"`
	Blocking bool             `json:"blocking"`
	Message  string           `json:"message,omitempty"`
	Details  string           `json:"details,omitempty"`
}

// StepRun is one execution record of a step within a run. A step may be
// executed more than once across remediation loops; Attempts counts
// dispatches of this step within the owning run.
type StepRun struct {
	StepID   string        `json:"step_id"`
	StepName string        `json:"step_name"`
	Status   StepRunStatus `json:"status"`
	Attempts int           `json:"attempts"`

	WorkflowOutcome WorkflowOutcome `json:"workflow_outcome,omitempty"`

	Output             string       `json:"output,omitempty"`
	QualityGateResults []GateResult `json:"quality_gate_results,omitempty"`

	Error string `json:"error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ApprovalStatus is the resolution state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest represents a pending manual_approval gate awaiting an
// operator decision. A run blocks in RunAwaitingApproval until resolved.
type ApprovalRequest struct {
	ID       string         `json:"id"`
	RunID    string         `json:"run_id"`
	GateID   string         `json:"gate_id"`
	GateName string         `json:"gate_name"`
	StepID   string         `json:"step_id"`
	StepName string         `json:"step_name"`
	Message  string         `json:"message,omitempty"`
	Status   ApprovalStatus `json:"status"`
	Note     string         `json:"note,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// InputFieldType is the UI hint for a RunInputRequest field.
type InputFieldType string

const (
	InputText      InputFieldType = "text"
	InputMultiline InputFieldType = "multiline"
	InputURL       InputFieldType = "url"
	InputSecret    InputFieldType = "secret"
)

// RunInputRequest describes one input field, produced either by the
// preflight planner or parsed from a step's runtime "input-request"
// output (C7).
type RunInputRequest struct {
	Key          string         `json:"key"`
	Label        string         `json:"label"`
	Type         InputFieldType `json:"type"`
	Required     bool           `json:"required"`
	Placeholder  string         `json:"placeholder,omitempty"`
	Description  string         `json:"description,omitempty"`
	DefaultValue string         `json:"default_value,omitempty"`
}

// CheckStatus is the pass/warn/fail outcome of a PreflightCheck.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// PreflightCheck is one named validation performed before a run starts.
// Input-derived checks use the id form "input:<key>"; pipeline-level
// checks (cron validity, provider auth, MCP reachability, storage paths)
// use unprefixed ids.
type PreflightCheck struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Message string      `json:"message,omitempty"`
	Status  CheckStatus `json:"status"`
	Details string      `json:"details,omitempty"`
}

// SmartRunPlan is the deterministic output of the preflight planner.
type SmartRunPlan struct {
	Fields []RunInputRequest `json:"fields"`
	Checks []PreflightCheck  `json:"checks"`
}

// Run is one execution of a Pipeline.
type Run struct {
	ID         string `json:"id"`
	PipelineID string `json:"pipeline_id"`

	// Pipeline is an immutable snapshot of the pipeline definition taken
	// at run start, isolating the run from subsequent pipeline edits.
	Pipeline Pipeline `json:"pipeline"`

	Status RunStatus `json:"status"`
	Task   string    `json:"task"`

	// Inputs holds normalized run inputs: non-secret values verbatim,
	// secret values replaced with the sentinel "[secure]".
	Inputs map[string]string `json:"inputs,omitempty"`

	Steps       []StepRun         `json:"steps"`
	Approvals   []ApprovalRequest `json:"approvals,omitempty"`
	InputReqs   []RunInputRequest `json:"input_requests,omitempty"`
	Logs        []string          `json:"logs,omitempty"`

	StepExecutionCount int            `json:"step_execution_count"`
	LoopCounts         map[string]int `json:"loop_counts,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Error string `json:"error,omitempty"`

	// TriggeredBy records what started the run: "api", "cli", "schedule".
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// StepByID returns a pointer to the StepRun for the given step id.
func (r *Run) StepByID(stepID string) *StepRun {
	for i := range r.Steps {
		if r.Steps[i].StepID == stepID {
			return &r.Steps[i]
		}
	}
	return nil
}

// RunSnapshot is an immutable, safe-to-share copy of a Run returned by
// the runner to callers outside the run's own goroutine.
type RunSnapshot struct {
	Run Run `json:"run"`
}
