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

// Package model holds the pipeline/run data model shared by every
// run-execution component (store, runner, gate evaluator, scheduler).
package model

import "time"

// StepRole identifies the kind of work a step performs.
type StepRole string

const (
	RoleAnalysis     StepRole = "analysis"
	RolePlanner      StepRole = "planner"
	RoleOrchestrator StepRole = "orchestrator"
	RoleExecutor     StepRole = "executor"
	RoleTester       StepRole = "tester"
	RoleReview       StepRole = "review"
)

// OutputFormat is the format a step is expected to produce.
type OutputFormat string

const (
	OutputMarkdown OutputFormat = "markdown"
	OutputJSON     OutputFormat = "json"
)

// LinkCondition determines when a Link is traversed after a step runs.
type LinkCondition string

const (
	ConditionAlways LinkCondition = "always"
	ConditionOnPass LinkCondition = "on_pass"
	ConditionOnFail LinkCondition = "on_fail"
)

// GateKind identifies the evaluation strategy for a QualityGate.
type GateKind string

const (
	GateRegexMustMatch    GateKind = "regex_must_match"
	GateRegexMustNotMatch GateKind = "regex_must_not_match"
	GateJSONFieldExists   GateKind = "json_field_exists"
	GateArtifactExists    GateKind = "artifact_exists"
	GateManualApproval    GateKind = "manual_approval"
)

// AnyStepSentinel is the QualityGate.TargetStepID value meaning "applies
// to every step in the pipeline".
const AnyStepSentinel = "any_step"

// ProviderSelector configures which LLM provider/model a step calls through.
type ProviderSelector struct {
	ProviderID         string `json:"provider_id" yaml:"provider_id"`
	Model              string `json:"model" yaml:"model"`
	ReasoningEffort    string `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
	FastMode           bool   `json:"fast_mode,omitempty" yaml:"fast_mode,omitempty"`
	LongContext        bool   `json:"long_context,omitempty" yaml:"long_context,omitempty"` // 1M-context flag
	ContextWindowTokens int   `json:"context_window_tokens,omitempty" yaml:"context_window_tokens,omitempty"`
}

// Step is one node of a pipeline's directed graph.
type Step struct {
	ID     string   `json:"id" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	Role   StepRole `json:"role" yaml:"role"`
	Prompt string   `json:"prompt" yaml:"prompt"`

	Provider ProviderSelector `json:"provider" yaml:"provider"`

	// ContextTemplate holds placeholders substituted at dispatch time:
	// {{task}}, {{previous_output}}, {{incoming_outputs}}, {{all_outputs}},
	// {{input.<key>}}, {{run_inputs}}.
	ContextTemplate string `json:"context_template" yaml:"context_template"`

	DelegationEnabled bool `json:"delegation_enabled,omitempty" yaml:"delegation_enabled,omitempty"`
	DelegationCount   int  `json:"delegation_count,omitempty" yaml:"delegation_count,omitempty"` // 1-8

	StorageIsolated bool `json:"storage_isolated,omitempty" yaml:"storage_isolated,omitempty"`
	StorageShared   bool `json:"storage_shared,omitempty" yaml:"storage_shared,omitempty"`

	EnabledMCPServers []string `json:"enabled_mcp_servers,omitempty" yaml:"enabled_mcp_servers,omitempty"`

	OutputFormat         OutputFormat `json:"output_format" yaml:"output_format"`
	RequiredOutputFields []string     `json:"required_output_fields,omitempty" yaml:"required_output_fields,omitempty"`
	RequiredOutputFiles  []string     `json:"required_output_files,omitempty" yaml:"required_output_files,omitempty"`
}

// Link is a conditional edge between two steps.
type Link struct {
	ID           string        `json:"id" yaml:"id"`
	SourceStepID string        `json:"source_step_id" yaml:"source_step_id"`
	TargetStepID string        `json:"target_step_id" yaml:"target_step_id"`
	Condition    LinkCondition `json:"condition" yaml:"condition"`
}

// QualityGate is a declarative check applied to a step's output.
type QualityGate struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	TargetStepID string   `json:"target_step_id" yaml:"target_step_id"` // step id or AnyStepSentinel
	Kind         GateKind `json:"kind" yaml:"kind"`
	Blocking     bool     `json:"blocking" yaml:"blocking"`

	// Kind-specific parameters.
	Pattern      string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Flags        string `json:"flags,omitempty" yaml:"flags,omitempty"` // i, m, s, u
	JSONPath     string `json:"json_path,omitempty" yaml:"json_path,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`

	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Targets reports whether the gate applies to the given step id.
func (g QualityGate) Targets(stepID string) bool {
	return g.TargetStepID == stepID || g.TargetStepID == AnyStepSentinel
}

// RuntimeConfig bounds a pipeline's run behavior.
type RuntimeConfig struct {
	MaxLoops          int `json:"max_loops" yaml:"max_loops"`                   // 0-12, default 2
	MaxStepExecutions int `json:"max_step_executions" yaml:"max_step_executions"` // 4-120, default 18
	StageTimeoutMs    int `json:"stage_timeout_ms" yaml:"stage_timeout_ms"`     // 10_000-1_200_000
}

// DefaultRuntimeConfig returns the spec-documented defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxLoops:          2,
		MaxStepExecutions: 18,
		StageTimeoutMs:    120_000,
	}
}

// RunMode selects how much preflight collection a triggered run performs.
type RunMode string

const (
	RunModeSmart RunMode = "smart"
	RunModeQuick RunMode = "quick"
)

// Schedule configures cron-driven triggering of a pipeline.
type Schedule struct {
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	Cron     string            `json:"cron" yaml:"cron"`
	Timezone string            `json:"timezone" yaml:"timezone"` // IANA name
	Task     string            `json:"task" yaml:"task"`
	RunMode  RunMode           `json:"run_mode" yaml:"run_mode"`
	Inputs   map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Pipeline is the persisted catalog entry a Run is created from.
type Pipeline struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"` // 2-120 chars
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Steps  []Step        `json:"steps" yaml:"steps"`
	Links  []Link        `json:"links" yaml:"links"`
	Gates  []QualityGate `json:"gates" yaml:"gates"`
	Config RuntimeConfig `json:"config" yaml:"config"`

	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// Version is reserved for forward schema migrations. Unused today.
	Version int `json:"version" yaml:"version"`
}

// StepByID returns the step with the given id, if present.
func (p *Pipeline) StepByID(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// LinksFrom returns the outbound links for a given source step.
func (p *Pipeline) LinksFrom(stepID string) []Link {
	var out []Link
	for _, l := range p.Links {
		if l.SourceStepID == stepID {
			out = append(out, l)
		}
	}
	return out
}

// EntrySteps returns steps with no inbound link, in declaration order
// (the data model's stand-in for "visual-y then insertion order").
// on_fail links are excluded from "inbound": they are remediation
// back-edges, and a step reached only by one (e.g. a Build step a
// Reviewer loops back to) is still the pipeline's natural starting
// point, per spec.md's Build/Reviewer remediation-loop scenarios.
func (p *Pipeline) EntrySteps() []Step {
	hasInbound := make(map[string]bool, len(p.Steps))
	for _, l := range p.Links {
		if l.Condition == ConditionOnFail {
			continue
		}
		hasInbound[l.TargetStepID] = true
	}
	var out []Step
	for _, s := range p.Steps {
		if !hasInbound[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// GatesFor returns the quality gates that target the given step.
func (p *Pipeline) GatesFor(stepID string) []QualityGate {
	var out []QualityGate
	for _, g := range p.Gates {
		if g.Targets(stepID) {
			out = append(out, g)
		}
	}
	return out
}
