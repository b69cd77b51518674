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

// Package gate evaluates a pipeline's quality gates against a step's
// output and derives the step's workflow outcome. It never mutates
// run or pipeline state directly; callers apply its results.
package gate

import (
	"context"
	"time"

	"github.com/fyreflow/core/internal/jq"
	"github.com/fyreflow/core/internal/model"
)

// Evaluator applies the configured gate kinds to step output. It
// caches compiled regexes across calls, so a single Evaluator should
// be shared across a process's runs rather than built per-step.
type Evaluator struct {
	regexes *regexCache
	jq      *jq.Executor
	now     func() time.Time
}

// New builds an Evaluator. now defaults to time.Now; overridable for
// deterministic tests.
func New() *Evaluator {
	return &Evaluator{
		regexes: newRegexCache(),
		jq:      jq.NewExecutor(0, 0),
		now:     time.Now,
	}
}

// Outcome is the full result of evaluating every gate targeting a step:
// the per-gate results, the derived workflow outcome, and any
// ApprovalRequests a manual_approval gate emitted.
type Outcome struct {
	Results   []model.GateResult
	Workflow  model.WorkflowOutcome
	Approvals []model.ApprovalRequest
}

// Evaluate runs every gate in gates that targets step against output,
// returning the combined Outcome. inputs backs artifact_exists
// placeholder substitution; storage backs its path search order.
func (e *Evaluator) Evaluate(ctx context.Context, runID string, gates []model.QualityGate, step model.Step, output string, inputs map[string]string, storage StoragePaths) (Outcome, error) {
	normalized := NormalizeStatusMarkers(output)

	var out Outcome
	for _, g := range gates {
		if !g.Targets(step.ID) {
			continue
		}

		result := model.GateResult{GateID: g.ID, GateName: g.Name, Blocking: g.Blocking}

		switch g.Kind {
		case model.GateRegexMustMatch, model.GateRegexMustNotMatch:
			pass, msg, err := evaluateRegexMatch(e.regexes, g.Pattern, g.Flags, normalized, g.Kind == model.GateRegexMustMatch)
			if err != nil {
				return Outcome{}, err
			}
			result.Status, result.Message = statusFor(pass, msg, g.Message)

		case model.GateJSONFieldExists:
			pass, msg, err := evaluateJSONFieldExists(ctx, e.jq, step.OutputFormat, g.JSONPath, output)
			if err != nil {
				return Outcome{}, err
			}
			result.Status, result.Message = statusFor(pass, msg, g.Message)

		case model.GateArtifactExists:
			pass, msg, err := evaluateArtifactExists(g.ArtifactPath, inputs, storage)
			if err != nil {
				return Outcome{}, err
			}
			result.Status, result.Message = statusFor(pass, msg, g.Message)

		case model.GateManualApproval:
			result.Status = model.GateStatusWarn
			result.Message = "awaiting manual approval"
			approval := newApprovalRequest(runID, g, step, e.now())
			out.Approvals = append(out.Approvals, approval)

		default:
			result.Status = model.GateStatusWarn
			result.Message = "unrecognized gate kind: " + string(g.Kind)
		}

		out.Results = append(out.Results, result)
	}

	out.Workflow = DeriveWorkflowOutcome(normalized, out.Results)
	return out, nil
}

func statusFor(pass bool, failureMsg, configuredMsg string) (model.GateResultStatus, string) {
	if pass {
		if configuredMsg != "" {
			return model.GateStatusPass, configuredMsg
		}
		return model.GateStatusPass, "gate passed"
	}
	if configuredMsg != "" {
		return model.GateStatusFail, configuredMsg
	}
	return model.GateStatusFail, failureMsg
}
