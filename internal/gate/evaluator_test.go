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

package gate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyreflow/core/internal/model"
)

func reviewStep() model.Step {
	return model.Step{ID: "c", Name: "Review", OutputFormat: model.OutputMarkdown}
}

func TestEvaluatePassesBlockingRegexGate(t *testing.T) {
	e := New()
	gates := []model.QualityGate{
		{ID: "g1", Name: "status", TargetStepID: "c", Kind: model.GateRegexMustMatch,
			Pattern: `WORKFLOW_STATUS\s*:\s*(PASS|FAIL|NEUTRAL)`, Blocking: true},
	}
	out, err := e.Evaluate(context.Background(), "run1", gates, reviewStep(),
		"## Review\nWORKFLOW_STATUS: **PASS**", nil, StoragePaths{})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	require.Equal(t, model.GateStatusPass, out.Results[0].Status)
	require.Equal(t, model.OutcomePass, out.Workflow)
}

func TestEvaluateFailsBlockingRegexGate(t *testing.T) {
	e := New()
	gates := []model.QualityGate{
		{ID: "g1", Name: "status", TargetStepID: "c", Kind: model.GateRegexMustMatch,
			Pattern: `WORKFLOW_STATUS\s*:\s*PASS`, Blocking: true},
	}
	out, err := e.Evaluate(context.Background(), "run1", gates, reviewStep(),
		"WORKFLOW_STATUS: FAIL", nil, StoragePaths{})
	require.NoError(t, err)
	require.Equal(t, model.GateStatusFail, out.Results[0].Status)
	require.Equal(t, model.OutcomeFail, out.Workflow)
}

func TestEvaluateJSONFieldExistsFromMarkdownFence(t *testing.T) {
	e := New()
	gates := []model.QualityGate{
		{ID: "g2", Name: "field", TargetStepID: "c", Kind: model.GateJSONFieldExists, JSONPath: "result.ok"},
	}
	output := "Findings below.\n```json\n{\"result\":{\"ok\":true}}\n```"
	out, err := e.Evaluate(context.Background(), "run1", gates, reviewStep(), output, nil, StoragePaths{})
	require.NoError(t, err)
	require.Equal(t, model.GateStatusPass, out.Results[0].Status)
}

func TestEvaluateJSONFieldExistsMissingFails(t *testing.T) {
	e := New()
	gates := []model.QualityGate{
		{ID: "g2", Name: "field", TargetStepID: "c", Kind: model.GateJSONFieldExists, JSONPath: "result.missing"},
	}
	output := "```json\n{\"result\":{\"ok\":true}}\n```"
	out, err := e.Evaluate(context.Background(), "run1", gates, reviewStep(), output, nil, StoragePaths{})
	require.NoError(t, err)
	require.Equal(t, model.GateStatusFail, out.Results[0].Status)
}

func TestEvaluateArtifactExistsFindsFileInSharedDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.md"), []byte("x"), 0o644))

	e := New()
	gates := []model.QualityGate{
		{ID: "g3", Name: "artifact", TargetStepID: "c", Kind: model.GateArtifactExists, ArtifactPath: "report.md"},
	}
	out, err := e.Evaluate(context.Background(), "run1", gates, reviewStep(), "", nil, StoragePaths{Shared: dir})
	require.NoError(t, err)
	require.Equal(t, model.GateStatusPass, out.Results[0].Status)
}

func TestEvaluateArtifactExistsSubstitutesInputPlaceholder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "design.fig"), []byte("x"), 0o644))

	e := New()
	gates := []model.QualityGate{
		{ID: "g3", Name: "artifact", TargetStepID: "c", Kind: model.GateArtifactExists, ArtifactPath: "{{input.filename}}"},
	}
	inputs := map[string]string{"filename": "design.fig"}
	out, err := e.Evaluate(context.Background(), "run1", gates, reviewStep(), "", inputs, StoragePaths{Shared: dir})
	require.NoError(t, err)
	require.Equal(t, model.GateStatusPass, out.Results[0].Status)
}

func TestEvaluateManualApprovalAlwaysWarnsAndEmitsRequest(t *testing.T) {
	e := New()
	gates := []model.QualityGate{
		{ID: "g4", Name: "sign-off", TargetStepID: "c", Kind: model.GateManualApproval, Blocking: true},
	}
	out, err := e.Evaluate(context.Background(), "run1", gates, reviewStep(), "anything", nil, StoragePaths{})
	require.NoError(t, err)
	require.Equal(t, model.GateStatusWarn, out.Results[0].Status)
	require.Len(t, out.Approvals, 1)
	require.Equal(t, "run1", out.Approvals[0].RunID)
	require.Equal(t, model.ApprovalPending, out.Approvals[0].Status)
}

func TestResolveApprovalRewritesGateResult(t *testing.T) {
	r := model.GateResult{GateID: "g4", Status: model.GateStatusWarn}
	approved := ResolveApproval(r, model.ApprovalApproved)
	require.Equal(t, model.GateStatusPass, approved.Status)

	rejected := ResolveApproval(r, model.ApprovalRejected)
	require.Equal(t, model.GateStatusFail, rejected.Status)
}

func TestAnyStepSentinelGateAppliesToEveryStep(t *testing.T) {
	e := New()
	gates := []model.QualityGate{
		{ID: "g5", Name: "global", TargetStepID: model.AnyStepSentinel, Kind: model.GateRegexMustMatch, Pattern: "ok"},
	}
	out, err := e.Evaluate(context.Background(), "run1", gates, model.Step{ID: "any-step-id"}, "ok", nil, StoragePaths{})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
}

func TestNormalizeStatusMarkersStripsDecorationAndAliasesComplete(t *testing.T) {
	require.Equal(t, "WORKFLOW_STATUS: PASS", NormalizeStatusMarkers("WORKFLOW_STATUS: **PASS**"))
	require.Equal(t, "WORKFLOW_STATUS: PASS", NormalizeStatusMarkers("WORKFLOW_STATUS: COMPLETE"))
	require.Equal(t, "HTML_REVIEW_STATUS: FAIL", NormalizeStatusMarkers("HTML_REVIEW_STATUS: **FAIL**"))
}

func TestNormalizeStatusMarkersPassthroughWhenLegacyDisabled(t *testing.T) {
	t.Setenv(LegacyRegexGatesEnv, "0")
	require.Equal(t, "WORKFLOW_STATUS: **PASS**", NormalizeStatusMarkers("WORKFLOW_STATUS: **PASS**"))
}

func TestDeriveWorkflowOutcomeNeutral(t *testing.T) {
	outcome := DeriveWorkflowOutcome("WORKFLOW_STATUS: NEUTRAL", nil)
	require.Equal(t, model.OutcomeNeutral, outcome)
}

func TestDeriveWorkflowOutcomeUnknownWithoutMarker(t *testing.T) {
	outcome := DeriveWorkflowOutcome("no marker here", nil)
	require.Equal(t, model.OutcomeUnknown, outcome)
}
