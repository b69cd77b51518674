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
	"os"
	"regexp"
	"strings"

	"github.com/fyreflow/core/internal/model"
)

// LegacyRegexGatesEnv gates status-marker normalization and alias
// behavior. Enabled by default; set to "0" to disable.
const LegacyRegexGatesEnv = "FYREFLOW_ENABLE_LEGACY_REGEX_GATES"

func legacyGatesEnabled() bool {
	v := os.Getenv(LegacyRegexGatesEnv)
	return v != "0"
}

var decoratedMarker = regexp.MustCompile(`(?i)([A-Z_]*STATUS)\s*:\s*\*{0,2}(PASS|FAIL|NEUTRAL|COMPLETE)\*{0,2}`)

// NormalizeStatusMarkers strips markdown decoration (`**PASS**`) around
// recognized status tokens and rewrites the COMPLETE alias to PASS.
// When legacy gates are disabled, the output passes through unchanged.
func NormalizeStatusMarkers(output string) string {
	if !legacyGatesEnabled() {
		return output
	}
	return decoratedMarker.ReplaceAllStringFunc(output, func(m string) string {
		parts := decoratedMarker.FindStringSubmatch(m)
		label := parts[1]
		status := strings.ToUpper(parts[2])
		if status == "COMPLETE" {
			status = "PASS"
		}
		return label + ": " + status
	})
}

var workflowStatusMarker = regexp.MustCompile(`(?i)WORKFLOW_STATUS\s*:\s*(PASS|FAIL|NEUTRAL)`)

// DeriveWorkflowOutcome infers a step's outcome from its normalized
// output and the gate results already computed for it.
func DeriveWorkflowOutcome(normalizedOutput string, results []model.GateResult) model.WorkflowOutcome {
	for _, r := range results {
		if r.Blocking && r.Status == model.GateStatusFail {
			return model.OutcomeFail
		}
	}

	m := workflowStatusMarker.FindStringSubmatch(normalizedOutput)
	if m == nil {
		return model.OutcomeUnknown
	}

	switch strings.ToUpper(m[1]) {
	case "PASS":
		return model.OutcomePass
	case "FAIL":
		return model.OutcomeFail
	case "NEUTRAL":
		return model.OutcomeNeutral
	default:
		return model.OutcomeUnknown
	}
}
