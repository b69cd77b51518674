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
	"regexp"
	"sort"
	"strings"
)

// inputToken matches {{input.<key>}} placeholders, the same literal
// grammar internal/preflight scans for when deriving a SmartRunPlan.
var inputToken = regexp.MustCompile(`\{\{\s*input\.([A-Za-z0-9_.\-]+)\s*\}\}`)

// resolveContext substitutes every placeholder spec.md §3 documents on
// a Step's context template: {{task}}, {{previous_output}},
// {{incoming_outputs}}, {{all_outputs}}, {{input.<key>}}, {{run_inputs}}.
// inputs must already be resolved to plaintext (secrets included); the
// caller is responsible for never logging the result.
func resolveContext(tmpl, task, previousOutput string, incoming, all []outputRecord, inputs map[string]string) string {
	out := tmpl
	out = strings.ReplaceAll(out, "{{task}}", task)
	out = strings.ReplaceAll(out, "{{previous_output}}", previousOutput)
	out = strings.ReplaceAll(out, "{{incoming_outputs}}", formatOutputs(incoming))
	out = strings.ReplaceAll(out, "{{all_outputs}}", formatOutputs(all))
	out = strings.ReplaceAll(out, "{{run_inputs}}", formatInputs(inputs))
	out = inputToken.ReplaceAllStringFunc(out, func(m string) string {
		key := inputToken.FindStringSubmatch(m)[1]
		return inputs[key]
	})
	return out
}

// formatOutputs renders a sequence of prior step outputs as "###
// <name>\n<output>" sections, in the order supplied.
func formatOutputs(records []outputRecord) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("### ")
		b.WriteString(rec.StepName)
		b.WriteString("\n")
		b.WriteString(rec.Output)
	}
	return b.String()
}

// formatInputs renders the run-inputs map as sorted "key: value" lines
// so {{run_inputs}} substitution is deterministic.
func formatInputs(inputs map[string]string) string {
	if len(inputs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(inputs[k])
	}
	return b.String()
}

// lastOutput returns the most recently executed step's output, the
// {{previous_output}} value, or "" if this is an entry step.
func lastOutput(executed []outputRecord) string {
	if len(executed) == 0 {
		return ""
	}
	return executed[len(executed)-1].Output
}

// incomingOutputs filters executed down to the outputs produced by the
// step ids in sourceIDs, preserving execution order.
func incomingOutputs(executed []outputRecord, sourceIDs map[string]bool) []outputRecord {
	var out []outputRecord
	for _, rec := range executed {
		if sourceIDs[rec.StepID] {
			out = append(out, rec)
		}
	}
	return out
}
