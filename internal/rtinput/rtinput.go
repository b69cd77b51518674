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

// Package rtinput detects runtime "I need more inputs" requests a step
// emits mid-run, pauses the run, and applies the operator's resolved
// values back onto it. Detection reuses internal/mdjson, the same
// fenced-JSON parser the gate evaluator's json_field_exists path uses.
package rtinput

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/fyreflow/core/internal/mdjson"
	"github.com/fyreflow/core/internal/model"
)

// rawField mirrors the field shape a step's input-request block
// declares: {key, label, type, required, description?, defaultValue?}.
type rawField struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	Type         string `json:"type"`
	Required     bool   `json:"required"`
	Description  string `json:"description,omitempty"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

type rawRequest struct {
	Summary  string     `json:"summary"`
	Fields   []rawField `json:"fields"`
	Blockers []string   `json:"blockers,omitempty"`
}

// Request is a detected runtime input request, ready to render as a
// modal and to deduplicate against prior requests for the same step
// attempt.
type Request struct {
	Summary   string
	Fields    []model.RunInputRequest
	Blockers  []string
	Signature string
}

// Detect looks for an input-request block in output (a fenced JSON
// section near an "input-request" heading). It returns ok=false when
// no request is present, tolerating arbitrary surrounding prose.
func Detect(runID, stepID string, attempt int, output string) (Request, bool) {
	block, ok := mdjson.FindSectionNear(output, "input-request")
	if !ok {
		return Request{}, false
	}

	var raw rawRequest
	if err := json.Unmarshal(block, &raw); err != nil || len(raw.Fields) == 0 {
		return Request{}, false
	}

	fields := make([]model.RunInputRequest, 0, len(raw.Fields))
	keys := make([]string, 0, len(raw.Fields))
	for _, f := range raw.Fields {
		fieldType := model.InputFieldType(f.Type)
		switch fieldType {
		case model.InputText, model.InputMultiline, model.InputURL, model.InputSecret:
		default:
			fieldType = model.InputText
		}
		fields = append(fields, model.RunInputRequest{
			Key:          f.Key,
			Label:        f.Label,
			Type:         fieldType,
			Required:     f.Required,
			Description:  f.Description,
			DefaultValue: f.DefaultValue,
		})
		keys = append(keys, f.Key)
	}

	return Request{
		Summary:   raw.Summary,
		Fields:    fields,
		Blockers:  raw.Blockers,
		Signature: signature(runID, stepID, attempt, keys),
	}, true
}

// signature builds the dedup key runId+stepId+attempt+sorted(keys), so
// an identical request re-emitted across a step's own retries does not
// re-prompt the operator.
func signature(runID, stepID string, attempt int, keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(runID))
	h.Write([]byte{0})
	h.Write([]byte(stepID))
	h.Write([]byte{0})
	h.Write([]byte{byte(attempt)})
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// Broker tracks which request signatures have already been surfaced
// for a run, so a step that re-emits the same request across its own
// internal retries is not re-prompted.
type Broker struct {
	seen map[string]bool
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{seen: make(map[string]bool)}
}

// Seen reports whether sig has already been surfaced, and records it
// as seen if not.
func (b *Broker) Seen(sig string) bool {
	if b.seen[sig] {
		return true
	}
	b.seen[sig] = true
	return false
}

// Resolution is the operator's answer to a Request: resolved values
// keyed by field key, verbatim (secrets are plaintext here; the caller
// is responsible for routing secret-typed keys to the vault and
// masking them before they land in Run.Inputs).
type Resolution struct {
	Values map[string]string
}

// ApplyResolution splits res into secret-typed values (to be persisted
// to the vault by the caller) and non-secret values (merged directly
// into run inputs), based on which fields of req were marked secret.
func ApplyResolution(req Request, res Resolution) (secretValues, plainValues map[string]string) {
	secretKeys := make(map[string]bool)
	for _, f := range req.Fields {
		if f.Type == model.InputSecret {
			secretKeys[f.Key] = true
		}
	}

	secretValues = make(map[string]string)
	plainValues = make(map[string]string)
	for k, v := range res.Values {
		if secretKeys[k] {
			secretValues[k] = v
		} else {
			plainValues[k] = v
		}
	}
	return secretValues, plainValues
}
