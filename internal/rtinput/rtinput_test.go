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

package rtinput

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyreflow/core/internal/model"
)

const sampleOutput = `I've started the analysis but need more from you.

## input-request
` + "```json" + `
{
  "summary": "Need the Figma link and an API key",
  "fields": [
    {"key": "figma_link", "label": "Figma link", "type": "url", "required": true},
    {"key": "api_key", "label": "API key", "type": "secret", "required": true}
  ],
  "blockers": ["missing design reference"]
}
` + "```" + `

Thanks!`

func TestDetectFindsRequestTolerantOfSurroundingProse(t *testing.T) {
	req, ok := Detect("run1", "analysis", 1, sampleOutput)
	require.True(t, ok)
	require.Equal(t, "Need the Figma link and an API key", req.Summary)
	require.Len(t, req.Fields, 2)
	require.Equal(t, []string{"missing design reference"}, req.Blockers)
	require.NotEmpty(t, req.Signature)
}

func TestDetectReturnsFalseWhenNoRequestPresent(t *testing.T) {
	_, ok := Detect("run1", "analysis", 1, "Nothing to see here.")
	require.False(t, ok)
}

func TestSignatureStableAcrossFieldOrder(t *testing.T) {
	req1, _ := Detect("run1", "analysis", 1, sampleOutput)
	reordered := `## input-request
` + "```json" + `
{"summary":"x","fields":[{"key":"api_key","label":"k","type":"secret","required":true},{"key":"figma_link","label":"l","type":"url","required":true}]}
` + "```"
	req2, ok := Detect("run1", "analysis", 1, reordered)
	require.True(t, ok)
	require.Equal(t, req1.Signature, req2.Signature)
}

func TestBrokerDedupesIdenticalSignature(t *testing.T) {
	b := NewBroker()
	req, _ := Detect("run1", "analysis", 1, sampleOutput)
	require.False(t, b.Seen(req.Signature))
	require.True(t, b.Seen(req.Signature))
}

func TestApplyResolutionSplitsSecretAndPlainValues(t *testing.T) {
	req, _ := Detect("run1", "analysis", 1, sampleOutput)
	res := Resolution{Values: map[string]string{
		"figma_link": "https://figma.com/x",
		"api_key":    "sk-test-123",
	}}
	secretValues, plainValues := ApplyResolution(req, res)
	require.Equal(t, "sk-test-123", secretValues["api_key"])
	require.Equal(t, "https://figma.com/x", plainValues["figma_link"])
	require.NotContains(t, plainValues, "api_key")
}

func TestDetectDefaultsUnknownTypeToText(t *testing.T) {
	output := `## input-request
` + "```json" + `
{"summary":"x","fields":[{"key":"k","label":"l","type":"weird","required":false}]}
` + "```"
	req, ok := Detect("run1", "s", 1, output)
	require.True(t, ok)
	require.Equal(t, model.InputText, req.Fields[0].Type)
}
