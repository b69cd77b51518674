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
	"encoding/json"
	"strings"

	"github.com/fyreflow/core/internal/jq"
	"github.com/fyreflow/core/internal/mdjson"
	"github.com/fyreflow/core/internal/model"
)

// toJQQuery converts a dot/bracket jsonPath ("a.b[0].c") into a jq
// query string (".a.b[0].c").
func toJQQuery(jsonPath string) string {
	p := strings.TrimSpace(jsonPath)
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return "."
	}
	return "." + p
}

// evaluateJSONFieldExists looks up jsonPath in output. If outputFormat
// is anything other than json, the first fenced JSON block is extracted
// and looked up instead; with no such block the gate fails.
func evaluateJSONFieldExists(ctx context.Context, executor *jq.Executor, outputFormat model.OutputFormat, jsonPath, output string) (bool, string, error) {
	raw := []byte(output)
	if outputFormat != model.OutputJSON {
		block, ok := mdjson.First(output)
		if !ok {
			return false, "no fenced JSON block found in markdown output", nil
		}
		raw = block
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return false, "output is not valid JSON: " + err.Error(), nil
	}

	result, err := executor.Execute(ctx, toJQQuery(jsonPath), data)
	if err != nil {
		return false, "", err
	}
	if result == nil {
		return false, "field " + jsonPath + " is absent or null", nil
	}
	return true, "", nil
}
