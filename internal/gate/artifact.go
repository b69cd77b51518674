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
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// StoragePaths is the scoped directory bundle an artifact_exists gate
// searches, in priority order: shared, then isolated, then the run's
// own working folder.
type StoragePaths struct {
	Shared   string
	Isolated string
	RunDir   string
}

func (p StoragePaths) ordered() []string {
	var out []string
	for _, dir := range []string{p.Shared, p.Isolated, p.RunDir} {
		if dir != "" {
			out = append(out, dir)
		}
	}
	return out
}

// substituteInputs replaces {{input.<key>}} placeholders in artifactPath
// with values from inputs.
func substituteInputs(artifactPath string, inputs map[string]string) string {
	result := artifactPath
	for key, value := range inputs {
		result = strings.ReplaceAll(result, "{{input."+key+"}}", value)
	}
	return result
}

// evaluateArtifactExists substitutes input placeholders into
// artifactPath and glob-matches it (doublestar syntax, so ** and
// character classes are honored) against each storage scope in order,
// stopping at the first match.
func evaluateArtifactExists(artifactPath string, inputs map[string]string, storage StoragePaths) (bool, string, error) {
	pattern := substituteInputs(artifactPath, inputs)

	for _, dir := range storage.ordered() {
		full := pattern
		if !filepath.IsAbs(pattern) {
			full = filepath.Join(dir, pattern)
		}
		matches, err := doublestar.FilepathGlob(full)
		if err != nil {
			return false, "", err
		}
		if len(matches) > 0 {
			return true, "", nil
		}
	}
	return false, "no artifact matched " + pattern, nil
}
