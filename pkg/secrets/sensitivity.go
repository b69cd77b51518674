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

package secrets

import "strings"

// SecureSentinel replaces a sensitive input's plaintext value anywhere it
// would otherwise surface to a caller (run records, logs, the editor).
const SecureSentinel = "[secure]"

// sensitiveSubstrings are the run-input key fragments that mark a value
// as secret. Unlike EnvMasker's suffix-only environment-variable heuristic,
// run-input keys are matched by substring since operators name keys
// freely (e.g. "github_token_primary", "oauth_client_secret").
var sensitiveSubstrings = []string{
	"token",
	"secret",
	"password",
	"api_key",
	"oauth",
}

// IsSensitiveInputKey reports whether a run-input key is known-sensitive
// by the case-insensitive substring heuristic.
func IsSensitiveInputKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskSensitiveInputs returns a copy of inputs with every sensitive-keyed
// value replaced by SecureSentinel. Non-sensitive values pass through
// unchanged.
func MaskSensitiveInputs(inputs map[string]string) map[string]string {
	out := make(map[string]string, len(inputs))
	for k, v := range inputs {
		if IsSensitiveInputKey(k) {
			out[k] = SecureSentinel
		} else {
			out[k] = v
		}
	}
	return out
}
