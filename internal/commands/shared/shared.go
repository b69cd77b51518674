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

// Package shared holds the global flag state and API client
// construction every fyreflowd CLI subcommand needs, grounded on the
// teacher's internal/commands/shared package.
package shared

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fyreflow/core/internal/apiclient"
)

// DefaultServerURL matches internal/config.Default's ServerConfig.Addr.
const DefaultServerURL = "http://localhost:8742"

const (
	envServerURL = "FYREFLOW_SERVER_URL"
	envAPIToken  = "FYREFLOW_API_TOKEN"
)

var (
	serverURL string
	apiToken  string
	jsonOut   bool
)

// RegisterFlagPointers returns the package-level flag variables for the
// root command to bind --server/--token/--json onto.
func RegisterFlagPointers() (server *string, token *string, jsonFlag *bool) {
	return &serverURL, &apiToken, &jsonOut
}

// GetJSON reports whether --json was passed.
func GetJSON() bool { return jsonOut }

// Client builds an apiclient.Client from the resolved --server/--token
// flags, falling back to FYREFLOW_SERVER_URL / FYREFLOW_API_TOKEN, then
// to DefaultServerURL.
func Client() *apiclient.Client {
	url := serverURL
	if url == "" {
		url = os.Getenv(envServerURL)
	}
	if url == "" {
		url = DefaultServerURL
	}

	token := apiToken
	if token == "" {
		token = os.Getenv(envAPIToken)
	}

	return apiclient.New(url, apiclient.WithToken(token))
}

// ParseKeyValuePairs parses "key=value" strings (as repeated from a
// --input flag) into a map. A bare "key" with no "=" is rejected.
func ParseKeyValuePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q: expected key=value", p)
		}
		out[key] = value
	}
	return out, nil
}

// PrintJSON encodes v as indented JSON to stdout.
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
