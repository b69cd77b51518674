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

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	pkgerrors "github.com/fyreflow/core/pkg/errors"
)

// ClaudeCode shells out to the Claude Code CLI binary when one is
// configured or discoverable on PATH. It never errors on a missing
// binary: a missing or unauthenticated CLI produces the simulated
// sentinel instead, matching the auth-failure signal callers expect.
type ClaudeCode struct {
	// LookPath resolves a command to an executable path. Overridable
	// in tests; defaults to exec.LookPath.
	LookPath func(string) (string, error)
	// Run executes the named command with args and returns combined
	// stdout. Overridable in tests; defaults to running exec.Cmd.
	Run func(ctx context.Context, path string, args []string) (stdout []byte, err error)
}

// NewClaudeCode builds a ClaudeCode executor wired to the real OS.
func NewClaudeCode() *ClaudeCode {
	return &ClaudeCode{
		LookPath: exec.LookPath,
		Run:      runCommand,
	}
}

func runCommand(ctx context.Context, path string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("claude CLI failed: %w (stderr: %s)", err, sanitizeProviderError(stderr.String()))
	}
	return stdout.Bytes(), nil
}

type cliResponse struct {
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *ClaudeCode) resolve(override string) (string, bool) {
	if override != "" {
		return override, true
	}
	for _, candidate := range []string{"claude", "claude-code"} {
		if path, err := c.LookPath(candidate); err == nil {
			return path, true
		}
	}
	return "", false
}

// Execute runs req against the CLI. If the binary cannot be found it
// returns the simulated sentinel rather than an error: an
// unauthenticated/unconfigured provider is a normal, expected outcome
// that the run state machine routes through its provider_unauthenticated
// handling, not a hard failure of the executor itself.
func (c *ClaudeCode) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	path, found := c.resolve(req.Config.CLIPath)
	if !found {
		return SimulatedPrefix + "claude CLI not found on PATH]", nil
	}

	args := []string{"--output-format", "json"}
	if req.Config.Model != "" {
		args = append(args, "--model", req.Config.Model)
	}
	args = append(args, "-p", buildPrompt(req))

	out, err := c.Run(ctx, path, args)
	if err != nil {
		if ctx.Err() != nil {
			return "", &pkgerrors.TimeoutError{Operation: "claudecode execution", Cause: ctx.Err()}
		}
		return "", &pkgerrors.ProviderError{Provider: "claudecode", Message: sanitizeProviderError(err.Error()), Cause: err}
	}

	var resp cliResponse
	if jsonErr := json.Unmarshal(out, &resp); jsonErr != nil {
		text := strings.TrimSpace(string(out))
		if text == "" {
			return SimulatedPrefix + "claude CLI returned no output]", nil
		}
		return text, nil
	}
	if resp.IsError {
		return SimulatedPrefix + "claude CLI reported an error: " + sanitizeProviderError(resp.Result) + "]", nil
	}
	return resp.Result, nil
}

func buildPrompt(req ExecuteRequest) string {
	var b strings.Builder
	if req.Task != "" {
		b.WriteString("Task: ")
		b.WriteString(req.Task)
		b.WriteString("\n\n")
	}
	b.WriteString(req.Context)
	if req.OutputMode == OutputModeJSON {
		b.WriteString("\n\nRespond with a single fenced JSON code block.")
	}
	return b.String()
}
