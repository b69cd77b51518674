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

// Package secrets implements `fyreflowd secrets {set,forget,list}`, the
// CLI surface over a pipeline's secure-input vault (C1).
package secrets

import (
	"bufio"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fyreflow/core/internal/commands/shared"
)

// NewCommand creates the secrets command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secure inputs for a pipeline",
		Long: `Manage secure inputs stored in a pipeline's encrypted vault.

A value can be supplied via --value, piped on stdin, or (the default)
read from a hidden interactive prompt:

  fyreflowd secrets set <pipeline-id> api_key
  echo "sk-..." | fyreflowd secrets set <pipeline-id> api_key
  fyreflowd secrets set <pipeline-id> api_key --value sk-...`,
	}

	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newForgetCommand())
	cmd.AddCommand(newListCommand())

	return cmd
}

func newSetCommand() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "set <pipeline-id> <key>",
		Short: "Store a secure input value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineID, key := args[0], args[1]

			resolved := value
			if resolved == "" {
				v, err := resolveValue(key)
				if err != nil {
					return err
				}
				resolved = v
			}
			if resolved == "" {
				return fmt.Errorf("secret value cannot be empty")
			}

			body := map[string]map[string]string{"values": {key: resolved}}
			if err := shared.Client().Put(cmd.Context(), "/pipelines/"+pipelineID+"/secure-inputs", body); err != nil {
				return err
			}
			fmt.Printf("stored secure input %q for pipeline %s\n", key, pipelineID)
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "secret value (omit to read from stdin or a hidden prompt)")
	return cmd
}

func newForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <pipeline-id> [key...]",
		Short: "Remove secure inputs (all of them, if no keys are given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineID := args[0]
			keys := args[1:]

			var body any
			if len(keys) > 0 {
				body = map[string][]string{"keys": keys}
			}
			if err := shared.Client().Delete(cmd.Context(), "/pipelines/"+pipelineID+"/secure-inputs", body); err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Printf("removed all secure inputs for pipeline %s\n", pipelineID)
			} else {
				fmt.Printf("removed %d secure input(s) for pipeline %s\n", len(keys), pipelineID)
			}
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <pipeline-id>",
		Short: "List the secure input keys stored for a pipeline (never values)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Keys []string `json:"keys"`
			}
			if err := shared.Client().Get(cmd.Context(), "/pipelines/"+args[0]+"/secure-inputs", &resp); err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.PrintJSON(resp.Keys)
			}
			if len(resp.Keys) == 0 {
				fmt.Println("no secure inputs stored")
				return nil
			}
			for _, k := range resp.Keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

// resolveValue reads a secret value from stdin if piped, otherwise
// prompts with hidden input on the terminal.
func resolveValue(key string) (string, error) {
	if stat, err := os.Stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			return scanner.Text(), nil
		}
		return "", scanner.Err()
	}

	fmt.Printf("Enter value for %s: ", key)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading hidden input: %w", err)
	}
	return string(raw), nil
}
