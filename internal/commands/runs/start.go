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

package runs

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fyreflow/core/internal/commands/shared"
	"github.com/fyreflow/core/internal/model"
)

var (
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func newStartCommand() *cobra.Command {
	var task string
	var inputPairs []string
	var yes bool

	cmd := &cobra.Command{
		Use:   "start <pipeline-id>",
		Short: "Run a smart-run preflight check, collect missing inputs, and start a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineID := args[0]

			inputs, err := shared.ParseKeyValuePairs(inputPairs)
			if err != nil {
				return err
			}

			var plan model.SmartRunPlan
			if err := shared.Client().Get(cmd.Context(), "/pipelines/"+pipelineID+"/smart-run-plan", &plan); err != nil {
				return err
			}

			var blockers []model.PreflightCheck
			for _, c := range plan.Checks {
				if c.Status == model.CheckFail && !isInputCheck(c.ID) {
					blockers = append(blockers, c)
				}
			}
			if len(blockers) > 0 {
				fmt.Println(warnStyle.Render("Preflight found blocking issues:"))
				for _, b := range blockers {
					fmt.Printf("  - %s: %s\n", b.Title, b.Message)
				}
				if !yes && !isInteractive() {
					return fmt.Errorf("%d preflight check(s) failed; pass --yes to start anyway", len(blockers))
				}
				if !yes {
					var proceed bool
					confirm := huh.NewConfirm().
						Title("Start the run despite these blockers?").
						Value(&proceed)
					if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
						return err
					}
					if !proceed {
						return fmt.Errorf("aborted")
					}
				}
			}

			missing := missingFields(plan.Fields, inputs)
			if len(missing) > 0 {
				if !isInteractive() {
					return fmt.Errorf("missing required input(s): %s (pass --input key=value or run in a terminal)", missingKeys(missing))
				}
				collected, err := runInputForm(missing)
				if err != nil {
					return err
				}
				for k, v := range collected {
					inputs[k] = v
				}
			}

			var run model.Run
			body := map[string]any{"pipelineId": pipelineID, "task": task, "inputs": inputs}
			if err := shared.Client().Post(cmd.Context(), "/runs", body, &run); err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.PrintJSON(run)
			}
			fmt.Println(passStyle.Render(fmt.Sprintf("started run %s (%s)", run.ID, run.Status)))
			return nil
		},
	}

	cmd.Flags().StringVar(&task, "task", "", "free-form task description substituted into {{task}}")
	cmd.Flags().StringArrayVar(&inputPairs, "input", nil, "input value as key=value (repeatable)")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip confirmation prompts and run even with blocking preflight checks")
	return cmd
}

// runInputForm builds one huh.NewInput/NewText per missing field,
// switching widget and echo mode on its InputFieldType, grounded on
// the teacher's interactive API-key and provider-setup forms.
func runInputForm(fields []model.RunInputRequest) (map[string]string, error) {
	answers := make([]string, len(fields))
	groups := make([]*huh.Group, 0, len(fields))

	for i := range fields {
		f := fields[i]
		answers[i] = f.DefaultValue

		title := f.Label
		if title == "" {
			title = f.Key
		}
		desc := f.Description
		if f.Placeholder != "" {
			if desc != "" {
				desc += "\n"
			}
			desc += "e.g. " + f.Placeholder
		}

		switch f.Type {
		case model.InputMultiline:
			field := huh.NewText().
				Title(title).
				Description(desc).
				Value(&answers[i])
			if f.Required {
				field = field.Validate(requiredValidator(f.Key))
			}
			groups = append(groups, huh.NewGroup(field))
		case model.InputSecret:
			field := huh.NewInput().
				Title(title).
				Description(desc).
				EchoMode(huh.EchoModePassword).
				Value(&answers[i])
			if f.Required {
				field = field.Validate(requiredValidator(f.Key))
			}
			groups = append(groups, huh.NewGroup(field))
		default: // InputText, InputURL
			field := huh.NewInput().
				Title(title).
				Description(desc).
				Value(&answers[i])
			if f.Required {
				field = field.Validate(requiredValidator(f.Key))
			}
			groups = append(groups, huh.NewGroup(field))
		}
	}

	form := huh.NewForm(groups...)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, fmt.Errorf("input collection cancelled")
		}
		return nil, err
	}

	values := make(map[string]string, len(fields))
	for i, f := range fields {
		values[f.Key] = answers[i]
	}
	return values, nil
}

func requiredValidator(key string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", key)
		}
		return nil
	}
}

func missingFields(fields []model.RunInputRequest, have map[string]string) []model.RunInputRequest {
	var out []model.RunInputRequest
	for _, f := range fields {
		if v, ok := have[f.Key]; ok && v != "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func missingKeys(fields []model.RunInputRequest) string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += ", "
		}
		s += k
	}
	return s
}

func isInputCheck(id string) bool {
	return len(id) > 6 && id[:6] == "input:"
}

func isInteractive() bool {
	stat, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
