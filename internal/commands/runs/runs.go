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

// Package runs implements
// `fyreflowd runs {start,list,show,stop,pause,resume,approve,submit-inputs}`.
package runs

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyreflow/core/internal/cliprompt"
	"github.com/fyreflow/core/internal/commands/shared"
	"github.com/fyreflow/core/internal/model"
)

// NewCommand creates the runs command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and control pipeline runs",
	}

	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newLifecycleCommand("stop", "Cancel a running pipeline run"))
	cmd.AddCommand(newLifecycleCommand("pause", "Pause a running pipeline run"))
	cmd.AddCommand(newLifecycleCommand("resume", "Resume a paused pipeline run"))
	cmd.AddCommand(newApproveCommand())
	cmd.AddCommand(newSubmitInputsCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	var pipelineID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/runs"
			if pipelineID != "" {
				path += "?pipelineId=" + pipelineID
			}

			var runList []model.Run
			if err := shared.Client().Get(cmd.Context(), path, &runList); err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.PrintJSON(runList)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPIPELINE\tSTATUS\tTRIGGERED BY")
			for _, r := range runList {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.PipelineID, r.Status, r.TriggeredBy)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "filter by pipeline id")
	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the full state of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run model.Run
			if err := shared.Client().Get(cmd.Context(), "/runs/"+args[0], &run); err != nil {
				return err
			}
			return shared.PrintJSON(run)
		},
	}
}

func newLifecycleCommand(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run model.Run
			if err := shared.Client().Post(cmd.Context(), "/runs/"+args[0]+"/"+verb, nil, &run); err != nil {
				return err
			}
			fmt.Printf("run %s is now %s\n", run.ID, run.Status)
			return nil
		},
	}
}

func newApproveCommand() *cobra.Command {
	var reject bool
	var note string
	cmd := &cobra.Command{
		Use:   "approve <run-id> <approval-id>",
		Short: "Approve or reject a pending manual-approval gate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := "approved"
			if reject {
				decision = "rejected"
			}

			body := map[string]string{"decision": decision, "note": note}
			var run model.Run
			path := "/runs/" + args[0] + "/approvals/" + args[1]
			if err := shared.Client().Post(cmd.Context(), path, body, &run); err != nil {
				return err
			}
			fmt.Printf("run %s: approval %s recorded as %s\n", args[0], args[1], decision)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&note, "note", "", "optional note to attach to the decision")
	return cmd
}

// newSubmitInputsCommand interactively collects values for a paused
// run's pending runtime input requests (C7) and submits them, or
// accepts --input key=value pairs for non-interactive use.
func newSubmitInputsCommand() *cobra.Command {
	var inputPairs []string
	cmd := &cobra.Command{
		Use:   "submit-inputs <run-id>",
		Short: "Answer a paused run's pending input requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			given, err := shared.ParseKeyValuePairs(inputPairs)
			if err != nil {
				return err
			}

			var run model.Run
			if err := shared.Client().Get(cmd.Context(), "/runs/"+runID, &run); err != nil {
				return err
			}
			if len(run.InputReqs) == 0 {
				fmt.Println("no pending input requests for this run")
				return nil
			}

			var pending []model.RunInputRequest
			for _, req := range run.InputReqs {
				if _, ok := given[req.Key]; ok {
					continue
				}
				pending = append(pending, req)
			}

			if len(pending) > 0 {
				collected, err := cliprompt.Collect(cmd.Context(), pending)
				if err != nil {
					return err
				}
				for k, v := range collected {
					given[k] = v
				}
			}

			var updated model.Run
			if err := shared.Client().Post(cmd.Context(), "/runs/"+runID+"/inputs", map[string]any{"values": given}, &updated); err != nil {
				return err
			}
			fmt.Printf("submitted %d input(s) to run %s; status is now %s\n", len(given), runID, updated.Status)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&inputPairs, "input", nil, "input value as key=value (repeatable)")
	return cmd
}
