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

// Package pipelines implements `fyreflowd pipelines {list,create,delete}`.
package pipelines

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fyreflow/core/internal/commands/shared"
	"github.com/fyreflow/core/internal/model"
)

// NewCommand creates the pipelines command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "Manage pipeline definitions",
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			var state struct {
				Pipelines []model.Pipeline `json:"pipelines"`
			}
			if err := shared.Client().Get(cmd.Context(), "/state", &state); err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.PrintJSON(state.Pipelines)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTEPS\tSCHEDULE")
			for _, p := range state.Pipelines {
				schedule := "-"
				if p.Schedule != nil && p.Schedule.Enabled {
					schedule = p.Schedule.Cron
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.ID, p.Name, len(p.Steps), schedule)
			}
			return tw.Flush()
		},
	}
}

func newCreateCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pipeline from a YAML or JSON definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}

			var p model.Pipeline
			if err := yaml.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("parsing %s: %w", file, err)
			}

			var created model.Pipeline
			if err := shared.Client().Post(cmd.Context(), "/pipelines", &p, &created); err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.PrintJSON(created)
			}
			fmt.Printf("created pipeline %s (%s)\n", created.ID, created.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to a pipeline definition (YAML or JSON)")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := shared.Client().Delete(cmd.Context(), "/pipelines/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("deleted pipeline %s\n", args[0])
			return nil
		},
	}
}
