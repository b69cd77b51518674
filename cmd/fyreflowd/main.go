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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyreflow/core/internal/cli"
	"github.com/fyreflow/core/internal/commands/pipelines"
	"github.com/fyreflow/core/internal/commands/runs"
	"github.com/fyreflow/core/internal/commands/secrets"
	"github.com/fyreflow/core/internal/commands/serve"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.Version, cli.Commit, cli.BuildDate = version, commit, buildDate

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(serve.NewCommand())
	rootCmd.AddCommand(pipelines.NewCommand())
	rootCmd.AddCommand(runs.NewCommand())
	rootCmd.AddCommand(secrets.NewCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print fyreflowd version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("fyreflowd %s (commit: %s, built: %s)\n", cli.Version, cli.Commit, cli.BuildDate)
			return nil
		},
	}
}
