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

// Package cli builds the fyreflowd root Cobra command and the shared
// flags (--server, --token, --json) every subcommand reads through
// shared.Client.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/fyreflow/core/internal/commands/shared"
)

// Version information, injected via ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// NewRootCommand builds the fyreflowd root command with its global flags.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fyreflowd",
		Short:         "fyreflowd runs and controls multi-agent workflow pipelines",
		Long:          `fyreflowd is the run-execution core for multi-agent workflow pipelines: a daemon (serve) plus a CLI for managing pipelines, runs, and secure inputs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server, token, jsonOut := shared.RegisterFlagPointers()
	cmd.PersistentFlags().StringVar(server, "server", shared.DefaultServerURL, "fyreflowd API base URL")
	cmd.PersistentFlags().StringVar(token, "token", "", "bearer token for API auth")
	cmd.PersistentFlags().BoolVar(jsonOut, "json", false, "output machine-readable JSON")

	return cmd
}

// HandleExitError prints err to stderr and exits 1, mirroring the
// teacher's SilenceErrors+manual-print convention.
func HandleExitError(err error) {
	cobra.CheckErr(err)
}
