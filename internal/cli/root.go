// Copyright 2026 The Trackio Authors
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

// Package cli assembles the trackio root command.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/trackio/trackio/internal/commands/shared"
)

// SetVersion sets the build-time version information (called from main).
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for trackio.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trackio",
		Short: "trackio - local-first experiment tracking",
		Long: `trackio records experiment metrics, configuration and artifacts into
per-project embedded databases, serves them to a dashboard, and keeps a
durable local buffer for syncing to a hosted space.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	jsonFlag, dirFlag := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVar(jsonFlag, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(dirFlag, "dir", "", "Trackio data directory (default: $TRACKIO_DIR or ~/.cache/trackio)")

	return cmd
}

// HandleExitError handles command errors with proper exit codes.
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
