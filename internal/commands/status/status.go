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

// Package status implements the per-project sync state report.
package status

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/trackio/trackio/internal/commands/shared"
)

type projectStatus struct {
	Project  string `json:"project"`
	Local    int    `json:"local"`
	Synced   int    `json:"synced"`
	Unsynced int    `json:"unsynced"`
	Pending  int    `json:"pending_uploads"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-project sync state",
		Long: `Report, for every project, how many rows exist locally, how many have
been acknowledged by the remote space, and how many wait in the durable
buffer for the next sync.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, _, err := shared.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	projects, err := st.Projects()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var statuses []projectStatus
	for _, project := range projects {
		total, err := st.CountRows(ctx, project)
		if err != nil {
			return err
		}
		unsynced, err := st.CountUnsynced(ctx, project)
		if err != nil {
			return err
		}
		uploads, err := st.ListPendingUploads(ctx, project)
		if err != nil {
			return err
		}
		statuses = append(statuses, projectStatus{
			Project:  project,
			Local:    total,
			Synced:   total - unsynced,
			Unsynced: unsynced,
			Pending:  len(uploads),
		})
	}

	if shared.GetJSON() {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	if len(statuses) == 0 {
		cmd.Println("no projects")
		return nil
	}
	for _, s := range statuses {
		cmd.Printf("%-24s local=%d synced=%d unsynced=%d", s.Project, s.Local, s.Synced, s.Unsynced)
		if s.Pending > 0 {
			cmd.Printf(" pending-uploads=%d", s.Pending)
		}
		cmd.Println()
	}
	return nil
}
