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

// Package sync implements the durable-buffer reconcile command.
package sync

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trackio/trackio/internal/commands/shared"
	"github.com/trackio/trackio/internal/remote"
	"github.com/trackio/trackio/internal/syncer"
	trkerrors "github.com/trackio/trackio/pkg/errors"
)

type syncOptions struct {
	project string
	all     bool
	spaceID string
	private bool
	force   bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand() *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay the durable buffer to the remote space",
		Long: `Resubmit locally buffered rows and pending media uploads to the remote
space. Rows are replayed per run in ascending step order; the remote
deduplicates on log ID, so re-running sync is always safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.project, "project", "", "Sync a single project")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Sync every project")
	cmd.Flags().StringVar(&opts.spaceID, "space-id", "", "Override the target space")
	cmd.Flags().BoolVar(&opts.private, "private", false, "Create the target space as private")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Replay rows even when marked for a different space")

	return cmd
}

func runSync(cmd *cobra.Command, opts *syncOptions) error {
	if opts.project != "" && opts.all {
		return shared.NewUsageError("--project and --all are mutually exclusive")
	}
	if opts.project == "" && !opts.all {
		return shared.NewUsageError("one of --project or --all is required")
	}

	st, cfg, err := shared.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	spaceID := opts.spaceID
	if spaceID == "" {
		spaceID = cfg.SpaceID
	}
	if spaceID == "" {
		return &shared.ExitError{
			Code:    shared.ExitFailure,
			Message: "no remote space configured",
			Cause:   trkerrors.ErrNoRemote,
		}
	}

	client, err := remote.NewClient(spaceURL(spaceID),
		remote.WithSpaceID(spaceID), remote.WithToken(cfg.Token))
	if err != nil {
		return err
	}

	s := syncer.New(st, client, nil, syncer.WithUploader(client))

	ctx := cmd.Context()
	var results []syncer.Result
	if opts.all {
		results, err = s.ReconcileAll(ctx)
	} else {
		var res syncer.Result
		res, err = s.Reconcile(ctx, opts.project)
		results = []syncer.Result{res}
	}
	if err != nil {
		return err
	}

	return printResults(cmd, results)
}

func printResults(cmd *cobra.Command, results []syncer.Result) error {
	if shared.GetJSON() {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	failed := false
	for _, r := range results {
		cmd.Printf("%-24s replayed=%d uploaded=%d remaining=%d",
			r.Project, r.Replayed, r.Uploaded, r.Remaining)
		if r.Permanent > 0 {
			cmd.Printf(" permanent-failures=%d", r.Permanent)
			failed = true
		}
		cmd.Println()
	}
	if failed {
		return &shared.ExitError{
			Code:    shared.ExitFailure,
			Message: "some rows were rejected permanently; inspect with trackio status",
		}
	}
	return nil
}

// spaceURL maps a space ID to its serving URL, mirroring the client
// library's resolution.
func spaceURL(spaceID string) string {
	if strings.HasPrefix(spaceID, "http://") || strings.HasPrefix(spaceID, "https://") {
		return strings.TrimSuffix(spaceID, "/")
	}
	host := strings.ReplaceAll(spaceID, "/", "-")
	host = strings.ReplaceAll(host, "_", "-")
	return "https://" + strings.ToLower(host) + ".hf.space"
}
