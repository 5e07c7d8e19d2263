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

// Package list implements the enumeration commands.
package list

import (
	"encoding/json"
	"sort"

	"github.com/spf13/cobra"

	"github.com/trackio/trackio/internal/commands/shared"
	"github.com/trackio/trackio/internal/store"
)

// NewListCommand creates the list command and its subcommands.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, runs, metrics, alerts or reports",
	}

	cmd.AddCommand(newProjectsCommand())
	cmd.AddCommand(newRunsCommand())
	cmd.AddCommand(newMetricsCommand(false))
	cmd.AddCommand(newMetricsCommand(true))
	cmd.AddCommand(newAlertsCommand())
	cmd.AddCommand(newReportsCommand())

	return cmd
}

func newProjectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List all projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			projects, err := st.Projects()
			if err != nil {
				return err
			}
			return printStrings(cmd, projects)
		},
	}
}

func newRunsCommand() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.GetRuns(cmd.Context(), project)
			if err != nil {
				return err
			}
			return printStrings(cmd, runs)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.MarkFlagRequired("project")
	return cmd
}

// newMetricsCommand lists the distinct metric keys of a run, for either
// the metrics or the system-metrics table.
func newMetricsCommand(system bool) *cobra.Command {
	var project, run string

	use, short := "metrics", "List the metric keys of a run"
	if system {
		use, short = "system-metrics", "List the system metric keys of a run"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var logs []map[string]any
			if system {
				logs, err = st.GetSystemLogs(cmd.Context(), project, run)
			} else {
				logs, err = st.GetLogs(cmd.Context(), project, run)
			}
			if err != nil {
				return err
			}

			keys := make(map[string]bool)
			for _, row := range logs {
				for k := range row {
					if k == "step" || k == "timestamp" {
						continue
					}
					keys[k] = true
				}
			}
			names := make([]string, 0, len(keys))
			for k := range keys {
				names = append(names, k)
			}
			sort.Strings(names)
			return printStrings(cmd, names)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&run, "run", "", "Run name")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("run")
	return cmd
}

func newAlertsCommand() *cobra.Command {
	var project, run string

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List the alerts of a project or run",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			alerts, err := st.GetAlerts(cmd.Context(), project, run)
			if err != nil {
				return err
			}
			return printAlerts(cmd, alerts)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&run, "run", "", "Run name (empty for the whole project)")
	cmd.MarkFlagRequired("project")
	return cmd
}

func newReportsCommand() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List the reports of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			reports, err := st.ListReports(cmd.Context(), project)
			if err != nil {
				return err
			}
			return printStrings(cmd, reports)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.MarkFlagRequired("project")
	return cmd
}

func printStrings(cmd *cobra.Command, values []string) error {
	if shared.GetJSON() {
		data, err := json.MarshalIndent(values, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	for _, v := range values {
		cmd.Println(v)
	}
	return nil
}

func printAlerts(cmd *cobra.Command, alerts []store.Alert) error {
	if shared.GetJSON() {
		type alertView struct {
			Run       string `json:"run"`
			Level     string `json:"level"`
			Title     string `json:"title"`
			Text      string `json:"text,omitempty"`
			Step      *int   `json:"step,omitempty"`
			Timestamp string `json:"timestamp"`
		}
		views := make([]alertView, len(alerts))
		for i, a := range alerts {
			views[i] = alertView{a.Run, a.Level, a.Title, a.Text, a.Step, a.Timestamp}
		}
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	for _, a := range alerts {
		cmd.Printf("%s  [%s] %s  (%s)\n", a.Timestamp, a.Level, a.Title, a.Run)
		if a.Text != "" {
			cmd.Printf("    %s\n", a.Text)
		}
	}
	return nil
}
