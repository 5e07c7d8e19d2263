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

// Package get implements point lookups against logged data.
package get

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackio/trackio/internal/codec"
	"github.com/trackio/trackio/internal/commands/shared"
	"github.com/trackio/trackio/internal/snapshot"
)

// NewGetCommand creates the get command and its subcommands.
func NewGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch logged values, reports and snapshots",
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newMetricCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newReportCommand())
	cmd.AddCommand(newSnapshotCommand())

	return cmd
}

func newRunCommand() *cobra.Command {
	var project, run string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Print every logged row of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			logs, err := st.GetLogs(cmd.Context(), project, run)
			if err != nil {
				return err
			}
			return printRows(cmd, logs)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&run, "run", "", "Run name")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("run")
	return cmd
}

func newMetricCommand() *cobra.Command {
	var (
		project, run, metric string
		step, around         int
		atTime               string
		window               time.Duration
		system               bool
	)

	cmd := &cobra.Command{
		Use:   "metric",
		Short: "Print a metric series or a single point",
		Long: `Print the series of one metric across a run. --step selects the exact
step, --around the nearest logged step, --at-time with --window the rows
inside a time interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, on := range []bool{cmd.Flags().Changed("step"), cmd.Flags().Changed("around"), atTime != ""} {
				if on {
					set++
				}
			}
			if set > 1 {
				return shared.NewUsageError("--step, --around and --at-time are mutually exclusive")
			}

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

			points := extractSeries(logs, metric)
			switch {
			case cmd.Flags().Changed("step"):
				points = filterExactStep(points, step)
			case cmd.Flags().Changed("around"):
				points = filterNearestStep(points, around)
			case atTime != "":
				at, err := time.Parse(time.RFC3339, atTime)
				if err != nil {
					return fmt.Errorf("invalid --at-time: %w", err)
				}
				if window <= 0 {
					window = time.Minute
				}
				points = filterTimeWindow(points, at, window)
			}
			return printRows(cmd, points)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&run, "run", "", "Run name")
	cmd.Flags().StringVar(&metric, "metric", "", "Metric key")
	cmd.Flags().IntVar(&step, "step", 0, "Exact step to fetch")
	cmd.Flags().IntVar(&around, "around", 0, "Nearest logged step to fetch")
	cmd.Flags().StringVar(&atTime, "at-time", "", "RFC3339 instant to fetch around")
	cmd.Flags().DurationVar(&window, "window", time.Minute, "Interval around --at-time")
	cmd.Flags().BoolVar(&system, "system", false, "Read the system metrics table")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("run")
	cmd.MarkFlagRequired("metric")
	return cmd
}

func newConfigCommand() *cobra.Command {
	var project, run string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the recorded config of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			cfg, ok, err := st.GetConfig(cmd.Context(), project, run)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no config recorded for %s/%s", project, run)
			}
			return printRows(cmd, []map[string]any{cfg})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&run, "run", "", "Run name")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("run")
	return cmd
}

func newReportCommand() *cobra.Command {
	var project, name string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a project report",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			content, ok, err := st.GetReport(cmd.Context(), project, name)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no report %q in project %s", name, project)
			}

			if shared.GetJSON() {
				data, err := json.MarshalIndent(map[string]string{
					"report": name, "content": content,
				}, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Println(content)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&name, "name", "", "Report name")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("name")
	return cmd
}

// newSnapshotCommand triggers an on-demand parquet export.
func newSnapshotCommand() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export a project to parquet now",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			exp := snapshot.NewExporter(st, cfg.Dir, nil)
			written, err := exp.ExportProject(cmd.Context(), project)
			if err != nil {
				return err
			}
			for _, path := range written {
				cmd.Println(path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.MarkFlagRequired("project")
	return cmd
}

func extractSeries(logs []map[string]any, metric string) []map[string]any {
	var out []map[string]any
	for _, row := range logs {
		v, ok := row[metric]
		if !ok {
			continue
		}
		p := map[string]any{"value": v}
		if s, ok := row["step"]; ok {
			p["step"] = s
		}
		if ts, ok := row["timestamp"]; ok {
			p["timestamp"] = ts
		}
		out = append(out, p)
	}
	return out
}

func filterExactStep(points []map[string]any, step int) []map[string]any {
	var out []map[string]any
	for _, p := range points {
		if s, ok := p["step"].(int); ok && s == step {
			out = append(out, p)
		}
	}
	return out
}

func filterNearestStep(points []map[string]any, target int) []map[string]any {
	var best map[string]any
	bestDist := -1
	for _, p := range points {
		s, ok := p["step"].(int)
		if !ok {
			continue
		}
		dist := s - target
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = p, dist
		}
	}
	if best == nil {
		return nil
	}
	return []map[string]any{best}
}

func filterTimeWindow(points []map[string]any, at time.Time, window time.Duration) []map[string]any {
	var out []map[string]any
	for _, p := range points {
		raw, ok := p["timestamp"].(string)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue
		}
		d := ts.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= window {
			out = append(out, p)
		}
	}
	return out
}

func printRows(cmd *cobra.Command, rows []map[string]any) error {
	encoded := make([]map[string]any, len(rows))
	for i, row := range rows {
		enc, err := codec.EncodeMetrics(row)
		if err != nil {
			enc = row
		}
		encoded[i] = enc
	}

	if shared.GetJSON() {
		data, err := json.MarshalIndent(encoded, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	for _, row := range encoded {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		cmd.Println(string(data))
	}
	return nil
}
