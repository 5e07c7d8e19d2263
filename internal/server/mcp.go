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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/trackio/trackio/internal/codec"
	"github.com/trackio/trackio/internal/store"
)

// MCPServer exposes read-only experiment queries as MCP tools over
// stdio, so agents can inspect logged runs without the HTTP API.
type MCPServer struct {
	mcp    *mcpserver.MCPServer
	store  *store.Store
	logger *slog.Logger
}

// NewMCPServer creates the MCP query server over a store.
func NewMCPServer(version string, st *store.Store, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		mcp:    mcpserver.NewMCPServer("trackio", version),
		store:  st,
		logger: logger.With(slog.String("component", "mcp")),
	}
	s.registerTools()
	return s
}

func (s *MCPServer) registerTools() {
	s.mcp.AddTool(mcp.Tool{
		Name:        "list_projects",
		Description: "List all tracked projects.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListProjects)

	s.mcp.AddTool(mcp.Tool{
		Name:        "list_runs",
		Description: "List the runs of a project, ordered by the time each run first logged.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": map[string]interface{}{
					"type":        "string",
					"description": "Project name",
				},
			},
			Required: []string{"project"},
		},
	}, s.handleListRuns)

	s.mcp.AddTool(mcp.Tool{
		Name:        "get_logs",
		Description: "Return the logged metric rows of a run, one object per step.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": map[string]interface{}{
					"type":        "string",
					"description": "Project name",
				},
				"run": map[string]interface{}{
					"type":        "string",
					"description": "Run name",
				},
			},
			Required: []string{"project", "run"},
		},
	}, s.handleGetLogs)

	s.mcp.AddTool(mcp.Tool{
		Name:        "get_metric",
		Description: "Return the series of a single metric across a run's steps.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": map[string]interface{}{
					"type":        "string",
					"description": "Project name",
				},
				"run": map[string]interface{}{
					"type":        "string",
					"description": "Run name",
				},
				"metric": map[string]interface{}{
					"type":        "string",
					"description": "Metric key to extract",
				},
			},
			Required: []string{"project", "run", "metric"},
		},
	}, s.handleGetMetric)
}

// Run serves MCP over stdio until the client disconnects.
func (s *MCPServer) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server")
	if err := mcpserver.ServeStdio(s.mcp); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func (s *MCPServer) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.Projects()
	if err != nil {
		return errorResponse(fmt.Sprintf("failed to list projects: %v", err)), nil
	}
	return jsonResponse(map[string]any{"projects": projects})
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := request.RequireString("project")
	if err != nil {
		return errorResponse("missing or invalid 'project' argument"), nil
	}

	runs, err := s.store.GetRuns(ctx, project)
	if err != nil {
		return errorResponse(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	return jsonResponse(map[string]any{"project": project, "runs": runs})
}

func (s *MCPServer) handleGetLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := request.RequireString("project")
	if err != nil {
		return errorResponse("missing or invalid 'project' argument"), nil
	}
	run, err := request.RequireString("run")
	if err != nil {
		return errorResponse("missing or invalid 'run' argument"), nil
	}

	logs, err := s.store.GetLogs(ctx, project, run)
	if err != nil {
		return errorResponse(fmt.Sprintf("failed to read logs: %v", err)), nil
	}
	return jsonResponse(map[string]any{"run": run, "logs": sanitizeLogs(logs)})
}

func (s *MCPServer) handleGetMetric(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := request.RequireString("project")
	if err != nil {
		return errorResponse("missing or invalid 'project' argument"), nil
	}
	run, err := request.RequireString("run")
	if err != nil {
		return errorResponse("missing or invalid 'run' argument"), nil
	}
	metric, err := request.RequireString("metric")
	if err != nil {
		return errorResponse("missing or invalid 'metric' argument"), nil
	}

	logs, err := s.store.GetLogs(ctx, project, run)
	if err != nil {
		return errorResponse(fmt.Sprintf("failed to read logs: %v", err)), nil
	}

	type point struct {
		Step  any `json:"step"`
		Value any `json:"value"`
	}
	var series []point
	for _, row := range logs {
		v, ok := row[metric]
		if !ok {
			continue
		}
		enc, encErr := codec.Encode(v)
		if encErr != nil {
			continue
		}
		series = append(series, point{Step: row["step"], Value: enc})
	}
	return jsonResponse(map[string]any{
		"run":    run,
		"metric": metric,
		"points": series,
	})
}

func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

func jsonResponse(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(string(data)),
		},
	}, nil
}
