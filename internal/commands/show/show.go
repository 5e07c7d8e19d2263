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

// Package show implements the dashboard server command.
package show

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackio/trackio/internal/commands/shared"
	"github.com/trackio/trackio/internal/server"
)

type showOptions struct {
	project      string
	host         string
	port         int
	theme        string
	colorPalette string
	mcpServer    bool
}

// NewShowCommand creates the show command.
func NewShowCommand() *cobra.Command {
	opts := &showOptions{}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Serve the dashboard API for logged experiments",
		Long: `Serve the HTTP API that backs the dashboard over the local trackio
data. With --mcp-server the process instead speaks the Model Context
Protocol over stdio, exposing the same data as query tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.project, "project", "", "Open the dashboard on a specific project")
	cmd.Flags().StringVar(&opts.host, "host", "127.0.0.1", "Address to bind")
	cmd.Flags().IntVar(&opts.port, "port", 7860, "Port to bind")
	cmd.Flags().StringVar(&opts.theme, "theme", "", "Dashboard theme hint")
	cmd.Flags().StringVar(&opts.colorPalette, "color-palette", "", "Dashboard color palette hint")
	cmd.Flags().BoolVar(&opts.mcpServer, "mcp-server", false, "Serve MCP query tools over stdio instead of HTTP")

	return cmd
}

func runShow(ctx context.Context, opts *showOptions) error {
	st, cfg, err := shared.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	version, _, _ := shared.GetVersion()

	// Dashboard hints persist as project metadata so the UI picks them
	// up on the next load.
	if opts.project != "" {
		if opts.theme != "" {
			if err := st.SetMetadata(ctx, opts.project, "theme", opts.theme); err != nil {
				return err
			}
		}
		if opts.colorPalette != "" {
			if err := st.SetMetadata(ctx, opts.project, "color_palette", opts.colorPalette); err != nil {
				return err
			}
		}
	}

	if opts.mcpServer {
		return server.NewMCPServer(version, st, nil).Run(ctx)
	}

	router := server.NewRouter(server.RouterConfig{
		Version:   version,
		Token:     cfg.Token,
		MediaRoot: cfg.MediaDir,
	}, st, nil)

	addr := net.JoinHostPort(opts.host, fmt.Sprintf("%d", opts.port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("* trackio dashboard API on http://%s\n", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
