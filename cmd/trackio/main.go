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

package main

import (
	"log/slog"

	"github.com/trackio/trackio/internal/cli"
	"github.com/trackio/trackio/internal/commands/get"
	"github.com/trackio/trackio/internal/commands/list"
	"github.com/trackio/trackio/internal/commands/show"
	"github.com/trackio/trackio/internal/commands/status"
	synccmd "github.com/trackio/trackio/internal/commands/sync"
	versioncmd "github.com/trackio/trackio/internal/commands/version"
	trklog "github.com/trackio/trackio/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	slog.SetDefault(trklog.New(trklog.FromEnv()))
	cli.SetVersion(version, commit, buildDate)

	root := cli.NewRootCommand()
	root.AddCommand(show.NewShowCommand())
	root.AddCommand(status.NewStatusCommand())
	root.AddCommand(synccmd.NewSyncCommand())
	root.AddCommand(list.NewListCommand())
	root.AddCommand(get.NewGetCommand())
	root.AddCommand(versioncmd.NewVersionCommand())

	if err := root.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
