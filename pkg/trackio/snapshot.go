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

package trackio

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/trackio/trackio/internal/config"
	"github.com/trackio/trackio/internal/snapshot"
	"github.com/trackio/trackio/internal/store"
)

// snapshotterOnce guards the process-wide snapshotter, lazily created
// by the first Init that runs with a dataset configured.
var (
	snapshotterOnce sync.Once
	snapshotter     *snapshot.Scheduler
)

// startSnapshotter brings up the background parquet export loop and, if
// a dataset repository is configured, the remote mirror. Called once
// per process; later Inits reuse the running scheduler.
func startSnapshotter(ctx context.Context, cfg *config.Config, st *store.Store, project string, logger *slog.Logger) {
	snapshotterOnce.Do(func() {
		exporter := snapshot.NewExporter(st, cfg.Dir, logger)

		var mirror *snapshot.Mirror
		if cfg.DatasetID != "" {
			bucket, prefix, _ := strings.Cut(cfg.DatasetID, "/")
			m, err := snapshot.NewMirror(ctx, snapshot.MirrorConfig{
				Bucket: bucket,
				Prefix: prefix,
			}, cfg.Dir, logger)
			if err != nil {
				logger.Warn("snapshot mirror disabled",
					slog.String("dataset", cfg.DatasetID), slog.String("error", err.Error()))
			} else {
				mirror = m
				// Load path: pull snapshots absent locally and, when the
				// project has no database yet, rebuild it from them.
				sanitized := config.SanitizeProject(project)
				_, statErr := os.Stat(st.DatabasePath(project))
				if err := m.PullProject(ctx, sanitized); err != nil {
					logger.Warn("snapshot pull failed", slog.String("error", err.Error()))
				} else if os.IsNotExist(statErr) {
					if err := exporter.ImportProject(ctx, sanitized); err != nil {
						logger.Warn("snapshot import failed", slog.String("error", err.Error()))
					}
				}
			}
		}

		sched, err := snapshot.NewScheduler(exporter, st, mirror, 0, logger)
		if err != nil {
			logger.Warn("snapshotter disabled", slog.String("error", err.Error()))
			return
		}
		if err := sched.Start(ctx); err != nil {
			logger.Warn("snapshotter failed to start", slog.String("error", err.Error()))
			return
		}
		snapshotter = sched
	})
}
