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

package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"github.com/trackio/trackio/internal/store"
)

const defaultExportInterval = 5 * time.Minute

// Scheduler re-exports projects on a fixed interval. A filesystem watch
// on the trackio dir marks projects dirty as their databases change, so
// idle projects are not rewritten: export happens only when the
// database is newer than its snapshot or the project is marked dirty.
type Scheduler struct {
	exporter *Exporter
	store    *store.Store
	mirror   *Mirror
	interval time.Duration
	logger   *slog.Logger

	cron    gocron.Scheduler
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	dirty map[string]bool
}

// NewScheduler creates a snapshot scheduler. mirror may be nil when no
// remote object store is configured.
func NewScheduler(exporter *Exporter, st *store.Store, mirror *Mirror, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		interval = defaultExportInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		exporter: exporter,
		store:    st,
		mirror:   mirror,
		interval: interval,
		logger:   logger.With(slog.String("component", "snapshot")),
		cron:     cron,
		dirty:    make(map[string]bool),
	}, nil
}

// Start begins the export job and the database watch.
func (s *Scheduler) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.store.Dir()); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch trackio dir: %w", err)
	}
	s.watcher = watcher
	go s.watchLoop()

	_, err = s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			exportCtx, cancel := context.WithTimeout(context.Background(), s.interval)
			defer cancel()
			s.ExportDirty(exportCtx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to schedule export job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("snapshot scheduler started",
		slog.Duration("interval", s.interval))
	return nil
}

// Stop shuts the scheduler down, running one final export.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.ExportDirty(ctx)
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	return nil
}

// MarkDirty forces a project's next export regardless of mtimes.
func (s *Scheduler) MarkDirty(project string) {
	s.mu.Lock()
	s.dirty[project] = true
	s.mu.Unlock()
}

// ExportDirty exports every project whose database changed since its
// last snapshot, then mirrors the written files.
func (s *Scheduler) ExportDirty(ctx context.Context) {
	projects, err := s.store.Projects()
	if err != nil {
		s.logger.Error("failed to list projects", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	dirty := s.dirty
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	for _, project := range projects {
		if !dirty[project] && !s.stale(project) {
			continue
		}

		written, err := s.exporter.ExportProject(ctx, project)
		if err != nil {
			s.logger.Error("export failed",
				slog.String("project", project), slog.String("error", err.Error()))
			// Re-mark so the next tick retries.
			s.MarkDirty(project)
			continue
		}

		if s.mirror != nil {
			for _, path := range written {
				if err := s.mirror.UploadFile(ctx, path); err != nil {
					s.logger.Warn("snapshot mirror failed",
						slog.String("path", path), slog.String("error", err.Error()))
				}
			}
		}
	}
}

// stale reports whether the project database is newer than its metrics
// snapshot.
func (s *Scheduler) stale(project string) bool {
	dbInfo, err := os.Stat(s.store.DatabasePath(project))
	if err != nil {
		return false
	}
	metricsPath, _, _ := s.exporter.Paths(project)
	snapInfo, err := os.Stat(metricsPath)
	if err != nil {
		// Never exported.
		return true
	}
	return dbInfo.ModTime().After(snapInfo.ModTime())
}

func (s *Scheduler) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".db") {
				continue
			}
			s.MarkDirty(strings.TrimSuffix(name, ".db"))
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}
