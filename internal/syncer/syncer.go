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

// Package syncer replays the durable buffer against a remote sink.
// Rows written while the remote was unreachable keep their (log_id,
// space_id) markers; reconciliation resubmits them per run in step
// order and clears markers only on acknowledgment.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/trackio/trackio/internal/sender"
	"github.com/trackio/trackio/internal/store"
	trkerrors "github.com/trackio/trackio/pkg/errors"
)

const defaultBatchSize = 100

// Uploader delivers pending media artifacts to the remote.
type Uploader interface {
	UploadArtifact(ctx context.Context, relPath, absPath string) error
}

// Syncer reconciles one store against one remote sink.
type Syncer struct {
	store     *store.Store
	sink      sender.Sink
	uploader  Uploader
	limiter   *rate.Limiter
	logger    *slog.Logger
	batchSize int
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithUploader enables pending media upload during reconciliation.
func WithUploader(u Uploader) Option {
	return func(s *Syncer) { s.uploader = u }
}

// WithRateLimit paces replay batches. Zero disables pacing.
func WithRateLimit(batchesPerSecond float64) Option {
	return func(s *Syncer) {
		if batchesPerSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(batchesPerSecond), 1)
		}
	}
}

// WithBatchSize sets the replay batch size.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New creates a syncer replaying st's durable buffer into sink.
func New(st *store.Store, sink sender.Sink, logger *slog.Logger, opts ...Option) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		store:     st,
		sink:      sink,
		logger:    logger.With(slog.String("component", "syncer")),
		limiter:   rate.NewLimiter(rate.Limit(10), 1),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result summarizes one project's reconciliation.
type Result struct {
	Project   string
	Replayed  int
	Uploaded  int
	Permanent int
	Remaining int
}

// Reconcile replays a project's marked rows. Transient failures stop
// the affected run and leave its markers set; permanent failures are
// counted, logged, and also left marked so status can report them.
func (s *Syncer) Reconcile(ctx context.Context, project string) (Result, error) {
	res := Result{Project: project}

	rows, err := s.store.ListUnsynced(ctx, project)
	if err != nil {
		return res, err
	}

	for _, group := range groupRows(rows) {
		for start := 0; start < len(group.rows); start += s.batchSize {
			end := start + s.batchSize
			if end > len(group.rows) {
				end = len(group.rows)
			}
			chunk := group.rows[start:end]

			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					res.Remaining, _ = s.store.CountUnsynced(ctx, project)
					return res, err
				}
			}

			if err := s.replayChunk(ctx, project, group, chunk, &res); err != nil {
				if trkerrors.IsTransient(err) {
					// The run's remaining rows replay on the next pass.
					s.logger.Warn("replay interrupted",
						slog.String("project", project),
						slog.String("run", group.run),
						slog.String("error", err.Error()))
					break
				}
				res.Permanent += len(chunk)
				s.logger.Error("permanent replay failure",
					slog.String("project", project),
					slog.String("run", group.run),
					slog.Int("entries", len(chunk)),
					slog.String("error", err.Error()))
				break
			}
		}
	}

	if s.uploader != nil {
		if err := s.drainUploads(ctx, project, &res); err != nil {
			res.Remaining, _ = s.store.CountUnsynced(ctx, project)
			return res, err
		}
	}

	res.Remaining, err = s.store.CountUnsynced(ctx, project)
	return res, err
}

// ReconcileAll reconciles every project in the store.
func (s *Syncer) ReconcileAll(ctx context.Context) ([]Result, error) {
	projects, err := s.store.Projects()
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, project := range projects {
		res, err := s.Reconcile(ctx, project)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("failed to reconcile %s: %w", project, err)
		}
	}
	return results, nil
}

func (s *Syncer) replayChunk(ctx context.Context, project string, g runGroup, chunk []store.UnsyncedRow, res *Result) error {
	batch := sender.Batch{
		Project: project,
		Run:     g.run,
		Entries: make([]sender.Entry, 0, len(chunk)),
	}
	ids := make([]string, 0, len(chunk))

	for _, row := range chunk {
		entry := sender.Entry{
			Project: project,
			Run:     row.Run,
			Metrics: row.Metrics,
			LogID:   row.LogID,
			System:  row.Table == store.TableSystemMetrics,
		}
		if row.Table == store.TableMetrics {
			step := row.Step
			entry.Step = &step
		}
		if ts, err := time.Parse(time.RFC3339Nano, row.Timestamp); err == nil {
			entry.Timestamp = ts
		}
		batch.Entries = append(batch.Entries, entry)
		ids = append(ids, row.LogID)
	}

	if err := s.sink.LogBulk(ctx, batch); err != nil {
		return err
	}

	if err := s.store.ClearMarkers(ctx, project, g.table, ids); err != nil {
		return err
	}
	res.Replayed += len(ids)
	return nil
}

func (s *Syncer) drainUploads(ctx context.Context, project string, res *Result) error {
	uploads, err := s.store.ListPendingUploads(ctx, project)
	if err != nil {
		return err
	}

	for _, u := range uploads {
		if err := s.uploader.UploadArtifact(ctx, u.RelativePath, u.FilePath); err != nil {
			if trkerrors.IsTransient(err) {
				s.logger.Warn("artifact upload interrupted",
					slog.String("project", project),
					slog.String("path", u.RelativePath),
					slog.String("error", err.Error()))
				return nil
			}
			res.Permanent++
			s.logger.Error("permanent artifact upload failure",
				slog.String("project", project),
				slog.String("path", u.RelativePath),
				slog.String("error", err.Error()))
			continue
		}
		if err := s.store.DeletePendingUpload(ctx, project, u.ID); err != nil {
			return err
		}
		res.Uploaded++
	}
	return nil
}

// runGroup is one run's marked rows from one table, already in replay
// order.
type runGroup struct {
	table string
	run   string
	rows  []store.UnsyncedRow
}

// groupRows splits the store's ordered row list into per-(table, run)
// groups, preserving order within each group.
func groupRows(rows []store.UnsyncedRow) []runGroup {
	var groups []runGroup
	index := map[string]int{}

	for _, row := range rows {
		key := row.Table + "\x00" + row.Run
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, runGroup{table: row.Table, run: row.Run})
		}
		groups[i].rows = append(groups[i].rows, row)
	}
	return groups
}
