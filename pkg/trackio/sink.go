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
	"time"

	"github.com/trackio/trackio/internal/remote"
	"github.com/trackio/trackio/internal/sender"
	"github.com/trackio/trackio/internal/store"
)

// localSink commits batches straight into the project store.
type localSink struct {
	store *store.Store
}

func (s *localSink) LogBulk(ctx context.Context, batch sender.Batch) error {
	return writeBatch(ctx, s.store, batch, "")
}

// durableSink implements local-first remote delivery: every batch is
// committed to the project store with (log_id, space_id) markers before
// the remote call, and the markers are cleared only after the remote
// ack. A failed remote call leaves the rows marked for the reconciler.
type durableSink struct {
	store   *store.Store
	client  *remote.Client
	spaceID string
	logger  *slog.Logger
}

func (s *durableSink) LogBulk(ctx context.Context, batch sender.Batch) error {
	if err := writeBatch(ctx, s.store, batch, s.spaceID); err != nil {
		return err
	}

	if err := s.client.LogBulk(ctx, batch); err != nil {
		s.logger.Warn("remote delivery failed, batch kept in durable buffer",
			slog.String("run", batch.Run), slog.String("error", err.Error()))
		return nil
	}

	var metricIDs, systemIDs []string
	for _, e := range batch.Entries {
		if e.LogID == "" {
			continue
		}
		if e.System {
			systemIDs = append(systemIDs, e.LogID)
		} else {
			metricIDs = append(metricIDs, e.LogID)
		}
	}
	if len(metricIDs) > 0 {
		if err := s.store.ClearMarkers(ctx, batch.Project, store.TableMetrics, metricIDs); err != nil {
			return err
		}
	}
	if len(systemIDs) > 0 {
		if err := s.store.ClearMarkers(ctx, batch.Project, store.TableSystemMetrics, systemIDs); err != nil {
			return err
		}
	}
	return nil
}

// writeBatch commits one sender batch into the store. Metric entries are
// written in consecutive segments sharing the same explicit-step
// property, since a bulk write takes either all steps or none.
func writeBatch(ctx context.Context, st *store.Store, batch sender.Batch, spaceID string) error {
	var metricEntries, systemEntries []sender.Entry
	var config map[string]any
	for _, e := range batch.Entries {
		if e.Config != nil {
			config = e.Config
		}
		if e.System {
			systemEntries = append(systemEntries, e)
		} else {
			metricEntries = append(metricEntries, e)
		}
	}

	for _, segment := range segmentBySteps(metricEntries) {
		opts := entryOptions(segment, spaceID)
		opts.Config = config
		config = nil
		if err := st.BulkLog(ctx, batch.Project, batch.Run, entryMaps(segment), opts); err != nil {
			return err
		}
	}

	if len(systemEntries) > 0 {
		opts := entryOptions(systemEntries, spaceID)
		opts.Steps = nil
		opts.Config = config
		if err := st.BulkLogSystem(ctx, batch.Project, batch.Run, entryMaps(systemEntries), opts); err != nil {
			return err
		}
	}
	return nil
}

func segmentBySteps(entries []sender.Entry) [][]sender.Entry {
	var segments [][]sender.Entry
	start := 0
	for i := 1; i <= len(entries); i++ {
		if i == len(entries) || (entries[i].Step != nil) != (entries[start].Step != nil) {
			segments = append(segments, entries[start:i])
			start = i
		}
	}
	return segments
}

func entryOptions(entries []sender.Entry, spaceID string) store.BulkOptions {
	opts := store.BulkOptions{SpaceID: spaceID}

	if entries[0].Step != nil {
		opts.Steps = make([]int, len(entries))
		for i, e := range entries {
			opts.Steps[i] = *e.Step
		}
	}

	opts.Timestamps = make([]time.Time, len(entries))
	allIDs := true
	for i, e := range entries {
		opts.Timestamps[i] = e.Timestamp
		if e.LogID == "" {
			allIDs = false
		}
	}
	if allIDs {
		opts.LogIDs = make([]string, len(entries))
		for i, e := range entries {
			opts.LogIDs[i] = e.LogID
		}
	}
	return opts
}

func entryMaps(entries []sender.Entry) []map[string]any {
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = e.Metrics
	}
	return out
}
