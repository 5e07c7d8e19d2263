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

package store

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, dir+"/media", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBulkLog_MonotonicStepAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := s.BulkLog(ctx, "p", "r", []map[string]any{{"a": float64(i)}}, BulkOptions{})
		if err != nil {
			t.Fatalf("BulkLog() call %d error = %v", i, err)
		}
	}

	logs, err := s.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("len(logs) = %d, want 3", len(logs))
	}

	for i, row := range logs {
		if row["step"] != i {
			t.Errorf("row %d step = %v, want %d", i, row["step"], i)
		}
		if row["a"] != float64(i+1) {
			t.Errorf("row %d a = %v, want %v", i, row["a"], float64(i+1))
		}
	}
}

func TestBulkLog_RejectsMismatchedOptionLengths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := []map[string]any{{"a": 1.0}, {"a": 2.0}}

	cases := map[string]BulkOptions{
		"steps":      {Steps: []int{0}},
		"log_ids":    {LogIDs: []string{uuid.NewString()}},
		"timestamps": {Timestamps: []time.Time{time.Now()}},
	}
	for name, opts := range cases {
		if err := s.BulkLog(ctx, "p", "r", batch, opts); err == nil {
			t.Errorf("BulkLog() with short %s slice returned nil error", name)
		}
	}

	err := s.BulkLogSystem(ctx, "p", "r", batch, BulkOptions{Timestamps: []time.Time{time.Now()}})
	if err == nil {
		t.Error("BulkLogSystem() with short timestamps slice returned nil error")
	}

	// Nothing was written.
	logs, err := s.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("len(logs) = %d after rejected batches, want 0", len(logs))
	}
}

func TestBulkLog_BatchStepsContinueFromMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch1 := []map[string]any{{"a": 1.0}, {"a": 2.0}}
	batch2 := []map[string]any{{"a": 3.0}, {"a": 4.0}, {"a": 5.0}}

	if err := s.BulkLog(ctx, "p", "r", batch1, BulkOptions{}); err != nil {
		t.Fatalf("BulkLog() batch1 error = %v", err)
	}
	if err := s.BulkLog(ctx, "p", "r", batch2, BulkOptions{}); err != nil {
		t.Fatalf("BulkLog() batch2 error = %v", err)
	}

	logs, err := s.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	for i, row := range logs {
		if row["step"] != i {
			t.Errorf("row %d step = %v, want %d", i, row["step"], i)
		}
	}

	max, ok, err := s.GetMaxStep(ctx, "p", "r")
	if err != nil || !ok {
		t.Fatalf("GetMaxStep() = %v, %v, %v", max, ok, err)
	}
	if max != 4 {
		t.Errorf("max step = %d, want 4", max)
	}
}

func TestBulkLog_IdempotentRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	metrics := []map[string]any{{"a": 1.0}, {"a": 2.0}}
	opts := BulkOptions{
		Steps:   []int{0, 1},
		LogIDs:  []string{uuid.NewString(), uuid.NewString()},
		SpaceID: "user/space",
	}

	if err := s.BulkLog(ctx, "p", "r", metrics, opts); err != nil {
		t.Fatalf("BulkLog() first error = %v", err)
	}
	// Same log_ids again: INSERT OR IGNORE must keep the row set identical.
	if err := s.BulkLog(ctx, "p", "r", metrics, opts); err != nil {
		t.Fatalf("BulkLog() retry error = %v", err)
	}

	logs, err := s.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Errorf("len(logs) = %d after retry, want 2", len(logs))
	}
}

func TestBulkLog_NonFinitePreserved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.BulkLog(ctx, "p", "r", []map[string]any{{
		"loss": math.Inf(1),
		"acc":  math.Inf(-1),
		"f1":   math.NaN(),
		"ok":   0.5,
	}}, BulkOptions{})
	if err != nil {
		t.Fatalf("BulkLog() error = %v", err)
	}

	logs, err := s.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	row := logs[0]

	if !math.IsInf(row["loss"].(float64), 1) {
		t.Errorf("loss = %v, want +Inf", row["loss"])
	}
	if !math.IsInf(row["acc"].(float64), -1) {
		t.Errorf("acc = %v, want -Inf", row["acc"])
	}
	if !math.IsNaN(row["f1"].(float64)) {
		t.Errorf("f1 = %v, want NaN", row["f1"])
	}
	if row["ok"].(float64) != 0.5 {
		t.Errorf("ok = %v, want 0.5", row["ok"])
	}
}

func TestBulkLog_ConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	const batches = 20
	const perBatch = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			run := fmt.Sprintf("w%d", w)
			for b := 0; b < batches; b++ {
				batch := make([]map[string]any, perBatch)
				for i := range batch {
					batch[i] = map[string]any{"v": float64(b*perBatch + i)}
				}
				if err := s.BulkLog(ctx, "p", run, batch, BulkOptions{}); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent BulkLog() error = %v", err)
	}

	for w := 0; w < writers; w++ {
		run := fmt.Sprintf("w%d", w)
		logs, err := s.GetLogs(ctx, "p", run)
		if err != nil {
			t.Fatalf("GetLogs(%s) error = %v", run, err)
		}
		if len(logs) != batches*perBatch {
			t.Errorf("run %s row count = %d, want %d", run, len(logs), batches*perBatch)
		}

		seen := make(map[int]bool)
		for _, row := range logs {
			seen[row["step"].(int)] = true
		}
		for step := 0; step < batches*perBatch; step++ {
			if !seen[step] {
				t.Errorf("run %s missing step %d", run, step)
			}
		}
	}
}

func TestGetRuns_OrderedByEarliestTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, run := range []string{"first", "second", "third"} {
		if err := s.BulkLog(ctx, "p", run, []map[string]any{{"a": 1.0}}, BulkOptions{}); err != nil {
			t.Fatalf("BulkLog(%s) error = %v", run, err)
		}
	}

	runs, err := s.GetRuns(ctx, "p")
	if err != nil {
		t.Fatalf("GetRuns() error = %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(runs) != len(want) {
		t.Fatalf("runs = %v, want %v", runs, want)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("runs[%d] = %s, want %s", i, runs[i], want[i])
		}
	}
}

func TestConfigReplaceOnRelog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetConfig(ctx, "p", "r", map[string]any{"lr": 0.1}); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := s.SetConfig(ctx, "p", "r", map[string]any{"lr": 0.01}); err != nil {
		t.Fatalf("SetConfig() replace error = %v", err)
	}

	cfg, ok, err := s.GetConfig(ctx, "p", "r")
	if err != nil || !ok {
		t.Fatalf("GetConfig() = %v, %v, %v", cfg, ok, err)
	}
	if cfg["lr"].(float64) != 0.01 {
		t.Errorf("lr = %v, want 0.01", cfg["lr"])
	}
}

func TestAlerts_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	step := 7
	err := s.AddAlert(ctx, "p", Alert{
		Run:     "r",
		Level:   AlertWarn,
		Title:   "loss spiked",
		Text:    "loss jumped 10x",
		Step:    &step,
		AlertID: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("AddAlert() error = %v", err)
	}

	alerts, err := s.GetAlerts(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetAlerts() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Level != AlertWarn || a.Title != "loss spiked" || a.Step == nil || *a.Step != 7 {
		t.Errorf("alert = %+v", a)
	}
}

func TestProjects_EnumeratesDatabases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"alpha", "beta"} {
		if err := s.BulkLog(ctx, p, "r", []map[string]any{{"a": 1.0}}, BulkOptions{}); err != nil {
			t.Fatalf("BulkLog(%s) error = %v", p, err)
		}
	}

	projects, err := s.Projects()
	if err != nil {
		t.Fatalf("Projects() error = %v", err)
	}
	found := map[string]bool{}
	for _, p := range projects {
		found[p] = true
	}
	if !found["alpha"] || !found["beta"] {
		t.Errorf("projects = %v, want alpha and beta", projects)
	}
}

func TestDeleteRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.BulkLog(ctx, "p", "r", []map[string]any{{"a": 1.0}}, BulkOptions{Config: map[string]any{"lr": 0.1}}); err != nil {
		t.Fatalf("BulkLog() error = %v", err)
	}
	if err := s.DeleteRun(ctx, "p", "r"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}

	logs, err := s.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("len(logs) = %d after delete, want 0", len(logs))
	}
	if _, ok, _ := s.GetConfig(ctx, "p", "r"); ok {
		t.Error("config survived delete")
	}
}

func TestMarkers_ListAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := []string{uuid.NewString(), uuid.NewString()}
	err := s.BulkLog(ctx, "p", "r", []map[string]any{{"a": 1.0}, {"a": 2.0}}, BulkOptions{
		LogIDs:  ids,
		SpaceID: "user/space",
	})
	if err != nil {
		t.Fatalf("BulkLog() error = %v", err)
	}

	unsynced, err := s.ListUnsynced(ctx, "p")
	if err != nil {
		t.Fatalf("ListUnsynced() error = %v", err)
	}
	if len(unsynced) != 2 {
		t.Fatalf("len(unsynced) = %d, want 2", len(unsynced))
	}
	if unsynced[0].Step > unsynced[1].Step {
		t.Error("unsynced rows not in ascending step order")
	}

	if err := s.ClearMarkers(ctx, "p", TableMetrics, ids); err != nil {
		t.Fatalf("ClearMarkers() error = %v", err)
	}

	n, err := s.CountUnsynced(ctx, "p")
	if err != nil {
		t.Fatalf("CountUnsynced() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CountUnsynced() = %d after clear, want 0", n)
	}

	// Rows themselves survive marker clearing.
	logs, err := s.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Errorf("len(logs) = %d, want 2", len(logs))
	}
}

func TestPendingUploads_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	step := 3
	err := s.AddPendingUpload(ctx, "p", PendingUpload{
		SpaceID:      "user/space",
		Run:          "r",
		Step:         &step,
		FilePath:     "/abs/media/p/r/3/x.png",
		RelativePath: "p/r/3/x.png",
	})
	if err != nil {
		t.Fatalf("AddPendingUpload() error = %v", err)
	}

	uploads, err := s.ListPendingUploads(ctx, "p")
	if err != nil {
		t.Fatalf("ListPendingUploads() error = %v", err)
	}
	if len(uploads) != 1 {
		t.Fatalf("len(uploads) = %d, want 1", len(uploads))
	}
	if uploads[0].RelativePath != "p/r/3/x.png" {
		t.Errorf("RelativePath = %q", uploads[0].RelativePath)
	}

	if err := s.DeletePendingUpload(ctx, "p", uploads[0].ID); err != nil {
		t.Fatalf("DeletePendingUpload() error = %v", err)
	}
	uploads, _ = s.ListPendingUploads(ctx, "p")
	if len(uploads) != 0 {
		t.Errorf("len(uploads) = %d after delete, want 0", len(uploads))
	}
}

func TestMetadata_SetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetMetadata(ctx, "p", "color_palette", "viridis"); err != nil {
		t.Fatalf("SetMetadata() error = %v", err)
	}
	v, ok, err := s.GetMetadata(ctx, "p", "color_palette")
	if err != nil || !ok {
		t.Fatalf("GetMetadata() = %q, %v, %v", v, ok, err)
	}
	if v != "viridis" {
		t.Errorf("value = %q, want viridis", v)
	}

	if _, ok, _ := s.GetMetadata(ctx, "p", "missing"); ok {
		t.Error("GetMetadata() ok = true for unset key")
	}
}
