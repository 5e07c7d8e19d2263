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
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/trackio/trackio/internal/store"
)

func newExporter(t *testing.T) (*Exporter, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "data"), filepath.Join(dir, "media"), nil)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewExporter(st, filepath.Join(dir, "snapshots"), nil), st
}

func TestExportImport_RoundTrip(t *testing.T) {
	exp, st := newExporter(t)
	ctx := context.Background()

	ts := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	err := st.BulkLog(ctx, "p", "r", []map[string]any{
		{"loss": 0.9, "note": "warmup"},
		{"loss": 0.5},
		{"loss": 0.1, "acc": 0.8},
	}, store.BulkOptions{
		Steps:      []int{0, 1, 2},
		Timestamps: []time.Time{ts, ts.Add(time.Second), ts.Add(2 * time.Second)},
	})
	if err != nil {
		t.Fatalf("BulkLog() error = %v", err)
	}
	if err := st.SetConfig(ctx, "p", "r", map[string]any{"lr": 0.01, "opt": "adam"}); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	err = st.BulkLogSystem(ctx, "p", "r", []map[string]any{{"cpu": 42.0}}, store.BulkOptions{})
	if err != nil {
		t.Fatalf("BulkLogSystem() error = %v", err)
	}

	written, err := exp.ExportProject(ctx, "p")
	if err != nil {
		t.Fatalf("ExportProject() error = %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("wrote %d files, want 3: %v", len(written), written)
	}

	// Restore into an empty store.
	dir := t.TempDir()
	st2, err := store.New(filepath.Join(dir, "data"), filepath.Join(dir, "media"), nil)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st2.Close()
	imp := NewExporter(st2, exp.dir, nil)

	if err := imp.ImportProject(ctx, "p"); err != nil {
		t.Fatalf("ImportProject() error = %v", err)
	}

	logs, err := st2.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("len(logs) = %d, want 3", len(logs))
	}
	if logs[0]["loss"].(float64) != 0.9 || logs[0]["note"] != "warmup" {
		t.Errorf("row 0 = %v", logs[0])
	}
	if logs[0]["step"] != 0 || logs[2]["step"] != 2 {
		t.Errorf("steps not preserved: %v, %v", logs[0]["step"], logs[2]["step"])
	}
	if _, present := logs[1]["acc"]; present {
		t.Error("null cell resurfaced as a value")
	}
	if logs[2]["acc"].(float64) != 0.8 {
		t.Errorf("row 2 acc = %v", logs[2]["acc"])
	}

	cfg, ok, err := st2.GetConfig(ctx, "p", "r")
	if err != nil || !ok {
		t.Fatalf("GetConfig() = %v, %v, %v", cfg, ok, err)
	}
	if cfg["lr"].(float64) != 0.01 || cfg["opt"] != "adam" {
		t.Errorf("config = %v", cfg)
	}

	sysLogs, err := st2.GetSystemLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetSystemLogs() error = %v", err)
	}
	if len(sysLogs) != 1 || sysLogs[0]["cpu"].(float64) != 42.0 {
		t.Errorf("system logs = %v", sysLogs)
	}
}

func TestExportImport_NonFiniteValues(t *testing.T) {
	exp, st := newExporter(t)
	ctx := context.Background()

	err := st.BulkLog(ctx, "p", "r",
		[]map[string]any{{"loss": math.Inf(1), "f1": math.NaN()}}, store.BulkOptions{})
	if err != nil {
		t.Fatalf("BulkLog() error = %v", err)
	}

	if _, err := exp.ExportProject(ctx, "p"); err != nil {
		t.Fatalf("ExportProject() error = %v", err)
	}

	dir := t.TempDir()
	st2, err := store.New(filepath.Join(dir, "data"), filepath.Join(dir, "media"), nil)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st2.Close()
	imp := NewExporter(st2, exp.dir, nil)

	if err := imp.ImportProject(ctx, "p"); err != nil {
		t.Fatalf("ImportProject() error = %v", err)
	}

	logs, err := st2.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if !math.IsInf(logs[0]["loss"].(float64), 1) {
		t.Errorf("loss = %v, want +Inf", logs[0]["loss"])
	}
	if !math.IsNaN(logs[0]["f1"].(float64)) {
		t.Errorf("f1 = %v, want NaN", logs[0]["f1"])
	}
}

func TestExport_EmptyProjectWritesNothing(t *testing.T) {
	exp, _ := newExporter(t)

	written, err := exp.ExportProject(context.Background(), "empty")
	if err != nil {
		t.Fatalf("ExportProject() error = %v", err)
	}
	if len(written) != 0 {
		t.Errorf("wrote %v for empty project", written)
	}
}

func TestExport_DescriptorColumnSurvives(t *testing.T) {
	exp, st := newExporter(t)
	ctx := context.Background()

	desc := map[string]any{
		"_type":     "image",
		"file_path": "p/r/0/abc.png",
	}
	err := st.BulkLog(ctx, "p", "r",
		[]map[string]any{{"sample": desc, "loss": 1.0}}, store.BulkOptions{})
	if err != nil {
		t.Fatalf("BulkLog() error = %v", err)
	}

	if _, err := exp.ExportProject(ctx, "p"); err != nil {
		t.Fatalf("ExportProject() error = %v", err)
	}

	dir := t.TempDir()
	st2, err := store.New(filepath.Join(dir, "data"), filepath.Join(dir, "media"), nil)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st2.Close()
	imp := NewExporter(st2, exp.dir, nil)

	if err := imp.ImportProject(ctx, "p"); err != nil {
		t.Fatalf("ImportProject() error = %v", err)
	}

	logs, err := st2.GetLogs(ctx, "p", "r")
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	got, ok := logs[0]["sample"].(map[string]any)
	if !ok {
		t.Fatalf("sample = %T, want map", logs[0]["sample"])
	}
	if got["_type"] != "image" || got["file_path"] != "p/r/0/abc.png" {
		t.Errorf("descriptor = %v", got)
	}
}
