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
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trackio/trackio/internal/remote"
	"github.com/trackio/trackio/internal/sender"
	"github.com/trackio/trackio/internal/store"
)

func newSinkStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir, dir+"/media", nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func step(n int) *int { return &n }

func makeBatch(entries ...sender.Entry) sender.Batch {
	return sender.Batch{Project: "demo", Run: "run-1", Entries: entries}
}

func entry(logID string, system bool, metrics map[string]any) sender.Entry {
	return sender.Entry{
		Project:   "demo",
		Run:       "run-1",
		Metrics:   metrics,
		Timestamp: time.Now(),
		LogID:     logID,
		System:    system,
	}
}

func TestLocalSink_CommitsWithoutMarkers(t *testing.T) {
	st := newSinkStore(t)
	sink := &localSink{store: st}

	err := sink.LogBulk(context.Background(), makeBatch(
		entry("id-1", false, map[string]any{"loss": 1.0}),
		entry("id-2", false, map[string]any{"loss": 0.5}),
	))
	if err != nil {
		t.Fatalf("LogBulk: %v", err)
	}

	logs, err := st.GetLogs(context.Background(), "demo", "run-1")
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d rows", len(logs))
	}

	unsynced, err := st.ListUnsynced(context.Background(), "demo")
	if err != nil {
		t.Fatalf("ListUnsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("local rows marked unsynced: %d", len(unsynced))
	}
}

func TestDurableSink_ClearsMarkersOnAck(t *testing.T) {
	st := newSinkStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := remote.NewClient(srv.URL, remote.WithSpaceID("user/space"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	sink := &durableSink{store: st, client: client, spaceID: "user/space", logger: slog.Default()}

	err = sink.LogBulk(context.Background(), makeBatch(
		entry("id-1", false, map[string]any{"loss": 1.0}),
		entry("id-2", true, map[string]any{"cpu_percent": 10.0}),
	))
	if err != nil {
		t.Fatalf("LogBulk: %v", err)
	}

	unsynced, err := st.ListUnsynced(context.Background(), "demo")
	if err != nil {
		t.Fatalf("ListUnsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("markers not cleared after ack: %d rows", len(unsynced))
	}

	// Rows themselves survive the marker clear.
	logs, err := st.GetLogs(context.Background(), "demo", "run-1")
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("metric rows = %d, want 1", len(logs))
	}
}

func TestDurableSink_KeepsMarkersOnFailure(t *testing.T) {
	st := newSinkStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := remote.NewClient(srv.URL, remote.WithSpaceID("user/space"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	sink := &durableSink{store: st, client: client, spaceID: "user/space", logger: slog.Default()}

	err = sink.LogBulk(context.Background(), makeBatch(
		entry("id-1", false, map[string]any{"loss": 1.0}),
	))
	if err != nil {
		t.Fatalf("LogBulk: %v", err)
	}

	// The batch is durable locally and stays marked for the reconciler.
	unsynced, err := st.ListUnsynced(context.Background(), "demo")
	if err != nil {
		t.Fatalf("ListUnsynced: %v", err)
	}
	if len(unsynced) != 1 {
		t.Fatalf("unsynced rows = %d, want 1", len(unsynced))
	}
	if unsynced[0].SpaceID != "user/space" {
		t.Errorf("space id = %q", unsynced[0].SpaceID)
	}
}

func TestWriteBatch_MixedStepSegments(t *testing.T) {
	st := newSinkStore(t)

	e1 := entry("id-1", false, map[string]any{"x": 1.0})
	e2 := entry("id-2", false, map[string]any{"x": 2.0})
	e2.Step = step(10)
	e3 := entry("id-3", false, map[string]any{"x": 3.0})
	e3.Step = step(11)
	e4 := entry("id-4", false, map[string]any{"x": 4.0})

	if err := writeBatch(context.Background(), st, makeBatch(e1, e2, e3, e4), ""); err != nil {
		t.Fatalf("writeBatch: %v", err)
	}

	logs, err := st.GetLogs(context.Background(), "demo", "run-1")
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) != 4 {
		t.Fatalf("got %d rows", len(logs))
	}

	steps := make(map[int]bool)
	for _, row := range logs {
		steps[row["step"].(int)] = true
	}
	// Explicit steps kept, auto-assigned ones fill around them.
	if !steps[10] || !steps[11] {
		t.Errorf("explicit steps lost: %v", steps)
	}
}
