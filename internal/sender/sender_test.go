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

package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu        sync.Mutex
	batches   []Batch
	fail      bool
	failFirst int
	calls     int
}

func (c *captureSink) LogBulk(_ context.Context, batch Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail || c.calls <= c.failFirst {
		return errors.New("sink down")
	}
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureSink) snapshot() []Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Batch, len(c.batches))
	copy(out, c.batches)
	return out
}

func TestSender_BatchesPerRun(t *testing.T) {
	sink := &captureSink{}
	s := New(sink, nil)
	defer s.Close()

	for i := 0; i < 3; i++ {
		if !s.Enqueue(Entry{Project: "p", Run: "a", Metrics: map[string]any{"i": i}}) {
			t.Fatal("Enqueue() = false on open sender")
		}
	}
	s.Enqueue(Entry{Project: "p", Run: "b", Metrics: map[string]any{"i": 0}})

	s.Flush(context.Background())

	batches := sink.snapshot()
	counts := map[string]int{}
	for _, b := range batches {
		if b.Project != "p" {
			t.Errorf("batch project = %q", b.Project)
		}
		counts[b.Run] += len(b.Entries)
		for i := 1; i < len(b.Entries); i++ {
			if b.Entries[i].Run != b.Entries[0].Run {
				t.Error("batch mixes runs")
			}
		}
	}
	if counts["a"] != 3 {
		t.Errorf("run a delivered %d entries, want 3", counts["a"])
	}
	if counts["b"] != 1 {
		t.Errorf("run b delivered %d entries, want 1", counts["b"])
	}
}

func TestSender_PreservesEnqueueOrder(t *testing.T) {
	sink := &captureSink{}
	s := New(sink, nil)
	defer s.Close()

	const n = 50
	for i := 0; i < n; i++ {
		s.Enqueue(Entry{Project: "p", Run: "r", Metrics: map[string]any{"i": i}})
	}
	s.Flush(context.Background())

	var seen []int
	for _, b := range sink.snapshot() {
		for _, e := range b.Entries {
			seen = append(seen, e.Metrics["i"].(int))
		}
	}
	if len(seen) != n {
		t.Fatalf("delivered %d entries, want %d", len(seen), n)
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("entry %d = %d, out of order", i, v)
		}
	}
}

func TestSender_CloseDrainsPending(t *testing.T) {
	sink := &captureSink{}
	s := New(sink, nil)

	s.Enqueue(Entry{Project: "p", Run: "r", Metrics: map[string]any{"i": 1}})
	s.Close()

	total := 0
	for _, b := range sink.snapshot() {
		total += len(b.Entries)
	}
	if total != 1 {
		t.Errorf("delivered %d entries after Close, want 1", total)
	}

	if s.Enqueue(Entry{Project: "p", Run: "r"}) {
		t.Error("Enqueue() = true after Close")
	}
}

func TestSender_TickerFlushesWithoutExplicitFlush(t *testing.T) {
	sink := &captureSink{}
	s := New(sink, nil)
	defer s.Close()

	s.Enqueue(Entry{Project: "p", Run: "r", Metrics: map[string]any{"i": 1}})

	deadline := time.Now().Add(3 * flushInterval)
	for time.Now().Before(deadline) {
		if len(sink.snapshot()) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ticker never flushed the pending entry")
}

func TestSender_SinkErrorDoesNotBlockProducers(t *testing.T) {
	sink := &captureSink{fail: true}
	s := New(sink, nil)
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Enqueue(Entry{Project: "p", Run: "r", Metrics: map[string]any{"i": i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on failing sink")
	}
}

func TestSender_RetriesFailedBatch(t *testing.T) {
	sink := &captureSink{failFirst: 1}
	s := New(sink, nil)
	defer s.Close()

	s.Enqueue(Entry{Project: "p", Run: "r", Metrics: map[string]any{"i": 1}})

	s.Flush(context.Background())

	total := 0
	for _, b := range sink.snapshot() {
		total += len(b.Entries)
	}
	if total != 1 {
		t.Fatalf("delivered %d entries after sink recovered, want 1", total)
	}
}

func TestWorker_FailedBatchRequeuedAheadOfNewEntries(t *testing.T) {
	sink := &captureSink{failFirst: 1}
	w := &worker{sink: sink, logger: slog.Default(), project: "p", run: "r"}

	w.enqueue(Entry{Project: "p", Run: "r", Metrics: map[string]any{"i": 0}})
	w.drain(context.Background())

	// Enqueued between the failed attempt and the retry; must come
	// after the re-queued entry.
	w.enqueue(Entry{Project: "p", Run: "r", Metrics: map[string]any{"i": 1}})
	w.drain(context.Background())

	var seen []int
	for _, b := range sink.snapshot() {
		for _, e := range b.Entries {
			seen = append(seen, e.Metrics["i"].(int))
		}
	}
	if len(seen) != 2 {
		t.Fatalf("delivered %d entries, want 2", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("entry %d = %d, retry broke ordering", i, v)
		}
	}
}

func TestSender_CloseRunStopsSingleWorker(t *testing.T) {
	sink := &captureSink{}
	s := New(sink, nil)
	defer s.Close()

	s.Enqueue(Entry{Project: "p", Run: "a", Metrics: map[string]any{"i": 1}})
	s.Enqueue(Entry{Project: "p", Run: "b", Metrics: map[string]any{"i": 2}})

	s.CloseRun("p", "a")

	found := false
	for _, b := range sink.snapshot() {
		if b.Run == "a" && len(b.Entries) == 1 {
			found = true
		}
	}
	if !found {
		t.Error("CloseRun did not drain run a")
	}

	// Run b is unaffected.
	if !s.Enqueue(Entry{Project: "p", Run: "b", Metrics: map[string]any{"i": 3}}) {
		t.Error("Enqueue to run b failed after CloseRun(a)")
	}
}
