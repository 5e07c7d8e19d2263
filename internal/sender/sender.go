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

// Package sender batches metric entries per run and flushes them to a
// sink on a fixed interval. Producers never block on the sink; entries
// accumulate in memory between flushes.
package sender

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// flushInterval is the batching window.
	flushInterval = 500 * time.Millisecond

	// closeTimeout bounds how long Close waits for the worker to drain.
	closeTimeout = 2 * time.Second
)

// Entry is one queued metric record.
type Entry struct {
	Project   string
	Run       string
	Metrics   map[string]any
	Step      *int
	Timestamp time.Time
	Config    map[string]any
	LogID     string
	System    bool
}

// Batch is the unit handed to a sink: entries of a single run in queue
// order.
type Batch struct {
	Project string
	Run     string
	Entries []Entry
}

// Sink receives flushed batches. A failed batch goes back to the head
// of the queue and is retried on the next tick, so a sink error never
// loses entries while the worker is alive.
type Sink interface {
	LogBulk(ctx context.Context, batch Batch) error
}

// Sender owns one background worker per run. Enqueue appends to the
// run's pending slice; the worker swaps the slice out under the mutex
// and delivers it, so producers only contend on the append.
type Sender struct {
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

// New creates a sender delivering to sink.
func New(sink Sink, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		sink:    sink,
		logger:  logger.With(slog.String("component", "sender")),
		workers: make(map[string]*worker),
	}
}

// Enqueue queues an entry for its run. Returns false after Close.
func (s *Sender) Enqueue(e Entry) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	key := e.Project + "\x00" + e.Run
	w, ok := s.workers[key]
	if !ok {
		w = newWorker(s.sink, s.logger, e.Project, e.Run)
		s.workers[key] = w
	}
	s.mu.Unlock()

	w.enqueue(e)
	return true
}

// Flush forces an immediate flush of every run's pending entries and
// waits for the deliveries to finish.
func (s *Sender) Flush(ctx context.Context) {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		w.flush(ctx)
	}
}

// CloseRun flushes and stops the worker of a single run.
func (s *Sender) CloseRun(project, run string) {
	key := project + "\x00" + run
	s.mu.Lock()
	w, ok := s.workers[key]
	if ok {
		delete(s.workers, key)
	}
	s.mu.Unlock()

	if ok {
		w.close()
	}
}

// Close flushes all pending entries and stops every worker. Workers
// that do not drain within the close timeout are abandoned; their
// entries stay undelivered.
func (s *Sender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.workers = make(map[string]*worker)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, w := range workers {
			w.close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		s.logger.Warn("sender close timed out, abandoning pending entries")
	}
}

// worker drains one run's queue on a ticker.
type worker struct {
	sink    Sink
	logger  *slog.Logger
	project string
	run     string

	mu      sync.Mutex
	pending []Entry

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newWorker(sink Sink, logger *slog.Logger, project, run string) *worker {
	w := &worker{
		sink:    sink,
		logger:  logger.With(slog.String("project", project), slog.String("run", run)),
		project: project,
		run:     run,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) enqueue(e Entry) {
	w.mu.Lock()
	w.pending = append(w.pending, e)
	w.mu.Unlock()
}

func (w *worker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drain(context.Background())
		case <-w.kick:
			w.drain(context.Background())
		case <-w.stop:
			// Final drain before exit.
			w.drain(context.Background())
			return
		}
	}
}

// drain swaps the pending slice out and delivers it as one batch. On
// failure the entries go back to the head of the queue, ahead of
// anything enqueued during the attempt, so queue order survives.
func (w *worker) drain(ctx context.Context) {
	w.mu.Lock()
	entries := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	batch := Batch{Project: w.project, Run: w.run, Entries: entries}
	if err := w.sink.LogBulk(ctx, batch); err != nil {
		w.logger.Error("batch delivery failed, will retry",
			slog.Int("entries", len(entries)), slog.String("error", err.Error()))
		w.mu.Lock()
		w.pending = append(entries, w.pending...)
		w.mu.Unlock()
	}
}

// flush triggers drains and waits for the queue to empty. Because
// failed batches are re-queued, an empty queue means every entry was
// delivered. Gives up when the context expires, or after the close
// timeout against a sink that keeps failing.
func (w *worker) flush(ctx context.Context) {
	deadline := time.NewTimer(closeTimeout)
	defer deadline.Stop()

	for {
		w.mu.Lock()
		empty := len(w.pending) == 0
		w.mu.Unlock()
		if empty {
			return
		}

		select {
		case w.kick <- struct{}{}:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			w.logger.Warn("flush timed out with entries still pending")
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (w *worker) close() {
	close(w.stop)
	<-w.done
}
