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

// Package sysmon samples host resource utilization for a running
// experiment. Samples feed the run's system metrics table; a host
// without a readable metric simply omits the key.
package sysmon

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

const defaultInterval = 10 * time.Second

// Emit receives one telemetry sample.
type Emit func(metrics map[string]any)

// Sampler periodically collects host telemetry until stopped.
type Sampler struct {
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a sampler. interval <= 0 uses the default.
func New(interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		interval: interval,
		logger:   logger.With(slog.String("component", "sysmon")),
	}
}

// Start begins sampling in the background, calling emit on every tick.
func (s *Sampler) Start(emit Emit) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if sample := Collect(ctx); len(sample) > 0 {
					emit(sample)
				}
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit.
func (s *Sampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

// Collect gathers one telemetry sample. Unreadable metrics are skipped
// rather than failing the sample.
func Collect(ctx context.Context) map[string]any {
	sample := make(map[string]any)

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		sample["cpu_percent"] = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sample["memory_percent"] = vm.UsedPercent
		sample["memory_used_gb"] = float64(vm.Used) / (1 << 30)
		sample["memory_total_gb"] = float64(vm.Total) / (1 << 30)
	}

	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		sample["disk_percent"] = usage.UsedPercent
		sample["disk_used_gb"] = float64(usage.Used) / (1 << 30)
	}

	return sample
}
