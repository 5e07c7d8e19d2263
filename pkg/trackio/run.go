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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/trackio/trackio/internal/media"
	"github.com/trackio/trackio/internal/sender"
	"github.com/trackio/trackio/internal/store"
	"github.com/trackio/trackio/internal/sysmon"
	trkerrors "github.com/trackio/trackio/pkg/errors"
)

// Run lifecycle states.
const (
	stateInitializing int32 = iota
	stateActive
	stateFinishing
	stateFinished
)

// reservedKeys are metric keys owned by the storage schema. User metrics
// colliding with them are renamed with a "__" prefix.
var reservedKeys = map[string]bool{
	"project":   true,
	"run":       true,
	"timestamp": true,
	"step":      true,
	"time":      true,
}

// Run is one tracked experiment. All methods are safe for concurrent
// use; Log and LogSystem never perform database or network I/O on the
// calling goroutine.
type Run struct {
	// Project and Name identify the run in the store.
	Project string
	Name    string

	store   *store.Store
	media   *media.Store
	sender  *sender.Sender
	sampler *sysmon.Sampler
	webhook *webhookNotifier
	logger  *slog.Logger
	spaceID string

	state atomic.Int32

	// pendingConfig rides along with the first logged entry so a remote
	// sink receives the config without a dedicated call.
	configMu      sync.Mutex
	pendingConfig map[string]any

	// lastTS enforces non-decreasing timestamps within the process.
	tsMu   sync.Mutex
	lastTS time.Time

	renameWarn sync.Once
}

// Log records a metrics row. step nil means the store assigns the next
// step for the run. Returns ErrRunFinished once Finish has begun.
func (r *Run) Log(metrics map[string]any, step *int) error {
	return r.enqueue(metrics, step, false)
}

// LogSystem records a host telemetry row. System rows carry no step.
func (r *Run) LogSystem(metrics map[string]any) error {
	return r.enqueue(metrics, nil, true)
}

func (r *Run) enqueue(metrics map[string]any, step *int, system bool) error {
	if r.state.Load() != stateActive {
		return trkerrors.ErrRunFinished
	}

	cleaned, err := r.validateKeys(metrics)
	if err != nil {
		return err
	}

	entry := sender.Entry{
		Project:   r.Project,
		Run:       r.Name,
		Metrics:   cleaned,
		Step:      step,
		Timestamp: r.nextTimestamp(),
		LogID:     uuid.NewString(),
		System:    system,
	}

	r.configMu.Lock()
	if r.pendingConfig != nil {
		entry.Config = r.pendingConfig
		r.pendingConfig = nil
	}
	r.configMu.Unlock()

	if !r.sender.Enqueue(entry) {
		return trkerrors.ErrRunFinished
	}
	return nil
}

// validateKeys enforces the reserved-key rules: reserved names are
// renamed with a "__" prefix, user keys already carrying the prefix are
// rejected.
func (r *Run) validateKeys(metrics map[string]any) (map[string]any, error) {
	renamed := false
	for k := range metrics {
		if strings.HasPrefix(k, "__") {
			return nil, &trkerrors.InvalidKeyError{
				Key:    k,
				Reason: "the __ prefix is reserved for internal keys",
			}
		}
		if reservedKeys[k] {
			renamed = true
		}
	}
	if !renamed {
		return metrics, nil
	}

	out := make(map[string]any, len(metrics))
	for k, v := range metrics {
		if reservedKeys[k] {
			out["__"+k] = v
		} else {
			out[k] = v
		}
	}
	r.renameWarn.Do(func() {
		r.logger.Warn("reserved metric keys renamed with __ prefix",
			slog.String("run", r.Name))
	})
	return out, nil
}

// nextTimestamp returns a wall-clock time that never decreases within
// the process, so same-millisecond logs keep their call order.
func (r *Run) nextTimestamp() time.Time {
	r.tsMu.Lock()
	defer r.tsMu.Unlock()

	ts := time.Now()
	if !ts.After(r.lastTS) {
		ts = r.lastTS.Add(time.Microsecond)
	}
	r.lastTS = ts
	return ts
}

// AlertOptions describes one alert.
type AlertOptions struct {
	// Level is one of "info", "warn", "error". Empty means info.
	Level string
	Title string
	Text  string
	Step  *int
}

// Alert appends an alert row and notifies the webhook when one is
// configured. Webhook failures never fail the call.
func (r *Run) Alert(ctx context.Context, opts AlertOptions) error {
	if r.state.Load() != stateActive {
		return trkerrors.ErrRunFinished
	}
	if opts.Level == "" {
		opts.Level = store.AlertInfo
	}

	alert := store.Alert{
		Run:     r.Name,
		Level:   opts.Level,
		Title:   opts.Title,
		Text:    opts.Text,
		Step:    opts.Step,
		AlertID: uuid.NewString(),
	}
	if err := r.store.AddAlert(ctx, r.Project, alert); err != nil {
		return err
	}

	if r.webhook != nil {
		r.webhook.Notify(ctx, r.Project, r.Name, alert)
	}
	return nil
}

// SaveArtifact stores a media payload and returns the descriptor map to
// embed in a Log call. In remote mode the artifact is also queued for
// upload to the space.
func (r *Run) SaveArtifact(ctx context.Context, kind media.Kind, payload []byte, format string, step int, opts media.SaveOptions) (map[string]any, error) {
	desc, err := r.media.Save(kind, payload, format, r.Project, r.Name, step, opts)
	if err != nil {
		return nil, err
	}

	if sink, ok := r.remoteSink(); ok {
		abs, resolveErr := r.media.Resolve(desc)
		if resolveErr == nil {
			err := r.store.AddPendingUpload(ctx, r.Project, store.PendingUpload{
				SpaceID:      sink,
				Run:          r.Name,
				Step:         &step,
				FilePath:     abs,
				RelativePath: desc.FilePath,
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return desc.ToMap(), nil
}

// remoteSink reports the space ID when the run mirrors to a remote.
func (r *Run) remoteSink() (string, bool) {
	if r.spaceID == "" {
		return "", false
	}
	return r.spaceID, true
}

// Finish flushes pending batches, stops the telemetry sampler and
// transitions the run to finished. Safe to call more than once.
func (r *Run) Finish(ctx context.Context) error {
	if !r.state.CompareAndSwap(stateActive, stateFinishing) {
		return nil
	}

	if r.sampler != nil {
		r.sampler.Stop()
	}

	r.sender.Flush(ctx)
	r.sender.CloseRun(r.Project, r.Name)

	if err := r.store.Close(); err != nil {
		r.logger.Warn("failed to close store", slog.String("error", err.Error()))
	}

	r.state.Store(stateFinished)
	clearCurrent(r)

	r.logger.Info("run finished",
		slog.String("project", r.Project), slog.String("run", r.Name))
	return nil
}

// Finished reports whether the run has completed its lifecycle.
func (r *Run) Finished() bool {
	return r.state.Load() == stateFinished
}
