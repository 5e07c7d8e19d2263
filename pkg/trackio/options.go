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
	"log/slog"
	"net/http"
	"time"
)

// ResumeMode controls how Init treats an existing run name.
type ResumeMode string

const (
	// ResumeNever starts a fresh run, regenerating the name on collision.
	ResumeNever ResumeMode = "never"
	// ResumeAllow reuses the named run when it exists, creates otherwise.
	ResumeAllow ResumeMode = "allow"
	// ResumeMust requires the named run to exist already.
	ResumeMust ResumeMode = "must"
)

type initOptions struct {
	name            string
	config          map[string]any
	resume          ResumeMode
	spaceID         string
	datasetID       string
	dir             string
	httpClient      *http.Client
	systemMonitor   bool
	monitorInterval time.Duration
	webhookURL      string
	webhookMinLevel string
	logger          *slog.Logger
}

func defaultInitOptions() initOptions {
	return initOptions{
		resume:          ResumeNever,
		systemMonitor:   true,
		webhookMinLevel: "info",
	}
}

// Option configures Init.
type Option func(*initOptions)

// WithName sets an explicit run name instead of a generated one.
func WithName(name string) Option {
	return func(o *initOptions) { o.name = name }
}

// WithConfig records the run's hyperparameter configuration.
func WithConfig(config map[string]any) Option {
	return func(o *initOptions) { o.config = config }
}

// WithResume sets the resume behavior for an existing run name.
func WithResume(mode ResumeMode) Option {
	return func(o *initOptions) { o.resume = mode }
}

// WithSpaceID targets a remote dashboard space. Batches are mirrored to
// it through the durable buffer; empty keeps the run local-only.
func WithSpaceID(spaceID string) Option {
	return func(o *initOptions) { o.spaceID = spaceID }
}

// WithDatasetID names the remote dataset repository for snapshot
// mirroring.
func WithDatasetID(datasetID string) Option {
	return func(o *initOptions) { o.datasetID = datasetID }
}

// WithDir overrides the trackio root directory.
func WithDir(dir string) Option {
	return func(o *initOptions) { o.dir = dir }
}

// WithClient overrides the HTTP client used for the remote sink and
// webhooks.
func WithClient(hc *http.Client) Option {
	return func(o *initOptions) { o.httpClient = hc }
}

// WithSystemMonitor toggles the background host telemetry sampler.
// Enabled by default.
func WithSystemMonitor(enabled bool) Option {
	return func(o *initOptions) { o.systemMonitor = enabled }
}

// WithSystemMonitorInterval sets the telemetry sampling period.
func WithSystemMonitorInterval(interval time.Duration) Option {
	return func(o *initOptions) { o.monitorInterval = interval }
}

// WithWebhook posts alerts at or above minLevel to url. The payload
// shape adapts to the webhook host.
func WithWebhook(url, minLevel string) Option {
	return func(o *initOptions) {
		o.webhookURL = url
		if minLevel != "" {
			o.webhookMinLevel = minLevel
		}
	}
}

// WithLogger sets the logger for the run and its background workers.
func WithLogger(logger *slog.Logger) Option {
	return func(o *initOptions) { o.logger = logger }
}
