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

// Package trackio is the client library for experiment tracking: Init a
// run, Log metrics against it, Finish it. Metrics are committed to a
// per-project embedded database and optionally mirrored to a hosted
// dashboard space with local durability across network failures.
package trackio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/trackio/trackio/internal/config"
	"github.com/trackio/trackio/internal/media"
	"github.com/trackio/trackio/internal/remote"
	"github.com/trackio/trackio/internal/sender"
	"github.com/trackio/trackio/internal/store"
	"github.com/trackio/trackio/internal/sysmon"
	trkerrors "github.com/trackio/trackio/pkg/errors"
)

// ErrNoActiveRun is returned by the package-level operations when no run
// has been initialized in this process.
var ErrNoActiveRun = errors.New("no active run: call Init first")

// currentMu guards the process-wide ambient run set by Init and cleared
// by Finish. Nesting is undefined: a second Init replaces the slot.
var (
	currentMu  sync.Mutex
	currentRun *Run
)

// Init creates or resumes a run in project and makes it the ambient
// current run.
func Init(ctx context.Context, project string, opts ...Option) (*Run, error) {
	o := defaultInitOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration: %w", err)
	}
	if o.dir != "" {
		cfg.Dir = o.dir
		cfg.MediaDir = filepath.Join(o.dir, "media")
	}

	settings, err := config.LoadSettings(cfg.Dir)
	if err != nil {
		return nil, err
	}
	settings.Apply(cfg)
	if o.spaceID == "" {
		o.spaceID = cfg.SpaceID
	}
	if o.datasetID != "" {
		cfg.DatasetID = o.datasetID
	}
	if o.webhookURL == "" && settings.WebhookURL != "" {
		o.webhookURL = settings.WebhookURL
		if settings.WebhookMinLevel != "" {
			o.webhookMinLevel = settings.WebhookMinLevel
		}
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(cfg.Dir, cfg.MediaDir, logger)
	if err != nil {
		return nil, err
	}

	name, err := resolveName(ctx, st, project, cfg, o)
	if err != nil {
		return nil, err
	}

	r := &Run{
		Project: project,
		Name:    name,
		store:   st,
		media:   media.NewStore(cfg.MediaDir),
		logger:  logger.With(slog.String("component", "run")),
		spaceID: o.spaceID,
	}

	sink, err := buildSink(st, cfg, o, r.logger)
	if err != nil {
		return nil, err
	}
	r.sender = sender.New(sink, logger)

	if o.webhookURL != "" {
		r.webhook = newWebhookNotifier(o.webhookURL, o.webhookMinLevel, o.httpClient, logger)
	}

	if o.config != nil {
		if err := st.SetConfig(ctx, project, name, o.config); err != nil {
			return nil, err
		}
		r.configMu.Lock()
		r.pendingConfig = o.config
		r.configMu.Unlock()
	}

	r.state.Store(stateActive)

	if o.systemMonitor {
		r.sampler = sysmon.New(o.monitorInterval, logger)
		r.sampler.Start(func(sample map[string]any) {
			// Best effort: a finished run drops late samples.
			_ = r.LogSystem(sample)
		})
	}

	if cfg.DatasetID != "" {
		startSnapshotter(ctx, cfg, st, project, logger)
	}

	currentMu.Lock()
	currentRun = r
	currentMu.Unlock()

	logger.Info("run initialized",
		slog.String("project", project), slog.String("run", name))
	return r, nil
}

// resolveName applies the resume semantics to pick the run name.
func resolveName(ctx context.Context, st *store.Store, project string, cfg *config.Config, o initOptions) (string, error) {
	name := o.name

	switch o.resume {
	case ResumeMust:
		if name == "" {
			return "", fmt.Errorf("resume=must requires an explicit run name")
		}
		exists, err := st.RunExists(ctx, project, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", &trkerrors.RunNotFoundError{Project: project, Run: name}
		}
		return name, nil

	case ResumeAllow:
		if name == "" {
			name = freshName(ctx, st, project, cfg)
		}
		return name, nil

	default: // ResumeNever
		if name == "" {
			return freshName(ctx, st, project, cfg), nil
		}
		exists, err := st.RunExists(ctx, project, name)
		if err != nil {
			return "", err
		}
		if exists {
			return freshName(ctx, st, project, cfg), nil
		}
		return name, nil
	}
}

// freshName generates a run name not yet present in the project.
func freshName(ctx context.Context, st *store.Store, project string, cfg *config.Config) string {
	for i := 0; i < 100; i++ {
		var name string
		if cfg.SpaceAuthor != "" {
			name = hostedName(cfg.SpaceAuthor)
		} else {
			name = generateName(project)
		}
		exists, err := st.RunExists(ctx, project, name)
		if err != nil || !exists {
			return name
		}
	}
	// The word lists make 100 consecutive collisions implausible.
	return generateName(project)
}

// buildSink picks local-only or durable remote delivery.
func buildSink(st *store.Store, cfg *config.Config, o initOptions, logger *slog.Logger) (sender.Sink, error) {
	if o.spaceID == "" {
		return &localSink{store: st}, nil
	}

	clientOpts := []remote.Option{
		remote.WithSpaceID(o.spaceID),
	}
	if cfg.Token != "" {
		clientOpts = append(clientOpts, remote.WithToken(cfg.Token))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, remote.WithHTTPClient(o.httpClient))
	}

	client, err := remote.NewClient(spaceURL(o.spaceID), clientOpts...)
	if err != nil {
		return nil, err
	}
	return &durableSink{
		store:   st,
		client:  client,
		spaceID: o.spaceID,
		logger:  logger,
	}, nil
}

// spaceURL maps a space ID to its serving URL. IDs that are already
// URLs pass through, "user/space" becomes the hosted subdomain form.
func spaceURL(spaceID string) string {
	if strings.HasPrefix(spaceID, "http://") || strings.HasPrefix(spaceID, "https://") {
		return strings.TrimSuffix(spaceID, "/")
	}
	host := strings.ReplaceAll(spaceID, "/", "-")
	host = strings.ReplaceAll(host, "_", "-")
	return "https://" + strings.ToLower(host) + ".hf.space"
}

// clearCurrent drops the ambient slot when it still points at r.
func clearCurrent(r *Run) {
	currentMu.Lock()
	if currentRun == r {
		currentRun = nil
	}
	currentMu.Unlock()
}

func current() (*Run, error) {
	currentMu.Lock()
	defer currentMu.Unlock()
	if currentRun == nil {
		return nil, ErrNoActiveRun
	}
	return currentRun, nil
}

// Log records metrics against the ambient current run.
func Log(metrics map[string]any, step *int) error {
	r, err := current()
	if err != nil {
		return err
	}
	return r.Log(metrics, step)
}

// LogSystem records host telemetry against the ambient current run.
func LogSystem(metrics map[string]any) error {
	r, err := current()
	if err != nil {
		return err
	}
	return r.LogSystem(metrics)
}

// Alert raises an alert on the ambient current run.
func Alert(ctx context.Context, opts AlertOptions) error {
	r, err := current()
	if err != nil {
		return err
	}
	return r.Alert(ctx, opts)
}

// Finish completes the ambient current run and clears the slot.
func Finish(ctx context.Context) error {
	r, err := current()
	if err != nil {
		return err
	}
	return r.Finish(ctx)
}
