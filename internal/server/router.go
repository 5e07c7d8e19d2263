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

// Package server provides the HTTP API of the hosted trackio instance:
// metric ingest, artifact upload, and the read endpoints the dashboard
// and CLI consume.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trackio/trackio/internal/codec"
	"github.com/trackio/trackio/internal/remote"
	"github.com/trackio/trackio/internal/store"
)

// maxArtifactSize caps a single artifact upload.
const maxArtifactSize = 100 << 20

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version string

	// Token, when set, is required as a bearer token on mutating
	// endpoints. Read endpoints stay open.
	Token string

	// MediaRoot receives uploaded artifacts.
	MediaRoot string
}

// Router wraps an http.ServeMux with request logging and auth.
type Router struct {
	mux    *http.ServeMux
	config RouterConfig
	store  *store.Store
	logger *slog.Logger
}

// NewRouter creates the API router over a store.
func NewRouter(cfg RouterConfig, st *store.Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		store:  st,
		logger: logger.With(slog.String("component", "server")),
	}

	r.mux.HandleFunc("POST "+remote.BulkLogPath, r.requireAuth(r.handleBulkLog))
	r.mux.HandleFunc("PUT "+remote.ArtifactPathPrefix+"{path...}", r.requireAuth(r.handleArtifactUpload))
	r.mux.HandleFunc("PUT /api/v1/projects/{project}/reports/{report}", r.requireAuth(r.handleSaveReport))

	r.mux.HandleFunc("GET /api/v1/projects", r.handleProjects)
	r.mux.HandleFunc("GET /api/v1/projects/{project}/reports", r.handleReports)
	r.mux.HandleFunc("GET /api/v1/projects/{project}/reports/{report}", r.handleReport)
	r.mux.HandleFunc("GET /api/v1/projects/{project}/runs", r.handleRuns)
	r.mux.HandleFunc("GET /api/v1/projects/{project}/runs/{run}/logs", r.handleLogs)
	r.mux.HandleFunc("GET /api/v1/projects/{project}/runs/{run}/system-logs", r.handleSystemLogs)
	r.mux.HandleFunc("GET /api/v1/projects/{project}/runs/{run}/alerts", r.handleAlerts)
	r.mux.HandleFunc("GET /api/v1/projects/{project}/runs/{run}/config", r.handleConfig)

	r.mux.HandleFunc("GET /healthz", r.handleHealth)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// ServeHTTP implements http.Handler with request logging.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		requestDuration.WithLabelValues(req.Method, req.URL.Path).Observe(elapsed.Seconds())
		r.logger.Debug("request completed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		)
	}()

	r.mux.ServeHTTP(w, req)
}

// requireAuth enforces the bearer token when one is configured.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.config.Token != "" {
			auth := req.Header.Get("Authorization")
			if auth != "Bearer "+r.config.Token {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next(w, req)
	}
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "trackio",
		"version": r.config.Version,
	})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	projects, err := r.store.Projects()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"projects": len(projects),
	})
}

// handleBulkLog accepts a metric batch and stores it. Entries carrying
// log IDs deduplicate on replay, so a retried batch is harmless.
func (r *Router) handleBulkLog(w http.ResponseWriter, req *http.Request) {
	var payload remote.BulkRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		ingestErrors.WithLabelValues("decode").Inc()
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if payload.Project == "" || payload.Run == "" {
		ingestErrors.WithLabelValues("validation").Inc()
		writeError(w, http.StatusBadRequest, "project and run are required")
		return
	}
	if len(payload.Entries) == 0 {
		writeJSON(w, http.StatusOK, map[string]int{"accepted": 0})
		return
	}

	metricEntries, systemEntries := splitEntries(payload.Entries)

	if len(metricEntries) > 0 {
		opts := bulkOptions(metricEntries, payload.Config)
		if err := r.store.BulkLog(req.Context(), payload.Project, payload.Run, entryMetrics(metricEntries), opts); err != nil {
			ingestErrors.WithLabelValues("store").Inc()
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		rowsIngested.WithLabelValues(payload.Project, store.TableMetrics).Add(float64(len(metricEntries)))
	}

	if len(systemEntries) > 0 {
		opts := bulkOptions(systemEntries, nil)
		opts.Steps = nil
		if err := r.store.BulkLogSystem(req.Context(), payload.Project, payload.Run, entryMetrics(systemEntries), opts); err != nil {
			ingestErrors.WithLabelValues("store").Inc()
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		rowsIngested.WithLabelValues(payload.Project, store.TableSystemMetrics).Add(float64(len(systemEntries)))
	}

	writeJSON(w, http.StatusOK, map[string]int{"accepted": len(payload.Entries)})
}

func splitEntries(entries []remote.BulkEntry) (metrics, system []remote.BulkEntry) {
	for _, e := range entries {
		if e.System {
			system = append(system, e)
		} else {
			metrics = append(metrics, e)
		}
	}
	return metrics, system
}

func entryMetrics(entries []remote.BulkEntry) []map[string]any {
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = e.Metrics
	}
	return out
}

// bulkOptions converts wire entries into store options. Steps are
// honored only when every entry carries one; a mixed batch falls back
// to server-assigned steps.
func bulkOptions(entries []remote.BulkEntry, config map[string]any) store.BulkOptions {
	opts := store.BulkOptions{Config: config}

	allSteps := true
	allIDs := true
	anyTS := false
	for _, e := range entries {
		if e.Step == nil {
			allSteps = false
		}
		if e.LogID == "" {
			allIDs = false
		}
		if e.Timestamp != "" {
			anyTS = true
		}
	}

	if allSteps {
		opts.Steps = make([]int, len(entries))
		for i, e := range entries {
			opts.Steps[i] = *e.Step
		}
	}
	if allIDs {
		opts.LogIDs = make([]string, len(entries))
		for i, e := range entries {
			opts.LogIDs[i] = e.LogID
		}
	}
	if anyTS {
		opts.Timestamps = make([]time.Time, len(entries))
		now := time.Now()
		for i, e := range entries {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err != nil {
				ts = now
			}
			opts.Timestamps[i] = ts
		}
	}
	return opts
}

// handleArtifactUpload writes an uploaded artifact under the media
// root. The path is the client's store-relative descriptor path.
func (r *Router) handleArtifactUpload(w http.ResponseWriter, req *http.Request) {
	rel := req.PathValue("path")
	if rel == "" || strings.Contains(rel, "..") || strings.HasPrefix(rel, "/") {
		writeError(w, http.StatusBadRequest, "invalid artifact path")
		return
	}
	if r.config.MediaRoot == "" {
		writeError(w, http.StatusNotImplemented, "artifact storage not configured")
		return
	}

	abs := filepath.Join(r.config.MediaRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tmp := abs + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := io.Copy(f, io.LimitReader(req.Body, maxArtifactSize)); err != nil {
		f.Close()
		os.Remove(tmp)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	artifactsReceived.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"path": rel})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	projects, err := r.store.Projects()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if projects == nil {
		projects = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"projects": projects})
}

func (r *Router) handleRuns(w http.ResponseWriter, req *http.Request) {
	runs, err := r.store.GetRuns(req.Context(), req.PathValue("project"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"runs": runs})
}

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	logs, err := r.store.GetLogs(req.Context(), req.PathValue("project"), req.PathValue("run"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": sanitizeLogs(logs)})
}

func (r *Router) handleSystemLogs(w http.ResponseWriter, req *http.Request) {
	logs, err := r.store.GetSystemLogs(req.Context(), req.PathValue("project"), req.PathValue("run"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": sanitizeLogs(logs)})
}

func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	alerts, err := r.store.GetAlerts(req.Context(), req.PathValue("project"), req.PathValue("run"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type alertView struct {
		Run       string `json:"run"`
		Level     string `json:"level"`
		Title     string `json:"title"`
		Text      string `json:"text,omitempty"`
		Step      *int   `json:"step,omitempty"`
		Timestamp string `json:"timestamp"`
	}
	views := make([]alertView, len(alerts))
	for i, a := range alerts {
		views[i] = alertView{
			Run: a.Run, Level: a.Level, Title: a.Title,
			Text: a.Text, Step: a.Step, Timestamp: a.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": views})
}

func (r *Router) handleConfig(w http.ResponseWriter, req *http.Request) {
	cfg, ok, err := r.store.GetConfig(req.Context(), req.PathValue("project"), req.PathValue("run"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no config recorded")
		return
	}
	enc, err := codec.EncodeMetrics(cfg)
	if err != nil {
		enc = cfg
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": enc})
}

// handleSaveReport upserts a named report document for a project.
func (r *Router) handleSaveReport(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	name := req.PathValue("report")
	if err := r.store.SaveReport(req.Context(), req.PathValue("project"), name, payload.Content); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"report": name})
}

func (r *Router) handleReports(w http.ResponseWriter, req *http.Request) {
	reports, err := r.store.ListReports(req.Context(), req.PathValue("project"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"reports": reports})
}

func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("report")
	content, ok, err := r.store.GetReport(req.Context(), req.PathValue("project"), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no such report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"report": name, "content": content})
}

// sanitizeLogs re-encodes rows for the wire so non-finite floats become
// their string markers; encoding/json cannot represent them.
func sanitizeLogs(logs []map[string]any) []map[string]any {
	out := make([]map[string]any, len(logs))
	for i, m := range logs {
		enc, err := codec.EncodeMetrics(m)
		if err != nil {
			enc = m
		}
		out[i] = enc
	}
	return out
}
