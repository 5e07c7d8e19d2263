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

// Package remote delivers metric batches to a trackio server over HTTP.
// The client performs no retries; callers classify failures through
// SinkError and decide whether to replay.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/trackio/trackio/internal/codec"
	"github.com/trackio/trackio/internal/sender"
	trkerrors "github.com/trackio/trackio/pkg/errors"
	"github.com/trackio/trackio/pkg/httpclient"
)

// BulkLogPath is the ingest endpoint for metric batches.
const BulkLogPath = "/api/v1/logs/bulk"

// ArtifactPathPrefix is the ingest endpoint for media payloads. The
// artifact's store-relative path follows the prefix.
const ArtifactPathPrefix = "/api/v1/artifacts/"

// BulkEntry is one metric record on the wire.
type BulkEntry struct {
	Metrics   map[string]any `json:"metrics"`
	Step      *int           `json:"step,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	LogID     string         `json:"log_id,omitempty"`
	System    bool           `json:"system,omitempty"`
}

// BulkRequest is the payload of POST /api/v1/logs/bulk.
type BulkRequest struct {
	Project string         `json:"project"`
	Run     string         `json:"run"`
	Entries []BulkEntry    `json:"entries"`
	Config  map[string]any `json:"config,omitempty"`
	SpaceID string         `json:"space_id,omitempty"`
}

// Client posts batches to one remote server.
type Client struct {
	baseURL string
	token   string
	spaceID string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithSpaceID tags every request with the sink identifier used by the
// durable buffer.
func WithSpaceID(spaceID string) Option {
	return func(c *Client) { c.spaceID = spaceID }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the server at baseURL. The default
// HTTP client does not retry; replay after failure is the reconciler's
// responsibility.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.UserAgent = "trackio-remote/1.0"
	hc, err := httpclient.New(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{baseURL: baseURL, http: hc}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LogBulk implements sender.Sink. Each entry keeps its queue-assigned
// log ID so the server deduplicates replays.
func (c *Client) LogBulk(ctx context.Context, batch sender.Batch) error {
	req := BulkRequest{
		Project: batch.Project,
		Run:     batch.Run,
		Entries: make([]BulkEntry, 0, len(batch.Entries)),
		SpaceID: c.spaceID,
	}
	for _, e := range batch.Entries {
		// Non-finite floats are replaced with their string markers here,
		// since encoding/json rejects them.
		metrics, err := codec.EncodeMetrics(e.Metrics)
		if err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}

		entry := BulkEntry{
			Metrics: metrics,
			Step:    e.Step,
			LogID:   e.LogID,
			System:  e.System,
		}
		if !e.Timestamp.IsZero() {
			entry.Timestamp = e.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		if e.Config != nil {
			cfg, err := codec.EncodeMetrics(e.Config)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			req.Config = cfg
		}
		req.Entries = append(req.Entries, entry)
	}

	return c.post(ctx, BulkLogPath, req)
}

// UploadArtifact sends a media payload to the server under its
// store-relative path. Re-uploads overwrite the same path, so replays
// are idempotent.
func (c *Client) UploadArtifact(ctx context.Context, relPath, absPath string) error {
	payload, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+ArtifactPathPrefix+relPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &trkerrors.SinkError{Op: ArtifactPathPrefix, Transient: true, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &trkerrors.SinkError{
		Op:         ArtifactPathPrefix,
		StatusCode: resp.StatusCode,
		Transient:  transientStatus(resp.StatusCode),
		Cause:      fmt.Errorf("server responded %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &trkerrors.SinkError{Op: path, Transient: true, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &trkerrors.SinkError{
		Op:         path,
		StatusCode: resp.StatusCode,
		Transient:  transientStatus(resp.StatusCode),
		Cause:      fmt.Errorf("server responded %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
	}
}

// transientStatus reports whether a status is worth replaying. Client
// errors other than 408 and 429 are permanent.
func transientStatus(statusCode int) bool {
	switch {
	case statusCode >= 500:
		return true
	case statusCode == http.StatusRequestTimeout:
		return true
	case statusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
