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
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/trackio/trackio/internal/store"
)

func testAlert() store.Alert {
	return store.Alert{
		Run:       "run-1",
		Level:     store.AlertError,
		Title:     "loss exploded",
		Text:      "nan at step 40",
		Timestamp: "2026-01-02T03:04:05Z",
	}
}

func TestWebhookPayload_Slack(t *testing.T) {
	n := newWebhookNotifier("https://hooks.slack.com/services/T0/B0/xyz", "info", nil, slog.Default())

	payload, err := n.buildPayload("demo", "run-1", testAlert())
	if err != nil {
		t.Fatalf("buildPayload: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	blocks, ok := body["blocks"].([]any)
	if !ok || len(blocks) == 0 {
		t.Fatalf("no blocks in slack payload: %v", body)
	}
	section := blocks[0].(map[string]any)
	if section["type"] != "section" {
		t.Errorf("block type = %v", section["type"])
	}
}

func TestWebhookPayload_Discord(t *testing.T) {
	n := newWebhookNotifier("https://discord.com/api/webhooks/123/abc", "info", nil, slog.Default())

	payload, err := n.buildPayload("demo", "run-1", testAlert())
	if err != nil {
		t.Fatalf("buildPayload: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	embeds, ok := body["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("no embeds in discord payload: %v", body)
	}
	embed := embeds[0].(map[string]any)
	if embed["title"] != "loss exploded" {
		t.Errorf("embed title = %v", embed["title"])
	}
	if embed["color"] != float64(discordColors[store.AlertError]) {
		t.Errorf("embed color = %v", embed["color"])
	}
}

func TestWebhookPayload_Generic(t *testing.T) {
	n := newWebhookNotifier("https://example.com/hook", "info", nil, slog.Default())

	payload, err := n.buildPayload("demo", "run-1", testAlert())
	if err != nil {
		t.Fatalf("buildPayload: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["level"] != "error" || body["title"] != "loss exploded" || body["project"] != "demo" {
		t.Errorf("generic payload = %v", body)
	}
}

func TestWebhookNotify_MinLevelFilter(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer srv.Close()

	n := newWebhookNotifier(srv.URL, store.AlertWarn, srv.Client(), slog.Default())

	info := testAlert()
	info.Level = store.AlertInfo
	n.Notify(context.Background(), "demo", "run-1", info)

	warn := testAlert()
	warn.Level = store.AlertWarn
	n.Notify(context.Background(), "demo", "run-1", warn)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("webhook calls = %d, want 1 (info filtered)", calls)
	}
}

func TestWebhookNotify_FailureSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := newWebhookNotifier(srv.URL, "info", srv.Client(), slog.Default())
	// Must not panic or propagate.
	n.Notify(context.Background(), "demo", "run-1", testAlert())
}
