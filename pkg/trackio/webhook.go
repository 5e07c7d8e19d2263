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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/trackio/trackio/internal/store"
)

// Discord embed colors per alert level.
var discordColors = map[string]int{
	store.AlertInfo:  0x3498db,
	store.AlertWarn:  0xf39c12,
	store.AlertError: 0xe74c3c,
}

var levelRank = map[string]int{
	store.AlertInfo:  0,
	store.AlertWarn:  1,
	store.AlertError: 2,
}

// webhookNotifier posts alert notifications to a configured webhook.
// Delivery is best effort: failures are logged and swallowed so an
// unreachable webhook never fails the alert call.
type webhookNotifier struct {
	url      string
	minLevel string
	client   *http.Client
	logger   *slog.Logger
}

func newWebhookNotifier(rawURL, minLevel string, client *http.Client, logger *slog.Logger) *webhookNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &webhookNotifier{
		url:      rawURL,
		minLevel: minLevel,
		client:   client,
		logger:   logger.With(slog.String("component", "webhook")),
	}
}

// Notify posts the alert when its level meets the minimum.
func (n *webhookNotifier) Notify(ctx context.Context, project, run string, a store.Alert) {
	if levelRank[a.Level] < levelRank[n.minLevel] {
		return
	}

	payload, err := n.buildPayload(project, run, a)
	if err != nil {
		n.logger.Warn("failed to build webhook payload", slog.String("error", err.Error()))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.logger.Warn("failed to build webhook request", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("webhook rejected alert",
			slog.Int("status", resp.StatusCode), slog.String("title", a.Title))
	}
}

// buildPayload shapes the notification for the webhook host: Slack
// blocks for hooks.slack.com, Discord embeds for discord.com webhooks,
// a flat JSON object for everything else.
func (n *webhookNotifier) buildPayload(project, run string, a store.Alert) ([]byte, error) {
	u, err := url.Parse(n.url)
	if err != nil {
		return nil, err
	}

	switch {
	case u.Host == "hooks.slack.com":
		return json.Marshal(slackPayload(project, run, a))
	case u.Host == "discord.com" && strings.HasPrefix(u.Path, "/api/webhooks"):
		return json.Marshal(discordPayload(project, run, a))
	default:
		return json.Marshal(map[string]any{
			"level":     a.Level,
			"title":     a.Title,
			"text":      a.Text,
			"project":   project,
			"run":       run,
			"step":      a.Step,
			"timestamp": a.Timestamp,
		})
	}
}

func slackPayload(project, run string, a store.Alert) map[string]any {
	text := fmt.Sprintf("*[%s] %s*", strings.ToUpper(a.Level), a.Title)
	if a.Text != "" {
		text += "\n" + a.Text
	}
	text += fmt.Sprintf("\n_%s / %s_", project, run)

	return map[string]any{
		"text": fmt.Sprintf("[%s] %s", strings.ToUpper(a.Level), a.Title),
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	}
}

func discordPayload(project, run string, a store.Alert) map[string]any {
	embed := map[string]any{
		"title":       a.Title,
		"description": a.Text,
		"color":       discordColors[a.Level],
		"fields": []map[string]any{
			{"name": "Project", "value": project, "inline": true},
			{"name": "Run", "value": run, "inline": true},
			{"name": "Level", "value": a.Level, "inline": true},
		},
	}
	return map[string]any{
		"embeds": []map[string]any{embed},
	}
}
