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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	in := &Settings{
		DatasetID:       "user/dataset",
		SpaceID:         "user/space",
		WebhookURL:      "https://hooks.slack.com/services/T0/B0/xyz",
		WebhookMinLevel: "warn",
		ColorPalette:    "viridis",
	}
	require.NoError(t, SaveSettings(dir, in))

	out, err := LoadSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadSettings_MissingFile(t *testing.T) {
	out, err := LoadSettings(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, &Settings{}, out)
}

func TestLoadSettings_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, settingsFile), []byte("{not yaml"), 0o600))

	_, err := LoadSettings(dir)
	assert.Error(t, err)
}

func TestSettingsApply_EnvWins(t *testing.T) {
	s := &Settings{DatasetID: "settings/dataset", SpaceID: "settings/space"}
	cfg := &Config{DatasetID: "env/dataset"}

	s.Apply(cfg)

	assert.Equal(t, "env/dataset", cfg.DatasetID, "environment value must not be overwritten")
	assert.Equal(t, "settings/space", cfg.SpaceID)
}

func TestSanitizeProject(t *testing.T) {
	cases := map[string]string{
		"my-project":      "my-project",
		"weird name!":     "weirdname",
		"../../etc":       "etc",
		"":                "default",
		"***":             "default",
		"under_score_ok2": "under_score_ok2",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeProject(in), "input %q", in)
	}
}
