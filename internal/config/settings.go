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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds persisted user defaults stored alongside the project
// databases. Environment variables take precedence over settings values.
type Settings struct {
	// DatasetID is the default remote dataset repository for snapshots.
	DatasetID string `yaml:"dataset_id,omitempty"`

	// SpaceID is the default remote dashboard space.
	SpaceID string `yaml:"space_id,omitempty"`

	// WebhookURL receives alert notifications when set.
	WebhookURL string `yaml:"webhook_url,omitempty"`

	// WebhookMinLevel is the minimum alert level forwarded to the
	// webhook (info, warn, error). Default: warn.
	WebhookMinLevel string `yaml:"webhook_min_level,omitempty"`

	// Theme and ColorPalette are dashboard hints.
	Theme        string `yaml:"theme,omitempty"`
	ColorPalette string `yaml:"color_palette,omitempty"`
}

// settingsFile is the filename under the trackio dir.
const settingsFile = "settings.yaml"

// LoadSettings reads the settings file from dir. A missing file yields
// zero-value settings, not an error.
func LoadSettings(dir string) (*Settings, error) {
	path := filepath.Join(dir, settingsFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	return &s, nil
}

// SaveSettings writes the settings file atomically via a temp file rename.
func SaveSettings(dir string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	path := filepath.Join(dir, settingsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Apply overlays non-empty settings values onto a Config whose
// corresponding fields are unset.
func (s *Settings) Apply(cfg *Config) {
	if cfg.DatasetID == "" {
		cfg.DatasetID = s.DatasetID
	}
	if cfg.SpaceID == "" {
		cfg.SpaceID = s.SpaceID
	}
	if cfg.ColorPalette == "" {
		cfg.ColorPalette = s.ColorPalette
	}
}
