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

// Package config resolves trackio's runtime configuration from the
// environment and the optional settings file.
package config

import (
	"os"
	"path/filepath"
	"regexp"
)

// Environment variables recognized by trackio.
const (
	// EnvDir overrides the root directory for databases and locks.
	EnvDir = "TRACKIO_DIR"
	// EnvDatasetID names the remote dataset repository for snapshots.
	EnvDatasetID = "TRACKIO_DATASET_ID"
	// EnvSpaceRepo is the hosted-mode space repository name.
	EnvSpaceRepo = "SPACE_REPO_NAME"
	// EnvSpaceAuthor is the hosted-mode user identity.
	EnvSpaceAuthor = "SPACE_AUTHOR_NAME"
	// EnvToken is the credential for the remote mirror and sink.
	EnvToken = "HF_TOKEN"
	// EnvPersistentStorage switches the root to a hosted persistent volume.
	// The spelling matches the hosted platform's variable.
	EnvPersistentStorage = "PERSISTANT_STORAGE_ENABLED"
	// EnvPlotOrder is a dashboard hint persisted in project metadata.
	EnvPlotOrder = "TRACKIO_PLOT_ORDER"
	// EnvColorPalette is a dashboard hint persisted in project metadata.
	EnvColorPalette = "TRACKIO_COLOR_PALETTE"
)

// persistentStorageDir is the hosted persistent volume mount point.
const persistentStorageDir = "/data/trackio"

var projectNameRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Config is the resolved runtime configuration.
type Config struct {
	// Dir is the root directory holding per-project databases, locks
	// and parquet snapshots.
	Dir string

	// MediaDir is the root directory for media artifacts.
	MediaDir string

	// DatasetID is the remote dataset repository for snapshot mirroring,
	// empty when mirroring is disabled.
	DatasetID string

	// SpaceID is the hosted dashboard space, empty in local mode.
	SpaceID string

	// SpaceAuthor is the hosted-mode user identity, empty in local mode.
	SpaceAuthor string

	// Token is the bearer credential for the remote sink and mirror.
	Token string

	// PlotOrder and ColorPalette are dashboard hints exposed through
	// project metadata; the core does not interpret them.
	PlotOrder    string
	ColorPalette string
}

// FromEnv resolves the configuration from environment variables.
func FromEnv() (*Config, error) {
	dir := os.Getenv(EnvDir)
	if dir == "" {
		if os.Getenv(EnvPersistentStorage) == "true" || os.Getenv(EnvPersistentStorage) == "1" {
			dir = persistentStorageDir
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			dir = filepath.Join(home, ".cache", "trackio")
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	cfg := &Config{
		Dir:          dir,
		MediaDir:     filepath.Join(dir, "media"),
		DatasetID:    os.Getenv(EnvDatasetID),
		SpaceID:      os.Getenv(EnvSpaceRepo),
		SpaceAuthor:  os.Getenv(EnvSpaceAuthor),
		Token:        os.Getenv(EnvToken),
		PlotOrder:    os.Getenv(EnvPlotOrder),
		ColorPalette: os.Getenv(EnvColorPalette),
	}

	return cfg, nil
}

// SanitizeProject strips characters outside [A-Za-z0-9_-] from a project
// name. An empty result falls back to "default".
func SanitizeProject(name string) string {
	cleaned := projectNameRe.ReplaceAllString(name, "")
	if cleaned == "" {
		return "default"
	}
	return cleaned
}

// DatabasePath returns the embedded database file for a project.
func (c *Config) DatabasePath(project string) string {
	return filepath.Join(c.Dir, SanitizeProject(project)+".db")
}

// LockPath returns the advisory lockfile for a project.
func (c *Config) LockPath(project string) string {
	return filepath.Join(c.Dir, SanitizeProject(project)+".lock")
}

// SnapshotPath returns the parquet snapshot file for a project table.
// suffix is empty for metrics, "_system" or "_configs" otherwise.
func (c *Config) SnapshotPath(project, suffix string) string {
	return filepath.Join(c.Dir, SanitizeProject(project)+suffix+".parquet")
}
