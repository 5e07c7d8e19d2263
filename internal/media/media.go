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

// Package media persists artifact payloads on a content-addressed
// filesystem layout and produces the descriptors embedded in metrics.
package media

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/trackio/trackio/internal/config"
	trkerrors "github.com/trackio/trackio/pkg/errors"
)

// Kind identifies the artifact type carried by a descriptor.
type Kind string

const (
	KindImage     Kind = "image"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindMarkdown  Kind = "markdown"
	KindHistogram Kind = "histogram"
	KindTable     Kind = "table"
)

// Descriptor is the JSON-embeddable reference to a stored artifact.
// FilePath is relative to the media root.
type Descriptor struct {
	Type       Kind    `json:"_type"`
	FilePath   string  `json:"file_path"`
	FileFormat string  `json:"file_format,omitempty"`
	Caption    string  `json:"caption,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
}

// ToMap converts the descriptor to the generic map form stored inside a
// metrics document.
func (d Descriptor) ToMap() map[string]any {
	data, _ := json.Marshal(d)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

// FromMap reconstructs a descriptor from its generic map form. ok is
// false when the map carries no _type marker.
func FromMap(m map[string]any) (Descriptor, bool) {
	if _, present := m[TypeKey()]; !present {
		return Descriptor{}, false
	}
	data, err := json.Marshal(m)
	if err != nil {
		return Descriptor{}, false
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, false
	}
	return d, true
}

// TypeKey returns the descriptor marker key.
func TypeKey() string { return "_type" }

// Store writes and resolves artifact files under a single media root.
// Writes use fresh UUID filenames, so no inter-file locking is needed.
type Store struct {
	root string
}

// NewStore creates a media store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the media root directory.
func (s *Store) Root() string { return s.root }

// SaveOptions carries optional descriptor fields.
type SaveOptions struct {
	Caption    string
	SampleRate int
	FPS        float64
}

// Save writes payload under <root>/<project>/<run>/<step>/<uuid>.<ext>
// and returns the descriptor referencing it.
func (s *Store) Save(kind Kind, payload []byte, format, project, run string, step int, opts SaveOptions) (Descriptor, error) {
	rel, abs, err := s.newPath(project, run, step, format)
	if err != nil {
		return Descriptor{}, err
	}

	if err := os.WriteFile(abs, payload, 0o644); err != nil {
		return Descriptor{}, fmt.Errorf("failed to write artifact: %w", err)
	}

	return Descriptor{
		Type:       kind,
		FilePath:   rel,
		FileFormat: format,
		Caption:    opts.Caption,
		SampleRate: opts.SampleRate,
		FPS:        opts.FPS,
	}, nil
}

// SaveFile copies an existing file into the store instead of re-encoding
// it. The extension is taken from the source path when format is empty.
func (s *Store) SaveFile(kind Kind, srcPath, project, run string, step int, opts SaveOptions) (Descriptor, error) {
	format := filepath.Ext(srcPath)
	if format != "" {
		format = format[1:]
	}

	rel, abs, err := s.newPath(project, run, step, format)
	if err != nil {
		return Descriptor{}, err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to open source artifact: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(abs)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to create artifact: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return Descriptor{}, fmt.Errorf("failed to copy artifact: %w", err)
	}

	return Descriptor{
		Type:       kind,
		FilePath:   rel,
		FileFormat: format,
		Caption:    opts.Caption,
		SampleRate: opts.SampleRate,
		FPS:        opts.FPS,
	}, nil
}

// Resolve joins a descriptor path with the media root. Missing files
// yield ArtifactMissingError.
func (s *Store) Resolve(d Descriptor) (string, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(d.FilePath))
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", &trkerrors.ArtifactMissingError{Path: abs}
		}
		return "", err
	}
	return abs, nil
}

// Move renames the directory holding a run's artifacts. Descriptor
// rewriting inside the project store is the store layer's job; this only
// moves the files.
func (s *Store) Move(project, run, newProject, newRun string) error {
	oldDir := filepath.Join(s.root, config.SanitizeProject(project), run)
	newDir := filepath.Join(s.root, config.SanitizeProject(newProject), newRun)

	if _, err := os.Stat(oldDir); os.IsNotExist(err) {
		// Run logged no artifacts.
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(newDir), 0o755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		return fmt.Errorf("failed to move artifacts: %w", err)
	}
	return nil
}

// RelPrefix returns the descriptor path prefix for a run, used to rewrite
// file_path values when a run moves.
func RelPrefix(project, run string) string {
	return config.SanitizeProject(project) + "/" + run + "/"
}

func (s *Store) newPath(project, run string, step int, format string) (rel, abs string, err error) {
	name := uuid.NewString()
	if format != "" {
		name += "." + format
	}

	rel = filepath.ToSlash(filepath.Join(
		config.SanitizeProject(project), run, strconv.Itoa(step), name))
	abs = filepath.Join(s.root, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return rel, abs, nil
}
