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

package media

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	trkerrors "github.com/trackio/trackio/pkg/errors"
)

func TestSaveAndResolve(t *testing.T) {
	store := NewStore(t.TempDir())

	desc, err := store.Save(KindImage, []byte("png-bytes"), "png", "proj", "run1", 0, SaveOptions{Caption: "sample"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if desc.Type != KindImage {
		t.Errorf("Type = %v, want image", desc.Type)
	}
	if !strings.HasPrefix(desc.FilePath, "proj/run1/0/") {
		t.Errorf("FilePath = %q, want proj/run1/0/ prefix", desc.FilePath)
	}
	if !strings.HasSuffix(desc.FilePath, ".png") {
		t.Errorf("FilePath = %q, want .png suffix", desc.FilePath)
	}

	abs, err := store.Resolve(desc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("payload = %q, want png-bytes", data)
	}
}

func TestSaveFile_CopiesPayload(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "clip.wav")
	if err := os.WriteFile(src, []byte("audio"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	store := NewStore(t.TempDir())
	desc, err := store.SaveFile(KindAudio, src, "proj", "run1", 3, SaveOptions{SampleRate: 44100})
	if err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}

	if desc.FileFormat != "wav" {
		t.Errorf("FileFormat = %q, want wav", desc.FileFormat)
	}
	if desc.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", desc.SampleRate)
	}

	abs, err := store.Resolve(desc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	data, _ := os.ReadFile(abs)
	if string(data) != "audio" {
		t.Errorf("payload = %q, want audio", data)
	}

	// Source must still exist: copied, not moved.
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source removed: %v", err)
	}
}

func TestResolve_MissingArtifact(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Resolve(Descriptor{Type: KindImage, FilePath: "p/r/0/gone.png"})
	if err == nil {
		t.Fatal("Resolve() expected error for missing file")
	}

	var missing *trkerrors.ArtifactMissingError
	if !errors.As(err, &missing) {
		t.Errorf("error = %v, want ArtifactMissingError", err)
	}
}

func TestMove_RenamesRunDirectory(t *testing.T) {
	store := NewStore(t.TempDir())

	desc, err := store.Save(KindImage, []byte("x"), "png", "src", "r", 0, SaveOptions{})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.Move("src", "r", "dst", "r"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}

	moved := Descriptor{
		Type:     KindImage,
		FilePath: "dst/" + strings.TrimPrefix(desc.FilePath, "src/"),
	}
	if _, err := store.Resolve(moved); err != nil {
		t.Errorf("moved artifact not resolvable: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store.Root(), "src", "r")); !os.IsNotExist(err) {
		t.Error("old run directory still present")
	}
}

func TestMove_NoArtifactsIsNoop(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Move("src", "r", "dst", "r"); err != nil {
		t.Errorf("Move() with no artifacts error = %v", err)
	}
}

func TestDescriptorMapRoundTrip(t *testing.T) {
	d := Descriptor{Type: KindVideo, FilePath: "p/r/2/v.mp4", FileFormat: "mp4", FPS: 30}

	m := d.ToMap()
	if m["_type"] != "video" {
		t.Errorf("_type = %v, want video", m["_type"])
	}

	got, ok := FromMap(m)
	if !ok {
		t.Fatal("FromMap() ok = false")
	}
	if got != d {
		t.Errorf("round trip = %+v, want %+v", got, d)
	}
}
