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

package proclock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir, "myproj")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "myproj.lock")); err != nil {
		t.Errorf("lockfile not created: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestAcquire_SanitizesProjectName(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir, "my proj!/x")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(filepath.Join(dir, "myprojx.lock")); err != nil {
		t.Errorf("sanitized lockfile not created: %v", err)
	}
}

func TestAcquire_Reentry(t *testing.T) {
	dir := t.TempDir()

	// Sequential acquire/release cycles against the same key must all
	// succeed.
	for i := 0; i < 3; i++ {
		lock, err := Acquire(context.Background(), dir, "p")
		if err != nil {
			t.Fatalf("Acquire() cycle %d error = %v", i, err)
		}
		if err := lock.Release(); err != nil {
			t.Fatalf("Release() cycle %d error = %v", i, err)
		}
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	dir := t.TempDir()

	held, err := Acquire(context.Background(), dir, "p")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A second handle in the same process contends via a fresh file
	// descriptor; the cancelled context must abort the retry loop.
	if _, err := Acquire(ctx, dir, "p"); err == nil {
		t.Fatal("Acquire() with cancelled context expected error")
	}
}

func TestRelease_NilSafe(t *testing.T) {
	var lock *Lock
	if err := lock.Release(); err != nil {
		t.Errorf("Release() on nil lock error = %v", err)
	}
}
