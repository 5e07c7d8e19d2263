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

// Package proclock provides cross-process mutual exclusion keyed by
// project, built on advisory file locks.
//
// The embedded store serializes writers internally, but its busy-retry
// window is short; overlaying an advisory lock removes "database is
// locked" errors under concurrent multi-process writers. On platforms
// without advisory locking the lock degrades to a no-op, which is
// acceptable because single-process use dominates there.
package proclock

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/trackio/trackio/internal/config"
	trkerrors "github.com/trackio/trackio/pkg/errors"
)

const (
	// acquireTimeout is the total window for lock acquisition.
	acquireTimeout = 10 * time.Second

	// retryInterval is the sleep between acquisition attempts.
	retryInterval = 100 * time.Millisecond
)

// Lock is a held project lock. Release it when the mutating transaction
// commits.
type Lock struct {
	file    *os.File
	project string
}

// Acquire takes the exclusive advisory lock for project under dir. It
// retries on contention every 100 ms and fails with LockTimeoutError
// after 10 s.
func Acquire(ctx context.Context, dir, project string) (*Lock, error) {
	path := filepath.Join(dir, config.SanitizeProject(project)+".lock")

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(acquireTimeout)
	for {
		err := flockExclusive(file)
		if err == nil {
			return &Lock{file: file, project: project}, nil
		}

		if time.Now().After(deadline) {
			file.Close()
			return nil, &trkerrors.LockTimeoutError{Project: project, Waited: acquireTimeout}
		}

		select {
		case <-ctx.Done():
			file.Close()
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release drops the lock and closes the lockfile.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := flockRelease(l.file); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// Project returns the project key the lock guards.
func (l *Lock) Project() string {
	return l.project
}
