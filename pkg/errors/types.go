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

package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for conditions that carry no extra context.
var (
	// ErrRunFinished is returned when logging against a run that is no
	// longer active.
	ErrRunFinished = errors.New("run is finished")

	// ErrNoRemote is returned when a sync operation targets a project
	// that has no remote space configured.
	ErrNoRemote = errors.New("project has no remote configured")
)

// InvalidKeyError reports a metric key that collides with the reserved
// namespace. Reserved keys are renamed with a "__" prefix; keys that
// already carry the prefix are rejected outright.
type InvalidKeyError struct {
	// Key is the offending metric key as supplied by the caller.
	Key string

	// Reason explains why the key was rejected.
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid metric key %q: %s", e.Key, e.Reason)
}

// EncodingCycleError reports that value encoding exceeded the recursion
// bound, which indicates a cycle in the input graph.
type EncodingCycleError struct {
	// Depth is the recursion depth at which encoding gave up.
	Depth int
}

func (e *EncodingCycleError) Error() string {
	return fmt.Sprintf("value encoding exceeded depth %d: input likely contains a cycle", e.Depth)
}

// LockTimeoutError reports that the cross-process project lock could not
// be acquired within the retry window.
type LockTimeoutError struct {
	// Project is the project whose lock was contended.
	Project string

	// Waited is how long acquisition was attempted.
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("project %q locked by another process (timeout after %v)", e.Project, e.Waited)
}

// RunNotFoundError reports a resume=must init against a run that does not
// exist in the project store.
type RunNotFoundError struct {
	Project string
	Run     string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run not found: %s/%s", e.Project, e.Run)
}

// RunConflictError reports a rename whose target name already exists.
type RunConflictError struct {
	Project string
	Run     string
}

func (e *RunConflictError) Error() string {
	return fmt.Sprintf("run already exists: %s/%s", e.Project, e.Run)
}

// SinkError reports a failed delivery to a log sink. Transient failures
// (network errors, 5xx) are retried by the reconciler; permanent failures
// are kept in the durable buffer and surfaced in status output.
type SinkError struct {
	// Op is the sink operation that failed (e.g. "bulk_log").
	Op string

	// StatusCode is the HTTP status when the failure came from a remote
	// sink, zero otherwise.
	StatusCode int

	// Transient indicates the failure is expected to resolve on retry.
	Transient bool

	// Cause is the underlying error.
	Cause error
}

func (e *SinkError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("sink %s failed (%s, HTTP %d): %v", e.Op, kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("sink %s failed (%s): %v", e.Op, kind, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SinkError) Unwrap() error {
	return e.Cause
}

// ArtifactMissingError reports a media descriptor whose file is absent
// from the media root.
type ArtifactMissingError struct {
	// Path is the resolved absolute path that was not found.
	Path string
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("artifact file missing: %s", e.Path)
}
