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

import "errors"

// IsTransient reports whether err is a sink failure that should be
// retried by the reconciler.
func IsTransient(err error) bool {
	var se *SinkError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// IsLockTimeout reports whether err is a process-lock acquisition timeout.
func IsLockTimeout(err error) bool {
	var lt *LockTimeoutError
	return errors.As(err, &lt)
}

// IsRunNotFound reports whether err indicates a missing run.
func IsRunNotFound(err error) bool {
	var nf *RunNotFoundError
	return errors.As(err, &nf)
}

// IsRunConflict reports whether err indicates a rename target collision.
func IsRunConflict(err error) bool {
	var rc *RunConflictError
	return errors.As(err, &rc)
}
