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

// Package shared holds the flag state and helpers used by every CLI
// command.
package shared

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/trackio/trackio/internal/config"
	"github.com/trackio/trackio/internal/store"
)

// Global flag values, bound by the root command.
var (
	jsonFlag bool
	dirFlag  string

	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to the global flag variables for
// binding on the root command.
func RegisterFlagPointers() (*bool, *string) {
	return &jsonFlag, &dirFlag
}

// GetJSON reports whether --json output was requested.
func GetJSON() bool { return jsonFlag }

// SetVersion records the build-time version information.
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns the build-time version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// ResolveConfig resolves the runtime configuration, honoring --dir.
func ResolveConfig() (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if dirFlag != "" {
		cfg.Dir = dirFlag
		cfg.MediaDir = filepath.Join(dirFlag, "media")
	}

	// Persisted defaults fill any field the environment left empty.
	settings, err := config.LoadSettings(cfg.Dir)
	if err != nil {
		return nil, err
	}
	settings.Apply(cfg)
	return cfg, nil
}

// OpenStore opens the project store for the resolved trackio dir.
func OpenStore() (*store.Store, *config.Config, error) {
	cfg, err := ResolveConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(cfg.Dir, cfg.MediaDir, nil)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

// Command exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// ExitError carries an explicit process exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Cause }

// NewUsageError reports mutually exclusive or missing flags.
func NewUsageError(msg string) *ExitError {
	return &ExitError{Code: ExitFailure, Message: msg}
}

// HandleExitError prints the error and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if exitErr, ok := err.(*ExitError); ok {
		os.Exit(exitErr.Code)
	}
	os.Exit(ExitFailure)
}
