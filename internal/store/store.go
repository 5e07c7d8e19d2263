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

// Package store implements the per-project embedded relational store.
//
// Each project owns one SQLite database file under the trackio dir. Any
// process may open it; mutations are serialized by the advisory process
// lock, and WAL journaling permits concurrent readers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trackio/trackio/internal/config"
	"github.com/trackio/trackio/internal/proclock"
)

// Store manages the embedded databases for every project under one
// trackio dir. Databases open lazily on first use.
type Store struct {
	dir    string
	media  string
	logger *slog.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// New creates a store rooted at dir. mediaRoot is the artifact directory
// used for descriptor path rewriting during run moves.
func New(dir, mediaRoot string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create trackio dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		media:  mediaRoot,
		logger: logger.With(slog.String("component", "store")),
		dbs:    make(map[string]*sql.DB),
	}, nil
}

// Dir returns the trackio root directory.
func (s *Store) Dir() string { return s.dir }

// DatabasePath returns the database file for a project.
func (s *Store) DatabasePath(project string) string {
	return filepath.Join(s.dir, config.SanitizeProject(project)+".db")
}

// Projects enumerates projects by listing database files. There is no
// separate project catalog.
func (s *Store) Projects() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trackio dir: %w", err)
	}

	var projects []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".db") {
			continue
		}
		projects = append(projects, strings.TrimSuffix(name, ".db"))
	}
	return projects, nil
}

// Close closes every open database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for project, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, project)
	}
	return firstErr
}

// db returns the open database for a project, creating and migrating it
// on first use.
func (s *Store) db(ctx context.Context, project string) (*sql.DB, error) {
	project = config.SanitizeProject(project)

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[project]; ok {
		return db, nil
	}

	db, err := sql.Open("sqlite", s.DatabasePath(project))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so a single connection avoids intra-process
	// lock churn; cross-process writers are serialized by proclock.
	db.SetMaxOpenConns(1)

	if err := configurePragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.dbs[project] = db
	return db, nil
}

// configurePragmas sets the durability and throughput tunings: WAL
// journaling, fsync at commit only, in-memory temp storage, ~20 MB page
// cache and a 30 s busy timeout.
func configurePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=-20000",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate runs database migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			run_name TEXT NOT NULL,
			step INTEGER NOT NULL,
			metrics TEXT NOT NULL,
			log_id TEXT,
			space_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_step ON metrics(run_name, step)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_timestamp ON metrics(run_name, timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_metrics_log_id ON metrics(log_id) WHERE log_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS system_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			run_name TEXT NOT NULL,
			metrics TEXT NOT NULL,
			log_id TEXT,
			space_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_system_metrics_run_timestamp ON system_metrics(run_name, timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_system_metrics_log_id ON system_metrics(log_id) WHERE log_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_name TEXT NOT NULL UNIQUE,
			config TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_name TEXT NOT NULL,
			level TEXT NOT NULL,
			title TEXT NOT NULL,
			text TEXT,
			step INTEGER,
			timestamp TEXT NOT NULL,
			alert_id TEXT NOT NULL UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_run_timestamp ON alerts(run_name, timestamp)`,
		`CREATE TABLE IF NOT EXISTS project_metadata (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pending_uploads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			space_id TEXT NOT NULL,
			run_name TEXT,
			step INTEGER,
			file_path TEXT NOT NULL,
			relative_path TEXT,
			created_at TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// lock acquires the cross-process lock for a project.
func (s *Store) lock(ctx context.Context, project string) (*proclock.Lock, error) {
	return proclock.Acquire(ctx, s.dir, project)
}

// formatTime renders a timestamp in the stored RFC3339 UTC form.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullString returns nil if s is empty, otherwise s.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt returns nil if p is nil, otherwise its value.
func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
