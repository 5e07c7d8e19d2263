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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trackio/trackio/internal/codec"
	"github.com/trackio/trackio/internal/config"
	"github.com/trackio/trackio/internal/media"
	trkerrors "github.com/trackio/trackio/pkg/errors"
)

// GetRuns lists the runs of a project ordered by their earliest recorded
// timestamp. Runs exist lazily: a run is anything that has written a
// metric row or a config.
func (s *Store) GetRuns(ctx context.Context, project string) ([]string, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT run_name FROM (
			SELECT run_name, timestamp AS ts FROM metrics
			UNION ALL
			SELECT run_name, timestamp AS ts FROM system_metrics
			UNION ALL
			SELECT run_name, created_at AS ts FROM configs
		)
		GROUP BY run_name ORDER BY MIN(ts)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan run name: %w", err)
		}
		runs = append(runs, name)
	}
	return runs, rows.Err()
}

// RunExists reports whether a run has any recorded state.
func (s *Store) RunExists(ctx context.Context, project, run string) (bool, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return false, err
	}

	var n int
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM metrics WHERE run_name = ?) +
			(SELECT COUNT(*) FROM system_metrics WHERE run_name = ?) +
			(SELECT COUNT(*) FROM configs WHERE run_name = ?)
	`, run, run, run).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check run existence: %w", err)
	}
	return n > 0, nil
}

// SetConfig stores the config for a run, replacing any previous value.
func (s *Store) SetConfig(ctx context.Context, project, run string, cfg map[string]any) error {
	db, err := s.db(ctx, project)
	if err != nil {
		return err
	}

	lock, err := s.lock(ctx, project)
	if err != nil {
		return err
	}
	defer lock.Release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertConfigTx(ctx, tx, run, cfg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config: %w", err)
	}
	return nil
}

func upsertConfigTx(ctx context.Context, tx *sql.Tx, run string, cfg map[string]any) error {
	encoded, err := codec.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO configs (run_name, config, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (run_name) DO UPDATE SET config = excluded.config
	`, run, string(encoded), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert config: %w", err)
	}
	return nil
}

// GetConfig returns the stored config for a run, or ok=false when none
// was recorded.
func (s *Store) GetConfig(ctx context.Context, project, run string) (map[string]any, bool, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return nil, false, err
	}

	var raw string
	err = db.QueryRowContext(ctx,
		`SELECT config FROM configs WHERE run_name = ?`, run,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := codec.Unmarshal([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// Alert is an append-only alert row.
type Alert struct {
	Run       string
	Level     string
	Title     string
	Text      string
	Step      *int
	Timestamp string
	AlertID   string
}

// Alert levels.
const (
	AlertInfo  = "info"
	AlertWarn  = "warn"
	AlertError = "error"
)

// AddAlert appends an alert row.
func (s *Store) AddAlert(ctx context.Context, project string, alert Alert) error {
	db, err := s.db(ctx, project)
	if err != nil {
		return err
	}

	lock, err := s.lock(ctx, project)
	if err != nil {
		return err
	}
	defer lock.Release()

	if alert.Timestamp == "" {
		alert.Timestamp = formatTime(time.Now())
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO alerts (run_name, level, title, text, step, timestamp, alert_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, alert.Run, alert.Level, alert.Title, nullString(alert.Text),
		nullInt(alert.Step), alert.Timestamp, alert.AlertID)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetAlerts returns the alerts of a run ordered by timestamp. run may be
// empty to list the whole project.
func (s *Store) GetAlerts(ctx context.Context, project, run string) ([]Alert, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return nil, err
	}

	query := `SELECT run_name, level, title, text, step, timestamp, alert_id FROM alerts`
	args := []any{}
	if run != "" {
		query += ` WHERE run_name = ?`
		args = append(args, run)
	}
	query += ` ORDER BY timestamp, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var text sql.NullString
		var step sql.NullInt64
		if err := rows.Scan(&a.Run, &a.Level, &a.Title, &text, &step, &a.Timestamp, &a.AlertID); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if text.Valid {
			a.Text = text.String
		}
		if step.Valid {
			v := int(step.Int64)
			a.Step = &v
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// DeleteRun removes every row of a run from all tables in one
// process-locked transaction.
func (s *Store) DeleteRun(ctx context.Context, project, run string) error {
	db, err := s.db(ctx, project)
	if err != nil {
		return err
	}

	lock, err := s.lock(ctx, project)
	if err != nil {
		return err
	}
	defer lock.Release()

	return deleteRunTx(ctx, db, run)
}

func deleteRunTx(ctx context.Context, db *sql.DB, run string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"metrics", "system_metrics", "configs", "alerts", "pending_uploads"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE run_name = ?`, run); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// RenameRun renames a run within one project database. A colliding
// target yields RunConflictError.
func (s *Store) RenameRun(ctx context.Context, project, oldName, newName string) error {
	db, err := s.db(ctx, project)
	if err != nil {
		return err
	}

	lock, err := s.lock(ctx, project)
	if err != nil {
		return err
	}
	defer lock.Release()

	exists, err := s.RunExists(ctx, project, newName)
	if err != nil {
		return err
	}
	if exists {
		return &trkerrors.RunConflictError{Project: project, Run: newName}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"metrics", "system_metrics", "configs", "alerts", "pending_uploads"} {
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET run_name = ? WHERE run_name = ?`, newName, oldName); err != nil {
			return fmt.Errorf("failed to rename in %s: %w", table, err)
		}
	}

	oldPrefix := media.RelPrefix(project, oldName)
	newPrefix := media.RelPrefix(project, newName)
	if err := rewriteArtifactPrefixTx(ctx, tx, newName, oldPrefix, newPrefix); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rename: %w", err)
	}

	if s.media != "" {
		mediaStore := media.NewStore(s.media)
		if err := mediaStore.Move(project, oldName, project, newName); err != nil {
			return err
		}
	}
	return nil
}

// MoveRun copies a run between two project databases, rewrites artifact
// prefixes, moves the media directory and finally deletes the source
// rows. Locks are acquired in name order to avoid deadlock; the source
// delete is the last step, so a crash in between leaves duplicate data
// that readers reconcile by preferring the destination.
func (s *Store) MoveRun(ctx context.Context, srcProject, dstProject, run string) error {
	srcProject = config.SanitizeProject(srcProject)
	dstProject = config.SanitizeProject(dstProject)
	if srcProject == dstProject {
		return nil
	}

	srcDB, err := s.db(ctx, srcProject)
	if err != nil {
		return err
	}
	dstDB, err := s.db(ctx, dstProject)
	if err != nil {
		return err
	}

	// Fixed lock order by project name prevents AB/BA deadlock between
	// two concurrent movers.
	first, second := srcProject, dstProject
	if second < first {
		first, second = second, first
	}
	lock1, err := s.lock(ctx, first)
	if err != nil {
		return err
	}
	defer lock1.Release()
	lock2, err := s.lock(ctx, second)
	if err != nil {
		return err
	}
	defer lock2.Release()

	exists, err := s.RunExists(ctx, dstProject, run)
	if err != nil {
		return err
	}
	if exists {
		return &trkerrors.RunConflictError{Project: dstProject, Run: run}
	}

	oldPrefix := media.RelPrefix(srcProject, run)
	newPrefix := media.RelPrefix(dstProject, run)

	// Destination insert and commit first.
	dstTx, err := dstDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin destination transaction: %w", err)
	}
	defer dstTx.Rollback()

	if err := copyRunRows(ctx, srcDB, dstTx, run, oldPrefix, newPrefix); err != nil {
		return err
	}
	if err := dstTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit destination: %w", err)
	}

	// Media next: descriptors in the destination already reference the
	// new prefix.
	if s.media != "" {
		mediaStore := media.NewStore(s.media)
		if err := mediaStore.Move(srcProject, run, dstProject, run); err != nil {
			return err
		}
	}

	// Source delete is last.
	return deleteRunTx(ctx, srcDB, run)
}

// copyRunRows reads a run's rows from src and inserts them into the open
// destination transaction, rewriting artifact path prefixes in the
// metric documents.
func copyRunRows(ctx context.Context, src *sql.DB, dstTx *sql.Tx, run, oldPrefix, newPrefix string) error {
	rows, err := src.QueryContext(ctx, `
		SELECT timestamp, step, metrics, log_id, space_id FROM metrics
		WHERE run_name = ? ORDER BY id
	`, run)
	if err != nil {
		return fmt.Errorf("failed to read source metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts, raw string
		var step int
		var logID, spaceID sql.NullString
		if err := rows.Scan(&ts, &step, &raw, &logID, &spaceID); err != nil {
			return fmt.Errorf("failed to scan source metric: %w", err)
		}
		if _, err := dstTx.ExecContext(ctx, `
			INSERT OR IGNORE INTO metrics (timestamp, run_name, step, metrics, log_id, space_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ts, run, step, rewritePrefix(raw, oldPrefix, newPrefix), logID, spaceID); err != nil {
			return fmt.Errorf("failed to insert destination metric: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	sysRows, err := src.QueryContext(ctx, `
		SELECT timestamp, metrics, log_id, space_id FROM system_metrics
		WHERE run_name = ? ORDER BY id
	`, run)
	if err != nil {
		return fmt.Errorf("failed to read source system metrics: %w", err)
	}
	defer sysRows.Close()

	for sysRows.Next() {
		var ts, raw string
		var logID, spaceID sql.NullString
		if err := sysRows.Scan(&ts, &raw, &logID, &spaceID); err != nil {
			return fmt.Errorf("failed to scan source system metric: %w", err)
		}
		if _, err := dstTx.ExecContext(ctx, `
			INSERT OR IGNORE INTO system_metrics (timestamp, run_name, metrics, log_id, space_id)
			VALUES (?, ?, ?, ?, ?)
		`, ts, run, rewritePrefix(raw, oldPrefix, newPrefix), logID, spaceID); err != nil {
			return fmt.Errorf("failed to insert destination system metric: %w", err)
		}
	}
	if err := sysRows.Err(); err != nil {
		return err
	}

	var cfg, createdAt sql.NullString
	err = src.QueryRowContext(ctx,
		`SELECT config, created_at FROM configs WHERE run_name = ?`, run,
	).Scan(&cfg, &createdAt)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read source config: %w", err)
	}
	if err == nil {
		if _, err := dstTx.ExecContext(ctx, `
			INSERT INTO configs (run_name, config, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT (run_name) DO UPDATE SET config = excluded.config
		`, run, cfg.String, createdAt.String); err != nil {
			return fmt.Errorf("failed to insert destination config: %w", err)
		}
	}

	alertRows, err := src.QueryContext(ctx, `
		SELECT level, title, text, step, timestamp, alert_id FROM alerts
		WHERE run_name = ? ORDER BY id
	`, run)
	if err != nil {
		return fmt.Errorf("failed to read source alerts: %w", err)
	}
	defer alertRows.Close()

	for alertRows.Next() {
		var level, title, ts, alertID string
		var text sql.NullString
		var step sql.NullInt64
		if err := alertRows.Scan(&level, &title, &text, &step, &ts, &alertID); err != nil {
			return fmt.Errorf("failed to scan source alert: %w", err)
		}
		if _, err := dstTx.ExecContext(ctx, `
			INSERT OR IGNORE INTO alerts (run_name, level, title, text, step, timestamp, alert_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run, level, title, text, step, ts, alertID); err != nil {
			return fmt.Errorf("failed to insert destination alert: %w", err)
		}
	}
	return alertRows.Err()
}

// rewriteArtifactPrefixTx rewrites descriptor file_path prefixes of a
// run's metric rows inside an open transaction.
func rewriteArtifactPrefixTx(ctx context.Context, tx *sql.Tx, run, oldPrefix, newPrefix string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, metrics FROM metrics WHERE run_name = ?`, run)
	if err != nil {
		return fmt.Errorf("failed to read metric rows: %w", err)
	}

	type update struct {
		id  int64
		doc string
	}
	var updates []update
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan metric row: %w", err)
		}
		rewritten := rewritePrefix(raw, oldPrefix, newPrefix)
		if rewritten != raw {
			updates = append(updates, update{id: id, doc: rewritten})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE metrics SET metrics = ? WHERE id = ?`, u.doc, u.id); err != nil {
			return fmt.Errorf("failed to rewrite metric row: %w", err)
		}
	}
	return nil
}

// rewritePrefix replaces descriptor file_path prefixes in an encoded
// metrics document. The document is reparsed rather than string-replaced
// so only file_path fields are touched.
func rewritePrefix(doc, oldPrefix, newPrefix string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return doc
	}

	changed := false
	for _, v := range m {
		desc, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if _, isDesc := desc[media.TypeKey()]; !isDesc {
			continue
		}
		fp, ok := desc["file_path"].(string)
		if !ok || !strings.HasPrefix(fp, oldPrefix) {
			continue
		}
		desc["file_path"] = newPrefix + strings.TrimPrefix(fp, oldPrefix)
		changed = true
	}
	if !changed {
		return doc
	}

	out, err := json.Marshal(m)
	if err != nil {
		return doc
	}
	return string(out)
}
