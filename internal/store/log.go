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
	"fmt"
	"time"

	"github.com/trackio/trackio/internal/codec"
)

// BulkOptions carries the optional columns of a bulk insert.
type BulkOptions struct {
	// Steps assigns explicit steps per entry. When nil, steps are
	// assigned monotonically from max(step)+1 inside the transaction.
	Steps []int

	// Timestamps assigns explicit timestamps per entry. When nil, the
	// current time is used for every entry.
	Timestamps []time.Time

	// Config, when non-nil, upserts the run config in the same
	// transaction.
	Config map[string]any

	// LogIDs mark entries as pending remote delivery and provide
	// idempotency across retries via INSERT OR IGNORE.
	LogIDs []string

	// SpaceID names the remote sink the markers refer to.
	SpaceID string
}

// BulkLog inserts a batch of metric rows for one run in a single
// process-locked transaction. When no explicit steps are given, steps are
// assigned from max(step)+1 within the same transaction, so concurrent
// writers never produce duplicate steps.
func (s *Store) BulkLog(ctx context.Context, project, run string, metrics []map[string]any, opts BulkOptions) error {
	if len(metrics) == 0 {
		return nil
	}
	if opts.Steps != nil && len(opts.Steps) != len(metrics) {
		return fmt.Errorf("steps length %d does not match batch size %d", len(opts.Steps), len(metrics))
	}
	if opts.LogIDs != nil && len(opts.LogIDs) != len(metrics) {
		return fmt.Errorf("log_ids length %d does not match batch size %d", len(opts.LogIDs), len(metrics))
	}
	if opts.Timestamps != nil && len(opts.Timestamps) != len(metrics) {
		return fmt.Errorf("timestamps length %d does not match batch size %d", len(opts.Timestamps), len(metrics))
	}

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

	steps := opts.Steps
	if steps == nil {
		next, err := nextStepTx(ctx, tx, run)
		if err != nil {
			return err
		}
		steps = make([]int, len(metrics))
		for i := range steps {
			steps[i] = next + i
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO metrics (timestamp, run_name, step, metrics, log_id, space_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, m := range metrics {
		encoded, err := codec.Marshal(m)
		if err != nil {
			return err
		}

		ts := now
		if opts.Timestamps != nil {
			ts = opts.Timestamps[i]
		}

		var logID any
		if opts.LogIDs != nil {
			logID = opts.LogIDs[i]
		}

		if _, err := stmt.ExecContext(ctx,
			formatTime(ts), run, steps[i], string(encoded), logID, nullString(opts.SpaceID),
		); err != nil {
			return fmt.Errorf("failed to insert metric row: %w", err)
		}
	}

	if opts.Config != nil {
		if err := upsertConfigTx(ctx, tx, run, opts.Config); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk log: %w", err)
	}
	return nil
}

// BulkLogSystem inserts system metric rows. System metrics have no step;
// their x-axis is the timestamp only.
func (s *Store) BulkLogSystem(ctx context.Context, project, run string, metrics []map[string]any, opts BulkOptions) error {
	if len(metrics) == 0 {
		return nil
	}
	if opts.LogIDs != nil && len(opts.LogIDs) != len(metrics) {
		return fmt.Errorf("log_ids length %d does not match batch size %d", len(opts.LogIDs), len(metrics))
	}
	if opts.Timestamps != nil && len(opts.Timestamps) != len(metrics) {
		return fmt.Errorf("timestamps length %d does not match batch size %d", len(opts.Timestamps), len(metrics))
	}

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

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO system_metrics (timestamp, run_name, metrics, log_id, space_id)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, m := range metrics {
		encoded, err := codec.Marshal(m)
		if err != nil {
			return err
		}

		ts := now
		if opts.Timestamps != nil {
			ts = opts.Timestamps[i]
		}

		var logID any
		if opts.LogIDs != nil {
			logID = opts.LogIDs[i]
		}

		if _, err := stmt.ExecContext(ctx,
			formatTime(ts), run, string(encoded), logID, nullString(opts.SpaceID),
		); err != nil {
			return fmt.Errorf("failed to insert system metric row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit system bulk log: %w", err)
	}
	return nil
}

// nextStepTx reads max(step)+1 for a run inside an open transaction.
func nextStepTx(ctx context.Context, tx *sql.Tx, run string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(step) + 1, 0) FROM metrics WHERE run_name = ?`, run,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read max step: %w", err)
	}
	return next, nil
}

// GetLogs returns every metric row of a run ordered by timestamp, decoded
// and with step and timestamp folded into the returned map.
func (s *Store) GetLogs(ctx context.Context, project, run string) ([]map[string]any, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT timestamp, step, metrics FROM metrics
		WHERE run_name = ? ORDER BY timestamp, id
	`, run)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var logs []map[string]any
	for rows.Next() {
		var ts string
		var step int
		var raw string
		if err := rows.Scan(&ts, &step, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}

		m, err := codec.Unmarshal([]byte(raw))
		if err != nil {
			return nil, err
		}
		m["step"] = step
		m["timestamp"] = ts
		logs = append(logs, m)
	}
	return logs, rows.Err()
}

// GetSystemLogs returns every system metric row of a run ordered by
// timestamp.
func (s *Store) GetSystemLogs(ctx context.Context, project, run string) ([]map[string]any, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT timestamp, metrics FROM system_metrics
		WHERE run_name = ? ORDER BY timestamp, id
	`, run)
	if err != nil {
		return nil, fmt.Errorf("failed to query system logs: %w", err)
	}
	defer rows.Close()

	var logs []map[string]any
	for rows.Next() {
		var ts string
		var raw string
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan system log row: %w", err)
		}

		m, err := codec.Unmarshal([]byte(raw))
		if err != nil {
			return nil, err
		}
		m["timestamp"] = ts
		logs = append(logs, m)
	}
	return logs, rows.Err()
}

// GetMaxStep returns the largest step recorded for a run, or ok=false
// when the run has no metric rows.
func (s *Store) GetMaxStep(ctx context.Context, project, run string) (int, bool, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return 0, false, err
	}

	var step sql.NullInt64
	err = db.QueryRowContext(ctx,
		`SELECT MAX(step) FROM metrics WHERE run_name = ?`, run,
	).Scan(&step)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read max step: %w", err)
	}
	if !step.Valid {
		return 0, false, nil
	}
	return int(step.Int64), true, nil
}

// UnsyncedRow is a durable-buffer row pending remote delivery.
type UnsyncedRow struct {
	Table     string
	Run       string
	Step      int
	Timestamp string
	Metrics   map[string]any
	LogID     string
	SpaceID   string
}

// Durable-buffer table names.
const (
	TableMetrics       = "metrics"
	TableSystemMetrics = "system_metrics"
)

// ListUnsynced returns rows whose (log_id, space_id) markers are set,
// ordered per run by ascending step so the reconciler replays in order.
func (s *Store) ListUnsynced(ctx context.Context, project string) ([]UnsyncedRow, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return nil, err
	}

	var out []UnsyncedRow

	rows, err := db.QueryContext(ctx, `
		SELECT run_name, step, timestamp, metrics, log_id, space_id FROM metrics
		WHERE log_id IS NOT NULL AND space_id IS NOT NULL
		ORDER BY run_name, step
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r UnsyncedRow
		var raw string
		r.Table = TableMetrics
		if err := rows.Scan(&r.Run, &r.Step, &r.Timestamp, &raw, &r.LogID, &r.SpaceID); err != nil {
			return nil, fmt.Errorf("failed to scan unsynced row: %w", err)
		}
		m, err := codec.Unmarshal([]byte(raw))
		if err != nil {
			return nil, err
		}
		r.Metrics = m
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sysRows, err := db.QueryContext(ctx, `
		SELECT run_name, timestamp, metrics, log_id, space_id FROM system_metrics
		WHERE log_id IS NOT NULL AND space_id IS NOT NULL
		ORDER BY run_name, timestamp
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced system metrics: %w", err)
	}
	defer sysRows.Close()

	for sysRows.Next() {
		var r UnsyncedRow
		var raw string
		r.Table = TableSystemMetrics
		if err := sysRows.Scan(&r.Run, &r.Timestamp, &raw, &r.LogID, &r.SpaceID); err != nil {
			return nil, fmt.Errorf("failed to scan unsynced system row: %w", err)
		}
		m, err := codec.Unmarshal([]byte(raw))
		if err != nil {
			return nil, err
		}
		r.Metrics = m
		out = append(out, r)
	}
	return out, sysRows.Err()
}

// CountUnsynced returns the number of durable-buffer rows still marked.
func (s *Store) CountUnsynced(ctx context.Context, project string) (int, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return 0, err
	}

	var n int
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM metrics WHERE log_id IS NOT NULL AND space_id IS NOT NULL) +
			(SELECT COUNT(*) FROM system_metrics WHERE log_id IS NOT NULL AND space_id IS NOT NULL)
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsynced rows: %w", err)
	}
	return n, nil
}

// CountRows returns the total metric and system rows of a project.
func (s *Store) CountRows(ctx context.Context, project string) (int, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return 0, err
	}

	var n int
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM metrics) +
			(SELECT COUNT(*) FROM system_metrics)
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// ClearMarkers removes the delivery markers for acknowledged log IDs.
func (s *Store) ClearMarkers(ctx context.Context, project, table string, logIDs []string) error {
	if len(logIDs) == 0 {
		return nil
	}
	if table != TableMetrics && table != TableSystemMetrics {
		return fmt.Errorf("unknown durable-buffer table: %s", table)
	}

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

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE `+table+` SET log_id = NULL, space_id = NULL WHERE log_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare marker clear: %w", err)
	}
	defer stmt.Close()

	for _, id := range logIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to clear marker %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit marker clear: %w", err)
	}
	return nil
}
