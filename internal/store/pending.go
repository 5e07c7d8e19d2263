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
)

// PendingUpload is a media artifact not yet delivered to a remote sink.
// Records survive process restart and are cleared after a successful
// upload.
type PendingUpload struct {
	ID           int64
	SpaceID      string
	Run          string
	Step         *int
	FilePath     string
	RelativePath string
	CreatedAt    string
}

// AddPendingUpload records a media artifact awaiting remote upload.
func (s *Store) AddPendingUpload(ctx context.Context, project string, p PendingUpload) error {
	db, err := s.db(ctx, project)
	if err != nil {
		return err
	}

	lock, err := s.lock(ctx, project)
	if err != nil {
		return err
	}
	defer lock.Release()

	_, err = db.ExecContext(ctx, `
		INSERT INTO pending_uploads (space_id, run_name, step, file_path, relative_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.SpaceID, nullString(p.Run), nullInt(p.Step), p.FilePath,
		nullString(p.RelativePath), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to insert pending upload: %w", err)
	}
	return nil
}

// ListPendingUploads returns pending upload records ordered by creation.
func (s *Store) ListPendingUploads(ctx context.Context, project string) ([]PendingUpload, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, space_id, run_name, step, file_path, relative_path, created_at
		FROM pending_uploads ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending uploads: %w", err)
	}
	defer rows.Close()

	var uploads []PendingUpload
	for rows.Next() {
		var p PendingUpload
		var run, rel sql.NullString
		var step sql.NullInt64
		if err := rows.Scan(&p.ID, &p.SpaceID, &run, &step, &p.FilePath, &rel, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending upload: %w", err)
		}
		if run.Valid {
			p.Run = run.String
		}
		if rel.Valid {
			p.RelativePath = rel.String
		}
		if step.Valid {
			v := int(step.Int64)
			p.Step = &v
		}
		uploads = append(uploads, p)
	}
	return uploads, rows.Err()
}

// DeletePendingUpload clears a record after a successful upload.
func (s *Store) DeletePendingUpload(ctx context.Context, project string, id int64) error {
	db, err := s.db(ctx, project)
	if err != nil {
		return err
	}

	lock, err := s.lock(ctx, project)
	if err != nil {
		return err
	}
	defer lock.Release()

	if _, err := db.ExecContext(ctx,
		`DELETE FROM pending_uploads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pending upload: %w", err)
	}
	return nil
}

// SetMetadata stores a project metadata key (dashboard hints such as
// plot order and color palette).
func (s *Store) SetMetadata(ctx context.Context, project, key, value string) error {
	db, err := s.db(ctx, project)
	if err != nil {
		return err
	}

	lock, err := s.lock(ctx, project)
	if err != nil {
		return err
	}
	defer lock.Release()

	_, err = db.ExecContext(ctx, `
		INSERT INTO project_metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata: %w", err)
	}
	return nil
}

// GetMetadata reads a project metadata key, ok=false when unset.
func (s *Store) GetMetadata(ctx context.Context, project, key string) (string, bool, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return "", false, err
	}

	var value string
	err = db.QueryRowContext(ctx,
		`SELECT value FROM project_metadata WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read metadata: %w", err)
	}
	return value, true, nil
}
