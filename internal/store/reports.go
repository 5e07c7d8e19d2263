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
	"fmt"
	"strings"
)

// Reports are named documents attached to a project (dashboard-authored
// writeups over the logged data). They live in project_metadata under a
// key prefix, so they share the metadata table's upsert semantics.
const reportKeyPrefix = "report:"

// SaveReport upserts a named report document.
func (s *Store) SaveReport(ctx context.Context, project, name, content string) error {
	if name == "" {
		return fmt.Errorf("report name must not be empty")
	}
	return s.SetMetadata(ctx, project, reportKeyPrefix+name, content)
}

// GetReport reads a report document, ok=false when absent.
func (s *Store) GetReport(ctx context.Context, project, name string) (string, bool, error) {
	return s.GetMetadata(ctx, project, reportKeyPrefix+name)
}

// ListReports returns the report names of a project in sorted order.
func (s *Store) ListReports(ctx context.Context, project string) ([]string, error) {
	db, err := s.db(ctx, project)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT key FROM project_metadata WHERE key LIKE ? ORDER BY key
	`, reportKeyPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan report key: %w", err)
		}
		names = append(names, strings.TrimPrefix(key, reportKeyPrefix))
	}
	return names, rows.Err()
}
