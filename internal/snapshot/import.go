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

package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/trackio/trackio/internal/store"
)

// ImportProject rebuilds a project from its snapshot files. Missing
// files are skipped; a project with no snapshot imports nothing.
func (e *Exporter) ImportProject(ctx context.Context, project string) error {
	metricsPath, systemPath, configsPath := e.Paths(project)

	if rows, err := readRows(ctx, metricsPath, true); err != nil {
		return err
	} else if rows != nil {
		if err := e.restoreRows(ctx, project, rows, true); err != nil {
			return err
		}
	}

	if rows, err := readRows(ctx, systemPath, false); err != nil {
		return err
	} else if rows != nil {
		if err := e.restoreRows(ctx, project, rows, false); err != nil {
			return err
		}
	}

	return e.restoreConfigs(ctx, project, configsPath)
}

func (e *Exporter) restoreRows(ctx context.Context, project string, rows []flatRow, hasStep bool) error {
	// Rows group per run so the bulk insert keeps one transaction per run.
	byRun := map[string][]flatRow{}
	var order []string
	for _, row := range rows {
		if _, ok := byRun[row.run]; !ok {
			order = append(order, row.run)
		}
		byRun[row.run] = append(byRun[row.run], row)
	}

	for _, run := range order {
		group := byRun[run]
		metrics := make([]map[string]any, len(group))
		steps := make([]int, len(group))
		timestamps := make([]time.Time, len(group))
		for i, row := range group {
			metrics[i] = row.values
			steps[i] = int(row.step)
			ts, err := time.Parse(time.RFC3339Nano, row.timestamp)
			if err != nil {
				ts = time.Now()
			}
			timestamps[i] = ts
		}

		opts := store.BulkOptions{Timestamps: timestamps}
		if hasStep {
			opts.Steps = steps
		}

		var err error
		if hasStep {
			err = e.store.BulkLog(ctx, project, run, metrics, opts)
		} else {
			err = e.store.BulkLogSystem(ctx, project, run, metrics, opts)
		}
		if err != nil {
			return fmt.Errorf("failed to restore run %s: %w", run, err)
		}
	}
	return nil
}

func (e *Exporter) restoreConfigs(ctx context.Context, project, path string) error {
	table, err := readTable(ctx, path)
	if err != nil || table == nil {
		return err
	}
	defer table.Release()

	runCol := columnReader(table, colRun)
	cfgCol := columnReader(table, colConfig)
	if runCol == nil || cfgCol == nil {
		return fmt.Errorf("config snapshot %s missing columns", path)
	}

	for i := 0; i < int(table.NumRows()); i++ {
		run, _ := runCol(i).(string)
		raw, _ := cfgCol(i).(string)
		if run == "" || raw == "" {
			continue
		}

		var cfg map[string]any
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return fmt.Errorf("failed to decode config for %s: %w", run, err)
		}
		if err := e.store.SetConfig(ctx, project, run, cfg); err != nil {
			return err
		}
	}
	return nil
}

// readRows loads one snapshot file back into flat rows. A missing file
// returns nil rows without error.
func readRows(ctx context.Context, path string, hasStep bool) ([]flatRow, error) {
	table, err := readTable(ctx, path)
	if err != nil || table == nil {
		return nil, err
	}
	defer table.Release()

	schema := table.Schema()
	readers := make(map[string]func(int) any, schema.NumFields())
	for _, field := range schema.Fields() {
		readers[field.Name] = columnReader(table, field.Name)
	}

	rows := make([]flatRow, 0, table.NumRows())
	for i := 0; i < int(table.NumRows()); i++ {
		row := flatRow{values: map[string]any{}}
		for _, field := range schema.Fields() {
			v := readers[field.Name](i)
			if v == nil {
				continue
			}
			switch field.Name {
			case colRun:
				row.run, _ = v.(string)
			case colStep:
				if hasStep {
					if s, ok := v.(int64); ok {
						row.step = s
					}
				}
			case colTimestamp:
				row.timestamp, _ = v.(string)
			default:
				row.values[field.Name] = decodeCell(field.Type, v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeCell reverses the export encoding: float columns pass through,
// string columns hold JSON text.
func decodeCell(typ arrow.DataType, v any) any {
	if typ.ID() != arrow.STRING {
		return v
	}
	raw, ok := v.(string)
	if !ok {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}
	return decoded
}

// readTable opens a parquet file as an arrow table. Missing files
// return (nil, nil).
func readTable(ctx context.Context, path string) (arrow.Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf,
		pqarrow.ArrowReadProperties{BatchSize: 1024}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}

	table, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot table: %w", err)
	}
	return table, nil
}

// columnReader returns an accessor for one named column across the
// table's chunks, nil values reported as nil.
func columnReader(table arrow.Table, name string) func(int) any {
	indices := table.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil
	}
	chunks := table.Column(indices[0]).Data().Chunks()

	return func(row int) any {
		for _, chunk := range chunks {
			if row >= chunk.Len() {
				row -= chunk.Len()
				continue
			}
			if chunk.IsNull(row) {
				return nil
			}
			switch arr := chunk.(type) {
			case *array.String:
				return arr.Value(row)
			case *array.Float64:
				return arr.Value(row)
			case *array.Int64:
				return arr.Value(row)
			case *array.Boolean:
				return arr.Value(row)
			default:
				return nil
			}
		}
		return nil
	}
}
