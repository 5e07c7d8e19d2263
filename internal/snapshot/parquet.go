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

// Package snapshot exports project databases to parquet files and
// rebuilds them on import. Snapshots are the portable form of a
// project: a fresh host restores state from parquet alone.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/trackio/trackio/internal/store"
)

// Fixed leading columns of every metrics snapshot. Metric keys follow
// in sorted order.
const (
	colRun       = "run_name"
	colStep      = "step"
	colTimestamp = "timestamp"
	colConfig    = "config"
)

// Exporter writes a project's tables to parquet files under dir.
type Exporter struct {
	store  *store.Store
	dir    string
	logger *slog.Logger
}

// NewExporter creates an exporter writing snapshots under dir.
func NewExporter(st *store.Store, dir string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		store:  st,
		dir:    dir,
		logger: logger.With(slog.String("component", "snapshot")),
	}
}

// Paths returns the snapshot file paths for a project: metrics, system
// metrics, and configs.
func (e *Exporter) Paths(project string) (string, string, string) {
	return filepath.Join(e.dir, project+".parquet"),
		filepath.Join(e.dir, project+"_system.parquet"),
		filepath.Join(e.dir, project+"_configs.parquet")
}

// ExportProject writes the project's three snapshot files. Empty tables
// produce no file. Returns the paths written.
func (e *Exporter) ExportProject(ctx context.Context, project string) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	runs, err := e.store.GetRuns(ctx, project)
	if err != nil {
		return nil, err
	}

	metricsPath, systemPath, configsPath := e.Paths(project)
	var written []string

	var metricRows, systemRows []flatRow
	for _, run := range runs {
		logs, err := e.store.GetLogs(ctx, project, run)
		if err != nil {
			return nil, err
		}
		for _, m := range logs {
			metricRows = append(metricRows, newFlatRow(run, m, true))
		}

		sysLogs, err := e.store.GetSystemLogs(ctx, project, run)
		if err != nil {
			return nil, err
		}
		for _, m := range sysLogs {
			systemRows = append(systemRows, newFlatRow(run, m, false))
		}
	}

	if len(metricRows) > 0 {
		if err := writeRows(metricsPath, metricRows, true); err != nil {
			return nil, err
		}
		written = append(written, metricsPath)
	}
	if len(systemRows) > 0 {
		if err := writeRows(systemPath, systemRows, false); err != nil {
			return nil, err
		}
		written = append(written, systemPath)
	}

	configRows, err := e.collectConfigs(ctx, project, runs)
	if err != nil {
		return nil, err
	}
	if len(configRows) > 0 {
		if err := writeConfigs(configsPath, configRows); err != nil {
			return nil, err
		}
		written = append(written, configsPath)
	}

	e.logger.Info("project exported",
		slog.String("project", project), slog.Int("files", len(written)))
	return written, nil
}

type configRow struct {
	run    string
	config string
}

func (e *Exporter) collectConfigs(ctx context.Context, project string, runs []string) ([]configRow, error) {
	var out []configRow
	for _, run := range runs {
		cfg, ok, err := e.store.GetConfig(ctx, project, run)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		encoded, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		out = append(out, configRow{run: run, config: string(encoded)})
	}
	return out, nil
}

// flatRow is one metric row with its document keys pulled apart.
type flatRow struct {
	run       string
	step      int64
	timestamp string
	values    map[string]any
}

func newFlatRow(run string, m map[string]any, hasStep bool) flatRow {
	row := flatRow{run: run, values: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case colStep:
			if hasStep {
				if s, ok := v.(int); ok {
					row.step = int64(s)
				}
			}
		case colTimestamp:
			if ts, ok := v.(string); ok {
				row.timestamp = ts
			}
		default:
			row.values[k] = v
		}
	}
	return row
}

// columnPlan decides the arrow type per metric key: float64 when every
// value is numeric, otherwise JSON text.
func columnPlan(rows []flatRow) (names []string, numeric map[string]bool) {
	numeric = make(map[string]bool)
	seen := make(map[string]bool)

	for _, row := range rows {
		for k, v := range row.values {
			if !seen[k] {
				seen[k] = true
				numeric[k] = true
				names = append(names, k)
			}
			if numeric[k] && !isNumeric(v) {
				numeric[k] = false
			}
		}
	}
	sort.Strings(names)
	return names, numeric
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	default:
		return 0
	}
}

// writeRows writes one parquet file from flat rows. hasStep includes the
// step column (system metrics carry none).
func writeRows(path string, rows []flatRow, hasStep bool) error {
	names, numeric := columnPlan(rows)

	fields := []arrow.Field{
		{Name: colRun, Type: arrow.BinaryTypes.String},
	}
	if hasStep {
		fields = append(fields, arrow.Field{Name: colStep, Type: arrow.PrimitiveTypes.Int64})
	}
	fields = append(fields, arrow.Field{Name: colTimestamp, Type: arrow.BinaryTypes.String})
	for _, name := range names {
		var typ arrow.DataType = arrow.BinaryTypes.String
		if numeric[name] {
			typ = arrow.PrimitiveTypes.Float64
		}
		fields = append(fields, arrow.Field{Name: name, Type: typ, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer rb.Release()

	for _, row := range rows {
		col := 0
		rb.Field(col).(*array.StringBuilder).Append(row.run)
		col++
		if hasStep {
			rb.Field(col).(*array.Int64Builder).Append(row.step)
			col++
		}
		rb.Field(col).(*array.StringBuilder).Append(row.timestamp)
		col++

		for _, name := range names {
			v, present := row.values[name]
			if !present {
				rb.Field(col).AppendNull()
				col++
				continue
			}
			if numeric[name] {
				rb.Field(col).(*array.Float64Builder).Append(asFloat(v))
			} else {
				encoded, err := json.Marshal(v)
				if err != nil {
					return fmt.Errorf("failed to encode value %s: %w", name, err)
				}
				rb.Field(col).(*array.StringBuilder).Append(string(encoded))
			}
			col++
		}
	}

	record := rb.NewRecord()
	defer record.Release()

	return writeRecord(path, schema, record)
}

func writeConfigs(path string, rows []configRow) error {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: colRun, Type: arrow.BinaryTypes.String},
		{Name: colConfig, Type: arrow.BinaryTypes.String},
	}, nil)

	rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer rb.Release()

	for _, row := range rows {
		rb.Field(0).(*array.StringBuilder).Append(row.run)
		rb.Field(1).(*array.StringBuilder).Append(row.config)
	}

	record := rb.NewRecord()
	defer record.Release()

	return writeRecord(path, schema, record)
}

// writeRecord writes one record to a fresh parquet file with zstd
// compression. The tmp file plus rename keeps readers off half-written
// snapshots.
func writeRecord(path string, schema *arrow.Schema, record arrow.Record) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	props := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Zstd),
	)
	// WithStoreSchema embeds the arrow schema so the import path gets the
	// exact column types back.
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, f, props, arrowProps)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	if err := writer.Write(record); err != nil {
		writer.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write parquet record: %w", err)
	}
	if err := writer.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return nil
}
