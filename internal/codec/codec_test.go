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

package codec

import (
	"errors"
	"math"
	"testing"

	trkerrors "github.com/trackio/trackio/pkg/errors"
)

func TestEncode_NonFiniteFloats(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want any
	}{
		{"positive infinity", math.Inf(1), MarkerInf},
		{"negative infinity", math.Inf(-1), MarkerNegInf},
		{"nan", math.NaN(), MarkerNaN},
		{"finite", 0.5, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRoundTrip_MetricsDocument(t *testing.T) {
	metrics := map[string]any{
		"loss": math.Inf(1),
		"acc":  math.Inf(-1),
		"f1":   math.NaN(),
		"ok":   0.5,
		"name": "resnet",
		"nested": map[string]any{
			"lr": 0.001,
			"dropout": map[string]any{
				"rate": math.NaN(),
			},
		},
	}

	data, err := Marshal(metrics)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !math.IsInf(got["loss"].(float64), 1) {
		t.Errorf("loss = %v, want +Inf", got["loss"])
	}
	if !math.IsInf(got["acc"].(float64), -1) {
		t.Errorf("acc = %v, want -Inf", got["acc"])
	}
	if !math.IsNaN(got["f1"].(float64)) {
		t.Errorf("f1 = %v, want NaN", got["f1"])
	}
	if got["ok"].(float64) != 0.5 {
		t.Errorf("ok = %v, want 0.5", got["ok"])
	}
	if got["name"].(string) != "resnet" {
		t.Errorf("name = %v, want resnet", got["name"])
	}

	nested := got["nested"].(map[string]any)
	if nested["lr"].(float64) != 0.001 {
		t.Errorf("nested.lr = %v, want 0.001", nested["lr"])
	}
	dropout := nested["dropout"].(map[string]any)
	if !math.IsNaN(dropout["rate"].(float64)) {
		t.Errorf("nested.dropout.rate = %v, want NaN", dropout["rate"])
	}
}

func TestEncode_StructFlattening(t *testing.T) {
	type hyperparams struct {
		LearningRate float64 `json:"learning_rate"`
		Epochs       int
		Optimizer    string `json:"optimizer"`
		Internal     string `json:"_internal"`
		Skipped      string `json:"-"`
		hidden       string
	}

	got, err := Encode(hyperparams{
		hidden:       "dropped",
		LearningRate: 0.01,
		Epochs:       3,
		Optimizer:    "adam",
		Internal:     "dropped",
		Skipped:      "dropped",
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("Encode() returned %T, want map", got)
	}
	if m["learning_rate"] != 0.01 {
		t.Errorf("learning_rate = %v, want 0.01", m["learning_rate"])
	}
	if m["Epochs"] != int64(3) {
		t.Errorf("Epochs = %v (%T), want 3", m["Epochs"], m["Epochs"])
	}
	if m["optimizer"] != "adam" {
		t.Errorf("optimizer = %v, want adam", m["optimizer"])
	}
	if _, present := m["_internal"]; present {
		t.Error("underscore-prefixed field should be dropped")
	}
	if _, present := m["Skipped"]; present {
		t.Error("json:\"-\" field should be dropped")
	}
	if _, present := m["hidden"]; present {
		t.Error("unexported field should be dropped")
	}
}

func TestEncode_DescriptorPassthrough(t *testing.T) {
	desc := map[string]any{
		"_type":     "image",
		"file_path": "proj/run/0/abc.png",
		"caption":   "sample",
	}

	got, err := Encode(desc)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	m := got.(map[string]any)
	if m["_type"] != "image" || m["file_path"] != "proj/run/0/abc.png" {
		t.Errorf("descriptor mutated: %v", m)
	}
}

func TestEncode_UnknownDescriptorTypePreserved(t *testing.T) {
	desc := map[string]any{"_type": "pointcloud", "file_path": "p/r/0/x.bin"}
	got, err := Encode(desc)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got.(map[string]any)["_type"] != "pointcloud" {
		t.Error("unknown _type should pass through opaquely")
	}
}

func TestEncode_CycleFailsWithBoundedRecursion(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	_, err := Encode(cyclic)
	if err == nil {
		t.Fatal("Encode() expected error for cyclic input")
	}

	var cycleErr *trkerrors.EncodingCycleError
	if !errors.As(err, &cycleErr) {
		t.Errorf("error = %v, want EncodingCycleError", err)
	}
}

func TestDecode_MarkerStringsOnly(t *testing.T) {
	in := map[string]any{
		"a": "Infinity",
		"b": "-Infinity",
		"c": "NaN",
		"d": "Infinity and beyond",
		"e": []any{"NaN", 1.0},
	}

	got := Decode(in).(map[string]any)

	if !math.IsInf(got["a"].(float64), 1) {
		t.Errorf("a = %v, want +Inf", got["a"])
	}
	if !math.IsInf(got["b"].(float64), -1) {
		t.Errorf("b = %v, want -Inf", got["b"])
	}
	if !math.IsNaN(got["c"].(float64)) {
		t.Errorf("c = %v, want NaN", got["c"])
	}
	if got["d"] != "Infinity and beyond" {
		t.Errorf("d = %v, want untouched string", got["d"])
	}
	list := got["e"].([]any)
	if !math.IsNaN(list[0].(float64)) || list[1].(float64) != 1.0 {
		t.Errorf("e = %v, want [NaN 1]", list)
	}
}
