// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package jsonrepair

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse_MutationClasses(t *testing.T) {
	// Each mutation of a valid object must still decode to the original.
	want := map[string]any{
		"accuracy":     float64(8),
		"helpfulness":  float64(7),
		"completeness": float64(9),
	}

	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "valid baseline",
			input: `{"accuracy":8,"helpfulness":7,"completeness":9}`,
		},
		{
			name:  "trailing comma",
			input: `{"accuracy":8,"helpfulness":7,"completeness":9,}`,
		},
		{
			name:  "unquoted keys",
			input: `{accuracy:8, helpfulness:7, completeness:9}`,
		},
		{
			name:  "unbalanced with trailing comma",
			input: `{"accuracy":8,"helpfulness":7,"completeness":9,`,
		},
		{
			name:  "unbalanced closing brace",
			input: `{"accuracy":8,"helpfulness":7,"completeness":9`,
		},
		{
			name:  "windows line endings and control chars",
			input: "{\"accuracy\":8,\r\n\"helpfulness\":7,\x07\r\n\"completeness\":9}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Parse = %v, want %v", got, want)
			}
		})
	}
}

func TestParse_MissingCommaBetweenLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]any
	}{
		{
			name:  "string then string",
			input: "{\"a\":\"x\"\n\"b\":\"y\"}",
			want:  map[string]any{"a": "x", "b": "y"},
		},
		{
			name:  "close brace then key",
			input: "{\"a\":{\"n\":1}\n\"b\":\"y\"}",
			want:  map[string]any{"a": map[string]any{"n": float64(1)}, "b": "y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_FencedBlock(t *testing.T) {
	// Grading responses wrap the object in a fenced block, often with a
	// stray trailing comma.
	input := "Here is my evaluation:\n" +
		"```json\n" +
		`{"accuracy":{"score":8},"helpfulness":{"score":7,} ,"completeness":{"score":9}}` + "\n" +
		"```\n"

	got, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	for field, want := range map[string]float64{"accuracy": 8, "helpfulness": 7, "completeness": 9} {
		sub, ok := got[field].(map[string]any)
		if !ok {
			t.Fatalf("field %q missing or not an object: %v", field, got[field])
		}
		if sub["score"] != want {
			t.Errorf("%s score = %v, want %v", field, sub["score"], want)
		}
	}
}

func TestParse_BraceWalkIgnoresSurroundingProse(t *testing.T) {
	input := `The answer scores well. {"score": 9, "note": "a {nested} brace in text"} Hope this helps!`

	got, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got["score"] != float64(9) {
		t.Errorf("score = %v, want 9", got["score"])
	}
	if got["note"] != "a {nested} brace in text" {
		t.Errorf("note = %v", got["note"])
	}
}

func TestParse_NoObjectIsFormatError(t *testing.T) {
	_, err := Parse("no structured output here, sorry")
	if err == nil {
		t.Fatal("expected error")
	}

	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected FormatError, got %T", err)
	}
	if formatErr.Raw != "no structured output here, sorry" {
		t.Errorf("FormatError.Raw = %q, want original text", formatErr.Raw)
	}
}

func TestParseInto(t *testing.T) {
	var out struct {
		Accuracy float64 `json:"accuracy"`
	}
	if err := ParseInto(`{accuracy: 8,}`, &out); err != nil {
		t.Fatalf("ParseInto failed: %v", err)
	}
	if out.Accuracy != 8 {
		t.Errorf("Accuracy = %v, want 8", out.Accuracy)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		`{"a":1,}`,
		`{a:1, b:2}`,
		"{\"a\":1,\r\n\"b\":2}",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestRepair_BalancesNestedOpeners(t *testing.T) {
	got := Repair(`{"a":[1,2,{"b":3`)
	want := `{"a":[1,2,{"b":3}]}`
	if got != want {
		t.Errorf("Repair = %q, want %q", got, want)
	}
}

func TestParse_ValidJSONRoundTripsExactly(t *testing.T) {
	// String literals that look like repair targets must come through
	// untouched when the input is already valid.
	cases := []struct {
		name string
		in   string
		key  string
		want string
	}{
		{"trailing comma inside string", `{"a":"x, }"}`, "a", "x, }"},
		{"bare-key lookalike inside string", `{"a":"{b: 1}"}`, "a", "{b: 1}"},
		{"bracket run inside string", `{"a":"[1, ]"}`, "a", "[1, ]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.in, err)
			}
			if got := obj[tc.key]; got != tc.want {
				t.Errorf("value = %q, want %q", got, tc.want)
			}
		})
	}
}
