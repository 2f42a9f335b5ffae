package processes

import (
	"strings"
	"testing"

	"github.com/mapfederate/procgate/internal/ogcerr"
)

func desc(inputs map[string]any) map[string]any {
	return map[string]any{"id": "sim:flood-model", "inputs": inputs}
}

func TestValidateInputs(t *testing.T) {
	cases := []struct {
		name     string
		desc     map[string]any
		inputs   map[string]any
		wantErr  bool
		contains string
	}{
		{
			name:   "no inputs block accepts anything",
			desc:   map[string]any{"id": "x"},
			inputs: map[string]any{"whatever": 1.0},
		},
		{
			name: "missing required input",
			desc: desc(map[string]any{
				"region": map[string]any{"schema": map[string]any{"type": "string"}},
			}),
			inputs:   map[string]any{},
			wantErr:  true,
			contains: `input "region" is required`,
		},
		{
			name: "optional input may be absent",
			desc: desc(map[string]any{
				"region": map[string]any{"minOccurs": 0.0, "schema": map[string]any{"type": "string"}},
			}),
			inputs: map[string]any{},
		},
		{
			name: "type mismatch",
			desc: desc(map[string]any{
				"depth": map[string]any{"schema": map[string]any{"type": "number"}},
			}),
			inputs:   map[string]any{"depth": "deep"},
			wantErr:  true,
			contains: "must be of type number",
		},
		{
			name: "integer rejects fraction",
			desc: desc(map[string]any{
				"count": map[string]any{"schema": map[string]any{"type": "integer"}},
			}),
			inputs:  map[string]any{"count": 2.5},
			wantErr: true,
		},
		{
			name: "integer accepts whole float",
			desc: desc(map[string]any{
				"count": map[string]any{"schema": map[string]any{"type": "integer"}},
			}),
			inputs: map[string]any{"count": 3.0},
		},
		{
			name: "numeric bounds",
			desc: desc(map[string]any{
				"depth": map[string]any{"schema": map[string]any{"type": "number", "minimum": 0.0, "maximum": 10.0}},
			}),
			inputs:   map[string]any{"depth": 12.0},
			wantErr:  true,
			contains: "must be <= 10",
		},
		{
			name: "string length and pattern",
			desc: desc(map[string]any{
				"code": map[string]any{"schema": map[string]any{"type": "string", "minLength": 2.0, "pattern": "^[A-Z]+$"}},
			}),
			inputs:  map[string]any{"code": "a"},
			wantErr: true,
		},
		{
			name: "array constraints",
			desc: desc(map[string]any{
				"cells": map[string]any{"schema": map[string]any{"type": "array", "minItems": 1.0, "uniqueItems": true}},
			}),
			inputs:   map[string]any{"cells": []any{"a", "a"}},
			wantErr:  true,
			contains: "duplicate",
		},
		{
			name: "enum",
			desc: desc(map[string]any{
				"mode": map[string]any{"schema": map[string]any{"type": "string", "enum": []any{"fast", "precise"}}},
			}),
			inputs:   map[string]any{"mode": "sloppy"},
			wantErr:  true,
			contains: "enumerated",
		},
		{
			name: "several problems joined",
			desc: desc(map[string]any{
				"region": map[string]any{"schema": map[string]any{"type": "string"}},
				"depth":  map[string]any{"schema": map[string]any{"type": "number"}},
			}),
			inputs:  map[string]any{"depth": "x"},
			wantErr: true,
		},
		{
			name: "valid payload",
			desc: desc(map[string]any{
				"region": map[string]any{"schema": map[string]any{"type": "string", "enum": []any{"north", "south"}}},
				"depth":  map[string]any{"minOccurs": 0.0, "schema": map[string]any{"type": "number", "minimum": 0.0}},
			}),
			inputs: map[string]any{"region": "north", "depth": 3.5},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateInputs(tc.desc, tc.inputs)

			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("expected error")
			}

			if ogcerr.KindOf(err) != ogcerr.KindInvalidUsage {
				t.Fatalf("kind %s", ogcerr.KindOf(err))
			}

			if tc.contains != "" && !strings.Contains(err.Error(), tc.contains) {
				t.Fatalf("error %q does not mention %q", err, tc.contains)
			}
		})
	}
}
