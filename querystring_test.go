package crmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildQueryString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{
			name:   "given a flat scalar, then renders key=value",
			params: map[string]any{"halt": 0},
			want:   "halt=0&",
		},
		{
			name:   "given a nested map, then renders bracket-nested keys",
			params: map[string]any{"filter": map[string]any{"ID": 5}},
			want:   "filter%5BID%5D=5&",
		},
		{
			name:   "given a sequence, then renders index-bracketed keys",
			params: map[string]any{"select": []any{"ID", "NAME"}},
			want:   "select%5B0%5D=ID&select%5B1%5D=NAME&",
		},
		{
			name:   "given multiple top-level keys, then sorts them",
			params: map[string]any{"start": 50, "cmd": map[string]any{"a": "x"}},
			want:   "cmd%5Ba%5D=x&start=50&",
		},
		{
			name:   "given a boolean, then renders 1 or 0",
			params: map[string]any{"active": true},
			want:   "active=1&",
		},
		{
			name:   "given a nested Params value, then renders bracket-nested keys like a plain map",
			params: map[string]any{"order": Params{"id": "asc"}},
			want:   "order%5Bid%5D=asc&",
		},
		{
			name:   "given a string slice, then renders index-bracketed keys",
			params: map[string]any{"select": []string{"ID", "NAME"}},
			want:   "select%5B0%5D=ID&select%5B1%5D=NAME&",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, buildQueryString(tt.params))
		})
	}
}

func TestScalarString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string passes through", "abc", "abc"},
		{"int renders as decimal", 42, "42"},
		{"int64 renders as decimal", int64(42), "42"},
		{"float renders without trailing zeros", 1.5, "1.5"},
		{"true renders as 1", true, "1"},
		{"false renders as 0", false, "0"},
		{"nil renders empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, scalarString(tt.in))
		})
	}
}
