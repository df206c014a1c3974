package google

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

func TestNormalizeCell(t *testing.T) {
	stamp := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		cell     any
		expected any
	}{
		{"time", stamp, "2025-06-20T12:00:00Z"},
		{"string slice", []string{"опт", "розница"}, "опт розница"},
		{"any slice", []any{1, "a"}, "1 a"},
		{"nil", nil, ""},
		{"string", "text", "text"},
		{"int", 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeCell(tt.cell); got != tt.expected {
				t.Errorf("normalizeCell(%v) = %v, want %v", tt.cell, got, tt.expected)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if !isTransient(&googleapi.Error{Code: 429}) {
		t.Error("429 should be transient")
	}
	if !isTransient(&googleapi.Error{Code: 503}) {
		t.Error("503 should be transient")
	}
	if isTransient(&googleapi.Error{Code: 404}) {
		t.Error("404 should not be transient")
	}
	if isTransient(errors.New("boom")) {
		t.Error("plain errors should not be transient")
	}
}
