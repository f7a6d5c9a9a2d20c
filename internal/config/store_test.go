package config

import (
	"errors"
	"testing"
)

func TestGroupBySegment(t *testing.T) {
	entries := map[string]Entry{
		"queues.smart-upload-first-pass.concurrency":  {Value: float64(4)},
		"queues.smart-upload-first-pass.max_attempts": {Value: float64(3)},
		"queues.smart-upload-cleanup.backoff":         {Value: "fixed"},
		"queues.orphan":                               {Value: true},
		"tasks.first_pass.provider":                   {Value: "openrouter"},
	}

	t.Run("groups_by_queue", func(t *testing.T) {
		result := groupBySegment(entries, "queues.")

		if len(result) != 2 {
			t.Errorf("groupBySegment() returned %d groups, want 2", len(result))
		}

		first, ok := result["smart-upload-first-pass"]
		if !ok {
			t.Fatal("groupBySegment() missing 'smart-upload-first-pass'")
		}
		if first["concurrency"] != float64(4) {
			t.Errorf("concurrency = %v, want 4", first["concurrency"])
		}
		if result["smart-upload-cleanup"]["backoff"] != "fixed" {
			t.Errorf("cleanup backoff = %v, want fixed", result["smart-upload-cleanup"]["backoff"])
		}
	})

	t.Run("no_matching_prefix", func(t *testing.T) {
		result := groupBySegment(entries, "nonexistent.")
		if len(result) != 0 {
			t.Errorf("groupBySegment() with non-matching prefix should return empty map")
		}
	})
}

func TestGetHelpers(t *testing.T) {
	m := map[string]any{
		"string_val": "hello",
		"float_val":  3.14,
		"int_val":    42,
		"bool_val":   true,
		"list_any":   []any{"a", "", "b"},
		"list_str":   []string{"x"},
		"list_csv":   "c,d",
	}

	if got := getString(m, "string_val"); got != "hello" {
		t.Errorf("getString() = %q, want %q", got, "hello")
	}
	if got := getString(m, "missing"); got != "" {
		t.Errorf("getString() for missing = %q, want empty", got)
	}

	if got := getFloat(m, "float_val"); got != 3.14 {
		t.Errorf("getFloat() = %v, want %v", got, 3.14)
	}
	if got := getFloat(m, "int_val"); got != 42 {
		t.Errorf("getFloat() for int = %v, want %v", got, 42)
	}
	if got := getInt(m, "float_val"); got != 3 {
		t.Errorf("getInt() for float = %v, want 3", got)
	}

	if got := getBool(m, "bool_val"); got != true {
		t.Errorf("getBool() = %v, want true", got)
	}
	if got := getBool(m, "missing"); got != false {
		t.Errorf("getBool() for missing = %v, want false", got)
	}

	if got := getStrings(m, "list_any"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("getStrings([]any) = %v, want [a b]", got)
	}
	if got := getStrings(m, "list_str"); len(got) != 1 || got[0] != "x" {
		t.Errorf("getStrings([]string) = %v, want [x]", got)
	}
	if got := getStrings(m, "list_csv"); len(got) != 2 || got[1] != "d" {
		t.Errorf("getStrings(csv) = %v, want [c d]", got)
	}
	if got := getStrings(m, "missing"); got != nil {
		t.Errorf("getStrings() for missing = %v, want nil", got)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid simple key", "foo", false},
		{"valid dotted key", "tasks.first_pass.provider", false},
		{"valid with underscore", "smart_upload.sample_pages", false},
		{"valid with hyphen", "queues.smart-upload-cleanup.backoff", false},
		{"valid with numbers", "provider1.config2", false},
		{"empty key", "", true},
		{"starts with dot", ".foo", true},
		{"ends with dot", "foo.", true},
		{"contains space", "foo bar", true},
		{"contains special char", "foo@bar", true},
		{"contains slash", "foo/bar", true},
		{"contains colon", "foo:bar", true},
		{"contains quote", "foo\"bar", true},
		{"contains curly brace", "foo{bar}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey(%q) error should wrap ErrInvalidKey, got %v", tt.key, err)
			}
		})
	}
}
