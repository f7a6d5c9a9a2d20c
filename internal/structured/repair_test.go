package structured

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRepairJSON_ValidUnchanged(t *testing.T) {
	inputs := []string{
		`{"a":1}`,
		`  {"a": [1, 2, {"b": null}], "c": "x,}"}  `,
		`[true, false, 1.5e3, -2]`,
		`"just a string"`,
	}
	for _, in := range inputs {
		if got := RepairJSON(in); got != in {
			t.Errorf("RepairJSON(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestRepairJSON_AgreesWithParse(t *testing.T) {
	inputs := []string{
		`{"title": "Sleigh Ride", "parts": [{"label": "Flute", "pages": [1, 3]}]}`,
		"{\"title\":\"March\",\"notes\":[\"model said: ```json\\n{\\\"x\\\":1}\\n```\"]}",
		`"hello"`,
		`42`,
	}
	for _, in := range inputs {
		var direct any
		if err := json.Unmarshal([]byte(in), &direct); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		var repaired any
		if err := json.Unmarshal([]byte(RepairJSON(in)), &repaired); err != nil {
			t.Fatalf("RepairJSON(%s): %v", in, err)
		}
		if !reflect.DeepEqual(direct, repaired) {
			t.Errorf("repaired = %v, want %v", repaired, direct)
		}
		parsed, err := ParseAndValidate[any](in, nil)
		if err != nil {
			t.Fatalf("ParseAndValidate(%s) error = %v", in, err)
		}
		if !reflect.DeepEqual(direct, *parsed) {
			t.Errorf("ParseAndValidate(%s) = %v, want %v", in, *parsed, direct)
		}
	}
}

func TestRepairJSON_Fixes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{"trailing commas", `{"a": [1, 2,], "b": 3,}`, map[string]any{"a": []any{1.0, 2.0}, "b": 3.0}},
		{"bare keys", `{title: "March", page_count: 4}`, map[string]any{"title": "March", "page_count": 4.0}},
		{"single quotes", `{'title': 'Stars and Stripes', 'note': 'say "hi"'}`, map[string]any{"title": "Stars and Stripes", "note": `say "hi"`}},
		{"control chars in string", "{\"a\": \"line1\nline2\ttab\"}", map[string]any{"a": "line1\nline2\ttab"}},
		{"control chars outside", "{\x01\"a\": 1\x02}", map[string]any{"a": 1.0}},
		{"unterminated string", `{"title": "Marc`, map[string]any{"title": "Marc"}},
		{"unclosed brackets", `{"parts": [{"label": "Flute"}, {"label": "Oboe"`, map[string]any{"parts": []any{map[string]any{"label": "Flute"}, map[string]any{"label": "Oboe"}}}},
		{"dangling key", `{"a": 1, "b":`, map[string]any{"a": 1.0, "b": nil}},
		{"python literals", `{"ok": True, "bad": False, "x": None}`, map[string]any{"ok": true, "bad": false, "x": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RepairJSON(tt.in)
			var got any
			if err := json.Unmarshal([]byte(out), &got); err != nil {
				t.Fatalf("repaired output %q is invalid: %v", out, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if again := RepairJSON(out); again != out {
				t.Errorf("second repair changed output: %q -> %q", out, again)
			}
		})
	}
}
