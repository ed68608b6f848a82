package perception

import (
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple JSON", `{"key": "value"}`, `{"key": "value"}`},
		{"With Preamble", `Here is the JSON: {"key": "value"}`, `{"key": "value"}`},
		{"With Postamble", `{"key": "value"} is the JSON`, `{"key": "value"}`},
		{"Nested JSON", `{"outer": {"inner": "value"}}`, `{"outer": {"inner": "value"}}`},
		{"Multiple JSON objects - return last", `{"first": 1} ... {"second": 2}`, `{"second": 2}`},
		{"Valid inside Invalid", `{ invalid json { "valid": "inside" } }`, `{ "valid": "inside" }`},
		{"Valid followed by Invalid", `{"valid": 1} { invalid }`, `{"valid": 1}`},
		{"Malformed JSON", `{ "key": "value"`, ``},
		{"Brace In String - Closing", `{"a": "}"}`, `{"a": "}"}`},
		{"Brace In String - Opening", `note {"a": "{"} done`, `{"a": "{"}`},
		{"Escaped quote", `x {"a": "say \"}\" now"} y`, `{"a": "say \"}\" now"}`},
		{"Fenced", "```json\n{\"content\": \"hi\"}\n```", `{"content": "hi"}`},
		{"Fenced without language", "```\n{\"a\": {\"b\": \"\"}}\n```", `{"a": {"b": ""}}`},
		{"No object", `just words`, ``},
		{"Top-level array ignored", `["a"]`, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.input); got != tt.expected {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestExtractJSON_UnbalancedBraces(t *testing.T) {
	input := strings.Repeat("{", 10_000)
	if result := ExtractJSON(input); result != "" {
		t.Errorf("expected empty result for unbalanced braces, got %d bytes", len(result))
	}
}

func BenchmarkExtractJSON(b *testing.B) {
	input := "Sure! ```json\n{\"schema\": {\"name\": \"Amy\", \"address\": {\"city\": \"\"}}}\n```"
	for i := 0; i < b.N; i++ {
		ExtractJSON(input)
	}
}
