package store

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "How much am I spending?", "How much am I spending?"},
		{"exactly fifty runes", strings.Repeat("a", 50), strings.Repeat("a", 50)},
		{"truncated with marker", strings.Repeat("a", 80), strings.Repeat("a", 50) + "…"},
		{"empty", "", ""},
		{"trims whitespace", "  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(tt.content); got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestDeriveTitleMultibyte(t *testing.T) {
	// Rune-based truncation must not split a UTF-8 sequence.
	content := strings.Repeat("雲", 60)
	got := DeriveTitle(content)
	if !utf8.ValidString(got) {
		t.Fatalf("DeriveTitle produced invalid UTF-8: %q", got)
	}
	if want := strings.Repeat("雲", 50) + "…"; got != want {
		t.Errorf("DeriveTitle = %q, want %q", got, want)
	}
}

func TestMessageJSONShape(t *testing.T) {
	// The persisted wire shape is part of the session transcript contract.
	msg := Message{Role: RoleUser, Content: "hi", Timestamp: 1700000000000}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"role":"user","content":"hi","timestamp":1700000000000}`
	if string(data) != want {
		t.Errorf("message JSON = %s, want %s", data, want)
	}
}
