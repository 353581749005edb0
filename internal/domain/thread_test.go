package domain

import (
	"strings"
	"testing"
)

func TestTitleFromText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"plain", "How do I sort a slice?", "How do I sort a slice?"},
		{"trims whitespace", "  hello  ", "hello"},
		{"empty", "", "New conversation"},
		{"whitespace only", "   \n\t ", "New conversation"},
		{"truncates long text", strings.Repeat("a", 100), strings.Repeat("a", 40)},
		{"exactly at limit", strings.Repeat("b", 40), strings.Repeat("b", 40)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleFromText(tt.text); got != tt.expected {
				t.Errorf("TitleFromText(%q) = %q, want %q", tt.text, got, tt.expected)
			}
		})
	}
}

func TestTitleFromTextCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 60)
	got := TitleFromText(text)
	if runes := len([]rune(got)); runes != 40 {
		t.Errorf("expected 40 runes, got %d", runes)
	}
	if !strings.HasPrefix(text, got) {
		t.Errorf("truncated title %q is not a prefix of the input", got)
	}
}
