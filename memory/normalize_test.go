package memory

import (
	"strings"
	"testing"
)

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "emphasis_removed",
			content: "**Sal** is a _butcher_ from Newark",
			want:    "Sal is a butcher from Newark",
		},
		{
			name:    "list_markers_removed",
			content: "- knows knife work\n- ran the shop",
			want:    "knows knife work ran the shop",
		},
		{
			name:    "code_span_kept_as_text",
			content: "the password was `mulberry`",
			want:    "the password was mulberry",
		},
		{
			name:    "plain_text_unchanged",
			content: "Sal is a butcher from Newark",
			want:    "Sal is a butcher from Newark",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(strings.Fields(StripMarkdown(tt.content)), " ")
			if got != tt.want {
				t.Errorf("StripMarkdown(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestNormalizeContent(t *testing.T) {
	got := NormalizeContent("  **Sal**   is a\n\nBUTCHER  ")
	want := "sal is a butcher"
	if got != want {
		t.Errorf("NormalizeContent() = %q, want %q", got, want)
	}
}

func TestContentHashIgnoresMarkupAndCase(t *testing.T) {
	plain := ContentHash("Sal is a butcher from Newark")
	marked := ContentHash("**Sal** is a butcher from NEWARK")
	if plain != marked {
		t.Error("hashes differ for content that normalizes identically")
	}

	other := ContentHash("Sal's shop burned down")
	if plain == other {
		t.Error("distinct content produced the same hash")
	}
}
