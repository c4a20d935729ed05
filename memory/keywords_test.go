package memory

import (
	"slices"
	"strings"
	"testing"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "drops_stopwords_and_short_tokens",
			text: "Tell me about the old butcher shop in Newark",
			want: []string{"old", "butcher", "shop", "newark"},
		},
		{
			name: "strips_punctuation_and_lowercases",
			text: "Sal's shop, on Mulberry Street!",
			want: []string{"sals", "shop", "mulberry", "street"},
		},
		{
			name: "numeric_tokens_survive",
			text: "back in 1987 the shop opened",
			want: []string{"back", "1987", "shop", "opened"},
		},
		{
			name: "deduplicates",
			text: "knife knife knife work",
			want: []string{"knife", "work"},
		},
		{
			name: "empty_input",
			text: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.text)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ExtractKeywords(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractKeywordsCap(t *testing.T) {
	text := "alpha bravo charlie delta echo foxtrot golf hotel india juliett kilo"
	got := ExtractKeywords(text)
	if len(got) != maxBaseKeywords {
		t.Errorf("got %d keywords, want %d", len(got), maxBaseKeywords)
	}
}

func TestExtractContextualAddsTurnKeywords(t *testing.T) {
	turns := []Message{
		{Content: "we were talking about the rivalry with Tony"},
	}
	keywords, _ := ExtractContextual("what happened next", turns, RetrievalOptions{})

	if !slices.Contains(keywords, "rivalry") {
		t.Errorf("expected turn keyword %q in %v", "rivalry", keywords)
	}
	if !slices.Contains(keywords, "happened") {
		t.Errorf("expected base keyword %q in %v", "happened", keywords)
	}
}

func TestExtractContextualPresetKeywords(t *testing.T) {
	keywords, _ := ExtractContextual("say something", nil, RetrievalOptions{
		Mood: "nostalgic",
		Mode: "storytime",
	})

	for _, want := range []string{"childhood", "neighborhood", "story", "lore"} {
		if !slices.Contains(keywords, want) {
			t.Errorf("expected preset keyword %q in %v", want, keywords)
		}
	}
}

func TestExtractContextualEmotionKeywords(t *testing.T) {
	keywords, _ := ExtractContextual("why are you so angry at Tony", nil, RetrievalOptions{})

	if !slices.Contains(keywords, "anger") {
		t.Errorf("expected emotion keyword %q in %v", "anger", keywords)
	}
	if !slices.Contains(keywords, "grudge") {
		t.Errorf("expected emotion keyword %q in %v", "grudge", keywords)
	}
}

func TestExtractContextualCap(t *testing.T) {
	turns := []Message{
		{Content: "alpha bravo charlie delta echo foxtrot golf hotel"},
		{Content: "india juliett kilo lima mike november oscar papa"},
		{Content: "quebec romeo sierra tango uniform victor whiskey xray"},
	}
	keywords, _ := ExtractContextual(
		"zulu yankee whiskey tango sierra romeo quebec papa oscar angry",
		turns,
		RetrievalOptions{Mood: "manic", Mode: "banter"},
	)
	if len(keywords) > maxContextualKeywords {
		t.Errorf("got %d keywords, want at most %d", len(keywords), maxContextualKeywords)
	}
}

func TestExtractContextualQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		turns []Message
		want  string
	}{
		{
			name:  "no_turns_uses_raw_query",
			query: "who is Sal",
			want:  "who is Sal",
		},
		{
			name:  "recent_line_prefixes_query",
			query: "what happened to him",
			turns: []Message{{Content: "Sal ran the shop for years"}},
			want:  "Sal ran the shop for years\nwhat happened to him",
		},
		{
			name:  "identical_line_not_duplicated",
			query: "who is Sal",
			turns: []Message{{Content: "who is Sal"}},
			want:  "who is Sal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := ExtractContextual(tt.query, tt.turns, RetrievalOptions{})
			if got != tt.want {
				t.Errorf("contextual query = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		query string
		want  queryIntent
	}{
		{"tell me about Sal", intentRecall},
		{"what do you remember from Newark", intentRecall},
		{"what do you think of the new place", intentOpinion},
		{"what's your favorite dish", intentOpinion},
		{"give me the story about the fire", intentNarrative},
		{"storytime!", intentNarrative},
		{"nice weather today", intentGeneral},
	}

	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.query, " ", "_"), func(t *testing.T) {
			if got := detectIntent(tt.query); got != tt.want {
				t.Errorf("detectIntent(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestCapitalizedTokensFallback(t *testing.T) {
	got := capitalizedTokens("did Sal ever meet Tony in Newark?")
	for _, want := range []string{"Sal", "Tony", "Newark"} {
		if !slices.Contains(got, want) {
			t.Errorf("expected %q in %v", want, got)
		}
	}
	if slices.Contains(got, "did") {
		t.Errorf("lowercase token leaked into %v", got)
	}
}
