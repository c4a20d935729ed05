package memory

import (
	"math"
	"slices"
	"testing"
)

func fiveFacts(contents ...string) []ScoredFact {
	selected := make([]ScoredFact, 0, 5)
	for _, content := range contents {
		selected = append(selected, ScoredFact{Fact: Fact{Content: content}})
	}
	for len(selected) < 5 {
		selected = append(selected, ScoredFact{Fact: Fact{Content: "filler entry"}})
	}
	return selected
}

func TestDetectKnowledgeGapOneOfFourCovered(t *testing.T) {
	// Four significant topics, one covered: gap flagged, three missing.
	queryKeywords := []string{"butcher", "newark", "mulberry", "stadium"}
	selected := fiveFacts("Sal was a butcher for thirty years")

	gap := detectKnowledgeGap(queryKeywords, selected)

	if !gap.HasGap {
		t.Error("HasGap = false, want true")
	}
	if len(gap.MissingTopics) != 3 {
		t.Errorf("MissingTopics = %v, want 3 entries", gap.MissingTopics)
	}
	want := []string{"newark", "mulberry", "stadium"}
	if !slices.Equal(gap.MissingTopics, want) {
		t.Errorf("MissingTopics = %v, want %v", gap.MissingTopics, want)
	}
	if math.Abs(gap.Coverage-0.25) > 1e-9 {
		t.Errorf("Coverage = %v, want 0.25", gap.Coverage)
	}
}

func TestDetectKnowledgeGapFullCoverage(t *testing.T) {
	queryKeywords := []string{"butcher", "newark"}
	selected := fiveFacts(
		"Sal was a butcher",
		"Sal grew up in Newark",
	)

	gap := detectKnowledgeGap(queryKeywords, selected)

	if gap.HasGap {
		t.Errorf("HasGap = true with full coverage and %d results", len(selected))
	}
	if len(gap.MissingTopics) != 0 {
		t.Errorf("MissingTopics = %v, want none", gap.MissingTopics)
	}
	if gap.Coverage != 1 {
		t.Errorf("Coverage = %v, want 1", gap.Coverage)
	}
}

func TestDetectKnowledgeGapThinResultSet(t *testing.T) {
	// Fewer than five selected facts flags a gap even when every topic is
	// covered.
	queryKeywords := []string{"butcher"}
	selected := []ScoredFact{{Fact: Fact{Content: "Sal was a butcher"}}}

	gap := detectKnowledgeGap(queryKeywords, selected)

	if !gap.HasGap {
		t.Error("HasGap = false, want true for a thin result set")
	}
	if len(gap.MissingTopics) != 0 {
		t.Errorf("MissingTopics = %v, want none", gap.MissingTopics)
	}
}

func TestDetectKnowledgeGapShortKeywordsIgnored(t *testing.T) {
	// Topics of four characters or fewer are too generic to count.
	gap := detectKnowledgeGap([]string{"sal", "shop", "food"}, fiveFacts())
	if gap.HasGap {
		t.Error("HasGap = true, want false when no keyword is significant")
	}
	if gap.Coverage != 1 {
		t.Errorf("Coverage = %v, want 1", gap.Coverage)
	}
}

func TestKeywordCoveredByKeywordSet(t *testing.T) {
	selected := []ScoredFact{{Fact: Fact{
		Content:  "unrelated phrasing",
		Keywords: []string{"Mulberry"},
	}}}
	if !keywordCovered("mulberry", selected) {
		t.Error("keyword set match not detected")
	}
}
