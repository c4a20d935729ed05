package memory

import (
	"math"
	"testing"
)

func TestSelectDiverseSameSourceCap(t *testing.T) {
	// No more than two results may come from the same source: the third
	// candidate from source S is forced to zero and excluded.
	src := Source{Kind: SourceDocument, Ref: "doc-1"}
	other := Source{Kind: SourceDocument, Ref: "doc-2"}
	ranked := []*candidate{
		{fact: Fact{ID: "s1", Type: TypeFact, Source: src}, score: 1.0},
		{fact: Fact{ID: "s2", Type: TypeLore, Source: src}, score: 0.9},
		{fact: Fact{ID: "s3", Type: TypeStory, Source: src}, score: 0.8},
		{fact: Fact{ID: "o1", Type: TypePreference, Source: other}, score: 0.7},
	}

	selected := selectDiverse(ranked, 4)

	ids := selectedIDs(selected)
	if contains(ids, "s3") {
		t.Errorf("third fact from the same source was admitted: %v", ids)
	}
	if !contains(ids, "s1") || !contains(ids, "s2") || !contains(ids, "o1") {
		t.Errorf("expected s1, s2, o1 in %v", ids)
	}
}

func TestSelectDiverseTypePenalty(t *testing.T) {
	ranked := []*candidate{
		{fact: Fact{ID: "a", Type: TypeFact}, score: 1.0},
		{fact: Fact{ID: "b", Type: TypeFact}, score: 1.0},
	}
	selected := selectDiverse(ranked, 2)

	if len(selected) != 2 {
		t.Fatalf("got %d selected, want 2", len(selected))
	}
	// Second pick of the same type carries the 0.15 penalty.
	if math.Abs(selected[1].Score-0.85) > 1e-9 {
		t.Errorf("penalized score = %v, want 0.85", selected[1].Score)
	}
}

func TestSelectDiverseNearDuplicateKeywordOverlap(t *testing.T) {
	// Overlap ratio above 0.6 draws the flat 0.5 penalty.
	ranked := []*candidate{
		{fact: Fact{ID: "a", Type: TypeFact, Keywords: []string{"sal", "butcher", "newark"}}, score: 1.0},
		{fact: Fact{ID: "b", Type: TypeLore, Keywords: []string{"sal", "butcher", "newark"}}, score: 1.0},
	}
	selected := selectDiverse(ranked, 2)

	if len(selected) != 2 {
		t.Fatalf("got %d selected, want 2", len(selected))
	}
	if math.Abs(selected[1].Score-0.5) > 1e-9 {
		t.Errorf("near-duplicate score = %v, want 0.5", selected[1].Score)
	}
}

func TestSelectDiversePartialOverlapScaled(t *testing.T) {
	// One shared keyword out of four: ratio 0.25, penalty 0.0625.
	ranked := []*candidate{
		{fact: Fact{ID: "a", Type: TypeFact, Keywords: []string{"sal", "butcher", "newark", "shop"}}, score: 1.0},
		{fact: Fact{ID: "b", Type: TypeLore, Keywords: []string{"sal", "knife", "work", "apprentice"}}, score: 1.0},
	}
	selected := selectDiverse(ranked, 2)

	if len(selected) != 2 {
		t.Fatalf("got %d selected, want 2", len(selected))
	}
	if math.Abs(selected[1].Score-0.9375) > 1e-9 {
		t.Errorf("partially overlapping score = %v, want 0.9375", selected[1].Score)
	}
}

func TestSelectDiverseRespectsLimit(t *testing.T) {
	var ranked []*candidate
	types := []FactType{TypeFact, TypePreference, TypeLore, TypeContext, TypeStory}
	for i, typ := range types {
		ranked = append(ranked, &candidate{
			fact:  Fact{ID: string(rune('a' + i)), Type: typ},
			score: 1.0 - float64(i)*0.1,
		})
	}
	if got := len(selectDiverse(ranked, 3)); got != 3 {
		t.Errorf("got %d selected, want 3", got)
	}
	if got := len(selectDiverse(ranked, 0)); got != 0 {
		t.Errorf("got %d selected with zero limit, want 0", got)
	}
}

func TestKeywordOverlapRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"disjoint", []string{"a", "b"}, []string{"c", "d"}, 0},
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 1},
		{"half_of_larger", []string{"a", "b"}, []string{"a", "b", "c", "d"}, 0.5},
		{"case_folded", []string{"Sal"}, []string{"sal"}, 1},
		{"empty_side", nil, []string{"a"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keywordOverlapRatio(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("keywordOverlapRatio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func selectedIDs(selected []ScoredFact) []string {
	ids := make([]string, len(selected))
	for i := range selected {
		ids[i] = selected[i].Fact.ID
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
