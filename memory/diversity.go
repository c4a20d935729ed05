package memory

import "strings"

const (
	sameTypePenalty      = 0.15
	overlapFlatThreshold = 0.6
	overlapFlatPenalty   = 0.5
	overlapPenaltyScale  = 0.25
	sameSourceLimit      = 2
)

// selectDiverse greedily admits candidates in rank order, discounting each
// against everything already chosen: repeated fact types, overlapping
// keyword sets, and a hard cap of two facts per concrete source. A single
// pass keeps selection O(limit * candidates); an admitted fact is never
// re-penalized by later picks.
func selectDiverse(ranked []*candidate, limit int) []ScoredFact {
	if limit <= 0 {
		return nil
	}
	var chosen []*candidate
	var selected []ScoredFact
	for _, cand := range ranked {
		if len(chosen) >= limit {
			break
		}
		penalty := 0.0
		sameSource := 0
		for _, prev := range chosen {
			if prev.fact.Type == cand.fact.Type {
				penalty += sameTypePenalty
			}
			ratio := keywordOverlapRatio(prev.fact.Keywords, cand.fact.Keywords)
			if ratio > overlapFlatThreshold {
				penalty += overlapFlatPenalty
			} else {
				penalty += ratio * overlapPenaltyScale
			}
			if sourcesMatch(prev.fact.Source, cand.fact.Source) {
				sameSource++
			}
		}
		score := cand.score * max(0, 1-penalty)
		if sameSource >= sameSourceLimit {
			score = 0
		}
		if score <= 0 {
			continue
		}
		chosen = append(chosen, cand)
		selected = append(selected, ScoredFact{
			Fact:                cand.fact,
			Score:               score,
			ContextualRelevance: cand.relevance,
		})
	}
	return selected
}

// keywordOverlapRatio is shared keywords over the larger set, case folded.
func keywordOverlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, kw := range a {
		setA[strings.ToLower(kw)] = true
	}
	setB := make(map[string]bool, len(b))
	for _, kw := range b {
		setB[strings.ToLower(kw)] = true
	}
	shared := 0
	for kw := range setA {
		if setB[kw] {
			shared++
		}
	}
	return float64(shared) / float64(max(len(setA), len(setB)))
}

// sourcesMatch only counts concrete origins: two facts with no recorded ref
// are not "the same source".
func sourcesMatch(a, b Source) bool {
	return a.Ref != "" && a.Kind == b.Kind && a.Ref == b.Ref
}
