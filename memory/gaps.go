package memory

import "strings"

const (
	// Topics shorter than this are too generic to signal a gap.
	gapKeywordLen = 4 // strictly longer than

	// Fewer grounded results than this reads as thin coverage regardless
	// of keyword hits.
	minGroundedResults = 5
)

// detectKnowledgeGap checks whether the selected facts actually cover what
// the query asked about. The caller passes keywords extracted from the raw
// query only; preset and emotion terms must not manufacture gaps.
func detectKnowledgeGap(queryKeywords []string, selected []ScoredFact) *KnowledgeGap {
	var significant []string
	for _, kw := range queryKeywords {
		if len(kw) > gapKeywordLen {
			significant = append(significant, kw)
		}
	}
	if len(significant) == 0 {
		return &KnowledgeGap{HasGap: len(selected) < minGroundedResults, Coverage: 1}
	}

	var missing []string
	for _, kw := range significant {
		if !keywordCovered(kw, selected) {
			missing = append(missing, kw)
		}
	}
	coverage := float64(len(significant)-len(missing)) / float64(len(significant))
	hasGap := len(selected) < minGroundedResults || len(missing)*2 > len(significant)
	return &KnowledgeGap{HasGap: hasGap, MissingTopics: missing, Coverage: coverage}
}

// keywordCovered looks for the topic in any selected fact's content or
// keyword set.
func keywordCovered(kw string, selected []ScoredFact) bool {
	for i := range selected {
		f := &selected[i].Fact
		if strings.Contains(strings.ToLower(f.Content), kw) {
			return true
		}
		for _, k := range f.Keywords {
			if strings.EqualFold(k, kw) {
				return true
			}
		}
	}
	return false
}
