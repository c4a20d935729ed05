package memory

// assembleBundle packages the gated, ranked candidates into the final
// lane-separated result. Rumor confidence is re-capped on the way out so a
// caller can never mistake theater for ground truth, and the cap mutates the
// returned copy, never the stored fact.
func (e *Engine) assembleBundle(selected []ScoredFact, rumors, disputed []*candidate, entities []Entity, gap *KnowledgeGap, stats RetrievalStats, limit int) *Bundle {
	bundle := &Bundle{
		Canon:        selected,
		Rumors:       make([]ScoredFact, 0, min(len(rumors), limit)),
		Disputed:     make([]ScoredFact, 0, min(len(disputed), limit)),
		Entities:     entities,
		KnowledgeGap: gap,
		Stats:        stats,
	}
	if bundle.Canon == nil {
		bundle.Canon = []ScoredFact{}
	}

	for _, c := range rumors {
		if len(bundle.Rumors) >= limit {
			break
		}
		fact := c.fact
		fact.Confidence = e.capRumorConfidence(fact.Confidence)
		bundle.Rumors = append(bundle.Rumors, ScoredFact{
			Fact:                fact,
			Score:               c.score,
			ContextualRelevance: c.relevance,
		})
	}
	for _, c := range disputed {
		if len(bundle.Disputed) >= limit {
			break
		}
		bundle.Disputed = append(bundle.Disputed, ScoredFact{
			Fact:                c.fact,
			Score:               c.score,
			ContextualRelevance: c.relevance,
		})
	}
	return bundle
}
