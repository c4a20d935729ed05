package memory

import (
	"sort"
	"strings"
)

// queryIntent classifies what the caller is fishing for, steering type
// boosts and the rumor lane.
type queryIntent string

const (
	intentRecall    queryIntent = "recall"
	intentOpinion   queryIntent = "opinion"
	intentNarrative queryIntent = "narrative"
	intentGeneral   queryIntent = "general"
)

// Narrative markers are checked first: "tell me the story about X" should
// open the performative lane, not read as plain recall.
var intentMarkers = []struct {
	intent  queryIntent
	phrases []string
}{
	{intentNarrative, []string{"story", "storytime", "lore", "legend", "back in the day"}},
	{intentOpinion, []string{"what do you think", "how do you feel", "favorite", "opinion", "do you like", "hot take"}},
	{intentRecall, []string{"tell me about", "remember", "what do you know", "who is", "who was", "what happened"}},
}

func detectIntent(query string) queryIntent {
	q := strings.ToLower(query)
	for _, m := range intentMarkers {
		for _, phrase := range m.phrases {
			if strings.Contains(q, phrase) {
				return m.intent
			}
		}
	}
	return intentGeneral
}

const (
	freshnessCutoff     = 5
	freshnessBoost      = 1.2
	penaltyPerRetrieval = 0.03
	maxRetrievalPenalty = 0.30
	importanceTiebreak  = 0.005
)

// orderingScore ranks candidates. Similarity dominates; importance
// contributes at most 0.5, a tiebreak rather than a signal; heavily
// retrieved facts decay so the persona stops repeating itself.
func orderingScore(similarity, importance float64, retrievalCount int) float64 {
	boost := 1.0
	if retrievalCount < freshnessCutoff {
		boost = freshnessBoost
	}
	penalty := float64(retrievalCount) * penaltyPerRetrieval
	if penalty > maxRetrievalPenalty {
		penalty = maxRetrievalPenalty
	}
	return similarity*boost*(1-penalty) + importance*importanceTiebreak
}

var intentTypeBoosts = map[queryIntent]map[FactType]float64{
	intentRecall:    {TypeLore: 0.4, TypeStory: 0.3, TypeContext: 0.1},
	intentOpinion:   {TypePreference: 0.4, TypeFact: 0.3},
	intentNarrative: {TypeStory: 0.4, TypeLore: 0.3},
}

const (
	relevanceBase            = 0.5
	sameConversationBonus    = 0.5
	importanceRelevanceScale = 0.25
	confidenceRelevanceScale = 0.1
	keywordMatchBonus        = 0.1
	keywordMatchCap          = 0.3
)

// contextualRelevance scores how well a fact fits the conversational moment,
// independent of vector similarity. It breaks ties in ranking and is
// reported with each result; it never replaces the ordering score.
func contextualRelevance(fact *Fact, conversationID string, intent queryIntent, queryKeywords []string) float64 {
	score := relevanceBase
	if conversationID != "" && fact.Source.Kind == SourceConversation && fact.Source.Ref == conversationID {
		score += sameConversationBonus
	}
	if boosts, ok := intentTypeBoosts[intent]; ok {
		score += boosts[fact.Type]
	}
	score += importanceRelevanceScale * fact.Importance / 100
	score += confidenceRelevanceScale * fact.Confidence / 100

	factKeywords := make(map[string]bool, len(fact.Keywords))
	for _, kw := range fact.Keywords {
		factKeywords[strings.ToLower(kw)] = true
	}
	matched := 0.0
	for _, kw := range queryKeywords {
		if factKeywords[strings.ToLower(kw)] {
			matched += keywordMatchBonus
		}
	}
	if matched > keywordMatchCap {
		matched = keywordMatchCap
	}
	score += matched

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// rerank scores and orders candidates in place: ordering score descending,
// contextual relevance then fact ID as deterministic tiebreaks.
func rerank(candidates []*candidate, conversationID string, intent queryIntent, queryKeywords []string) {
	for _, c := range candidates {
		c.score = orderingScore(c.similarity, c.fact.Importance, c.fact.RetrievalCount)
		c.relevance = contextualRelevance(&c.fact, conversationID, intent, queryKeywords)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].relevance != candidates[j].relevance {
			return candidates[i].relevance > candidates[j].relevance
		}
		return candidates[i].fact.ID < candidates[j].fact.ID
	})
}
