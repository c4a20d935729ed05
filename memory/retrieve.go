package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "persona-recall/errors"
)

const (
	// Semantic hits outrank keyword hits in the merged pool; keyword-only
	// candidates enter at a fixed weight.
	semanticBoost = 1.2
	keywordWeight = 0.7

	defaultRetrievalLimit   = 8
	defaultPoolMultiplier   = 3
	minCandidatePool        = 20
	defaultChaosUnlock      = 70.0
	defaultMinCanonConf     = 60.0
	incrementAttempts       = 3
	incrementAttemptTimeout = 30 * time.Second
)

const (
	branchSemantic = "semantic"
	branchKeyword  = "keyword"
	branchDocument = "document"
	branchEntity   = "entity"
)

// candidate is a fact moving through the retrieval pipeline with the scores
// accumulated so far.
type candidate struct {
	fact        Fact
	similarity  float64 // raw vector similarity, or the keyword weight
	hasSemantic bool
	poolScore   float64 // boosted merge score, used only to trim the pool
	score       float64
	relevance   float64
}

type branchResult struct {
	name     string
	matches  []FactMatch
	facts    []Fact
	entities []Entity
	err      error
}

// Retrieve runs the full pipeline: fan out over semantic, keyword, document,
// and entity branches, merge and gate candidates by trust lane, rerank,
// enforce diversity, detect knowledge gaps, and assemble the bundle. Branch
// failures degrade the result instead of failing it; only the loss of every
// fact branch is an error.
func (e *Engine) Retrieve(ctx context.Context, query RetrievalQuery) (*Bundle, error) {
	start := time.Now()
	if query.ProfileID == "" || strings.TrimSpace(query.Query) == "" {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "profile id and query are required")
	}
	limit := query.Limit
	if limit <= 0 {
		limit = e.cfg.RetrievalLimit
	}
	if limit <= 0 {
		limit = defaultRetrievalLimit
	}
	multiplier := e.cfg.CandidateMultiplier
	if multiplier <= 0 {
		multiplier = defaultPoolMultiplier
	}
	candidateLimit := max(limit*multiplier, minCandidatePool)

	var turns []Message
	if query.ConversationID != "" {
		var err error
		turns, err = e.store.GetRecentMessages(ctx, query.ConversationID, recentTurnWindow)
		if err != nil {
			e.logger.Warn("Failed to load recent conversation turns",
				zap.String("conversation_id", query.ConversationID), zap.Error(err))
			turns = nil
		}
	}

	keywords, contextualQuery := ExtractContextual(query.Query, turns, query.Options)
	intent := detectIntent(query.Query)
	permissive := e.permissiveMode(query.Options, intent)

	results := make(chan branchResult, 4)
	go e.semanticBranch(ctx, query.ProfileID, contextualQuery, candidateLimit, results)
	go e.keywordBranch(ctx, query.ProfileID, keywords, candidateLimit, results)
	go e.documentBranch(ctx, query.ProfileID, keywords, candidateLimit, results)
	go e.entityBranch(ctx, query.ProfileID, query.Query, limit, results)

	stats := RetrievalStats{}
	var semantic []FactMatch
	var keywordFacts, documentFacts []Fact
	var entities []Entity
	factBranchFailures := 0
	for i := 0; i < 4; i++ {
		res := <-results
		if res.err != nil {
			e.logger.Warn("Retrieval branch failed",
				zap.String("branch", res.name), zap.Error(res.err))
			stats.FailedBranches = append(stats.FailedBranches, res.name)
			if res.name == branchSemantic {
				stats.Degraded = true
			}
			if res.name != branchEntity {
				factBranchFailures++
			}
			continue
		}
		switch res.name {
		case branchSemantic:
			semantic = res.matches
			stats.SemanticCandidates = len(res.matches)
		case branchKeyword:
			keywordFacts = res.facts
			stats.KeywordCandidates = len(res.facts)
		case branchDocument:
			documentFacts = res.facts
			stats.DocumentCandidates = len(res.facts)
		case branchEntity:
			entities = res.entities
		}
	}
	sort.Strings(stats.FailedBranches)
	if factBranchFailures == 3 {
		return nil, apperrors.WrapError(apperrors.ErrStore, "all retrieval branches failed")
	}

	pool := e.mergeCandidates(semantic, keywordFacts, documentFacts)
	stats.TotalCandidates = len(pool)

	grounding, rumors, disputed := e.gateByLane(pool, permissive)
	grounding = trimPool(grounding, candidateLimit)

	rerank(grounding, query.ConversationID, intent, keywords)
	rerank(rumors, query.ConversationID, intent, keywords)
	rerank(disputed, query.ConversationID, intent, keywords)

	selected := selectDiverse(grounding, limit)
	gap := detectKnowledgeGap(ExtractKeywords(query.Query), selected)

	stats.Selected = len(selected)
	stats.Elapsed = time.Since(start)
	bundle := e.assembleBundle(selected, rumors, disputed, entities, gap, stats, limit)

	e.noteRetrieval(bundleFactIDs(bundle))
	return bundle, nil
}

// mergeCandidates folds branch results into one pool keyed by fact ID.
// Branches are applied in a fixed order so scoring does not depend on
// goroutine completion order.
func (e *Engine) mergeCandidates(semantic []FactMatch, keywordFacts, documentFacts []Fact) []*candidate {
	pool := make(map[string]*candidate)
	var order []string
	ensure := func(f Fact) *candidate {
		c, ok := pool[f.ID]
		if !ok {
			c = &candidate{fact: f}
			pool[f.ID] = c
			order = append(order, f.ID)
		}
		return c
	}
	for _, m := range semantic {
		c := ensure(m.Fact)
		c.hasSemantic = true
		if m.Similarity > c.similarity {
			c.similarity = m.Similarity
		}
		if boosted := m.Similarity * semanticBoost; boosted > c.poolScore {
			c.poolScore = boosted
		}
	}
	for _, f := range keywordFacts {
		c := ensure(f)
		if !c.hasSemantic {
			c.similarity = keywordWeight
		}
		if keywordWeight > c.poolScore {
			c.poolScore = keywordWeight
		}
	}
	for _, f := range documentFacts {
		c := ensure(f)
		if !c.hasSemantic {
			c.similarity = keywordWeight
		}
		if keywordWeight > c.poolScore {
			c.poolScore = keywordWeight
		}
	}

	merged := make([]*candidate, 0, len(pool))
	for _, id := range order {
		merged = append(merged, pool[id])
	}
	return merged
}

// gateByLane enforces the trust gates: only confident CANON grounds the
// persona, RUMOR needs permissive mode, DISPUTED is always surfaced apart.
func (e *Engine) gateByLane(pool []*candidate, permissive bool) (grounding, rumors, disputed []*candidate) {
	minConf := e.cfg.MinCanonConfidence
	if minConf <= 0 {
		minConf = defaultMinCanonConf
	}
	for _, c := range pool {
		switch c.fact.Lane {
		case LaneCanon:
			if c.fact.Confidence >= minConf {
				grounding = append(grounding, c)
			}
		case LaneRumor:
			if permissive {
				rumors = append(rumors, c)
			}
		case LaneDisputed:
			disputed = append(disputed, c)
		}
	}
	return grounding, rumors, disputed
}

// trimPool orders candidates by boosted merge score so truncation keeps the
// strongest; the final ordering is recomputed by rerank.
func trimPool(pool []*candidate, limit int) []*candidate {
	if len(pool) <= limit {
		return pool
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].poolScore != pool[j].poolScore {
			return pool[i].poolScore > pool[j].poolScore
		}
		return pool[i].fact.ID < pool[j].fact.ID
	})
	return pool[:limit]
}

// permissiveMode unlocks the rumor lane for high chaos or narrative asks.
func (e *Engine) permissiveMode(opts RetrievalOptions, intent queryIntent) bool {
	unlock := e.cfg.ChaosPermissiveLevel
	if unlock <= 0 {
		unlock = defaultChaosUnlock
	}
	return opts.ChaosLevel >= unlock || intent == intentNarrative
}

func (e *Engine) semanticBranch(ctx context.Context, profileID, contextualQuery string, limit int, out chan<- branchResult) {
	vector, _, err := e.embedder.Embed(ctx, contextualQuery)
	if err != nil {
		out <- branchResult{name: branchSemantic, err: err}
		return
	}
	matches, err := e.store.SearchByEmbedding(ctx, profileID, vector, limit)
	out <- branchResult{name: branchSemantic, matches: matches, err: err}
}

func (e *Engine) keywordBranch(ctx context.Context, profileID string, keywords []string, limit int, out chan<- branchResult) {
	if len(keywords) == 0 {
		out <- branchResult{name: branchKeyword}
		return
	}
	facts, err := e.store.SearchByKeywords(ctx, profileID, keywords, limit)
	out <- branchResult{name: branchKeyword, facts: facts, err: err}
}

func (e *Engine) documentBranch(ctx context.Context, profileID string, keywords []string, limit int, out chan<- branchResult) {
	if len(keywords) == 0 {
		out <- branchResult{name: branchDocument}
		return
	}
	facts, err := e.store.SearchDocumentFacts(ctx, profileID, keywords, limit)
	out <- branchResult{name: branchDocument, facts: facts, err: err}
}

// entityBranch resolves names in the query (including registered aliases) to
// known entities. Alias expansion failures degrade to the literal names.
func (e *Engine) entityBranch(ctx context.Context, profileID, query string, limit int, out chan<- branchResult) {
	names := extractEntityNames(query)
	if len(names) == 0 {
		out <- branchResult{name: branchEntity}
		return
	}
	expanded, err := e.graph.ExpandNames(ctx, profileID, names)
	if err != nil {
		e.logger.Warn("Alias expansion failed, matching literal names", zap.Error(err))
	}
	entities, err := e.store.SearchEntities(ctx, profileID, expanded, limit)
	out <- branchResult{name: branchEntity, entities: entities, err: err}
}

func bundleFactIDs(bundle *Bundle) []string {
	ids := make([]string, 0, len(bundle.Canon)+len(bundle.Rumors)+len(bundle.Disputed))
	for i := range bundle.Canon {
		ids = append(ids, bundle.Canon[i].Fact.ID)
	}
	for i := range bundle.Rumors {
		ids = append(ids, bundle.Rumors[i].Fact.ID)
	}
	for i := range bundle.Disputed {
		ids = append(ids, bundle.Disputed[i].Fact.ID)
	}
	return ids
}

// noteRetrieval bumps retrieval counts for returned facts without holding up
// the response. Retried a few times, then dropped with an error log; a lost
// increment only delays the freshness decay.
func (e *Engine) noteRetrieval(ids []string) {
	if len(ids) == 0 {
		return
	}
	go func() {
		for attempt := 0; attempt < incrementAttempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), incrementAttemptTimeout)
			err := e.store.IncrementRetrievalCounts(ctx, ids)
			cancel()
			if err == nil {
				return
			}
			if attempt < incrementAttempts-1 {
				time.Sleep(time.Second * time.Duration(attempt+1))
				continue
			}
			e.logger.Error("Failed to record retrieval counts",
				zap.Int("fact_count", len(ids)), zap.Error(err))
		}
	}()
}
