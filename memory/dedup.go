package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"persona-recall/embedding"
	apperrors "persona-recall/errors"
	"persona-recall/graph"
)

const (
	defaultDedupWindow    = 100
	defaultBlockThreshold = 0.95
	defaultFlagThreshold  = 0.90
)

// CheckDuplicate screens content against a profile's existing facts without
// persisting anything.
func (e *Engine) CheckDuplicate(ctx context.Context, profileID, content string) (*DuplicateCheckResult, error) {
	if profileID == "" || strings.TrimSpace(content) == "" {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "profile id and content are required")
	}
	result, _, _, err := e.screenContent(ctx, profileID, content)
	return result, err
}

// screenContent runs the exact-hash tier, then the vector tier over the
// recent window. Every failure inside the check fails open: a broken
// duplicate detector must never block ingestion. The embedding computed
// along the way is returned so StoreFact can reuse it.
func (e *Engine) screenContent(ctx context.Context, profileID, content string) (*DuplicateCheckResult, []float32, string, error) {
	hash := ContentHash(content)
	match, err := e.store.GetFactByContentHash(ctx, profileID, hash)
	if err != nil {
		e.logger.Warn("Content hash lookup failed, continuing to vector check", zap.Error(err))
	} else if match != nil {
		e.reinforce(match.ProfileID, match.ID, "exact-hash")
		return &DuplicateCheckResult{
			Action:  ActionBlock,
			Matches: []DuplicateMatch{{FactID: match.ID, Content: match.Content, Similarity: 1.0}},
		}, nil, "", nil
	}

	vector, model, err := e.embedder.Embed(ctx, content)
	if err != nil {
		e.logger.Warn("Duplicate check embedding failed, allowing write", zap.Error(err))
		return &DuplicateCheckResult{Action: ActionAllow}, nil, "", nil
	}

	window := e.cfg.DedupRecentWindow
	if window <= 0 {
		window = defaultDedupWindow
	}
	recent, err := e.store.GetFactsWithEmbeddings(ctx, profileID, window)
	if err != nil {
		e.logger.Warn("Recent fact window unavailable, allowing write", zap.Error(err))
		return &DuplicateCheckResult{Action: ActionAllow}, vector, model, nil
	}

	blockAt := e.cfg.DedupBlockThreshold
	if blockAt <= 0 {
		blockAt = defaultBlockThreshold
	}
	flagAt := e.cfg.DedupFlagThreshold
	if flagAt <= 0 {
		flagAt = defaultFlagThreshold
	}

	var matches []DuplicateMatch
	for i := range recent {
		f := &recent[i]
		sim, err := embedding.CosineSimilarity(vector, f.Embedding)
		if err != nil {
			e.logger.Warn("Skipping fact with incompatible embedding",
				zap.String("fact_id", f.ID), zap.Error(err))
			continue
		}
		if sim >= flagAt {
			matches = append(matches, DuplicateMatch{FactID: f.ID, Content: f.Content, Similarity: sim})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].FactID < matches[j].FactID
	})

	result := &DuplicateCheckResult{Action: ActionAllow, Matches: matches}
	if len(matches) > 0 {
		if matches[0].Similarity >= blockAt {
			result.Action = ActionBlock
			e.reinforce(profileID, matches[0].FactID, "vector")
		} else {
			result.Action = ActionFlag
		}
	}
	return result, vector, model, nil
}

// StoreFact screens and persists a new fact. A BLOCK verdict is not an
// error: the submission is dropped, the existing fact is reinforced, and the
// verdict is returned for the caller to act on.
func (e *Engine) StoreFact(ctx context.Context, fact *Fact) (*DuplicateCheckResult, error) {
	if fact == nil || strings.TrimSpace(fact.Content) == "" {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "fact content is required")
	}
	if err := uuid.Validate(fact.ProfileID); err != nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrInvalidInput, "invalid profile id %q", fact.ProfileID)
	}
	if fact.Type == "" {
		fact.Type = TypeFact
	}
	if !ValidFactType(string(fact.Type)) {
		return nil, apperrors.WrapErrorf(apperrors.ErrInvalidInput, "unknown fact type %q", fact.Type)
	}
	if fact.Lane == "" {
		fact.Lane = LaneCanon
	}
	if !ValidLane(string(fact.Lane)) {
		return nil, apperrors.WrapErrorf(apperrors.ErrInvalidInput, "unknown lane %q", fact.Lane)
	}
	fact.Importance = clampConfidence(fact.Importance)
	fact.Confidence = clampConfidence(fact.Confidence)
	if fact.Lane == LaneRumor {
		fact.Confidence = e.capRumorConfidence(fact.Confidence)
	}

	result, vector, model, err := e.screenContent(ctx, fact.ProfileID, fact.Content)
	if err != nil {
		return nil, err
	}
	if result.Action == ActionBlock {
		e.logger.Info("Blocked duplicate fact",
			zap.String("profile_id", fact.ProfileID),
			zap.String("existing_fact_id", result.Matches[0].FactID),
			zap.Float64("similarity", result.Matches[0].Similarity))
		return result, nil
	}

	if fact.ID == "" {
		fact.ID = uuid.NewString()
	} else if err := uuid.Validate(fact.ID); err != nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrInvalidInput, "invalid fact id %q", fact.ID)
	}
	fact.ContentHash = ContentHash(fact.Content)
	if len(fact.Keywords) == 0 {
		fact.Keywords = ExtractKeywords(fact.Content)
	}
	if len(vector) > 0 && !embedding.IsZeroVector(vector) {
		fact.Embedding = vector
		fact.EmbeddingModel = model
	}
	fact.Status = StatusActive
	if fact.Version <= 0 {
		fact.Version = 1
	}
	now := time.Now().UTC()
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = now
	}
	fact.UpdatedAt = now

	if err := e.store.InsertFact(ctx, fact); err != nil {
		if apperrors.IsDuplicate(err) {
			// An identical fact landed between the screen and the insert.
			// Same outcome as the exact-hash tier: block and reinforce.
			result.Action = ActionBlock
			result.Matches = nil
			if match, lookupErr := e.store.GetFactByContentHash(ctx, fact.ProfileID, fact.ContentHash); lookupErr == nil && match != nil {
				result.Matches = []DuplicateMatch{{FactID: match.ID, Content: match.Content, Similarity: 1.0}}
				e.reinforce(match.ProfileID, match.ID, "exact-hash")
			}
			e.logger.Info("Blocked duplicate fact on insert",
				zap.String("profile_id", fact.ProfileID))
			return result, nil
		}
		return nil, apperrors.WrapErrorf(apperrors.ErrStore, "insert fact: %v", err)
	}
	if result.Action == ActionFlag {
		e.logger.Info("Stored flagged fact",
			zap.String("fact_id", fact.ID),
			zap.Int("near_duplicates", len(result.Matches)))
	}
	return result, nil
}

// reinforce bumps the support count of a fact that just absorbed a duplicate
// submission and records a supports edge. Fire-and-forget: ingestion never
// waits on it.
func (e *Engine) reinforce(profileID, factID, via string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.IncrementSupportCount(ctx, factID); err != nil {
			e.logger.Warn("Failed to increment support count",
				zap.String("fact_id", factID), zap.Error(err))
			return
		}
		edge := graph.Edge{
			ProfileID: profileID,
			FromID:    factID,
			ToID:      factID,
			EdgeType:  graph.EdgeSupports,
			Detail:    map[string]any{"via": via},
		}
		if err := e.graph.CreateEdge(ctx, edge); err != nil {
			e.logger.Warn("Failed to record supports edge",
				zap.String("fact_id", factID), zap.Error(err))
		}
	}()
}

// capRumorConfidence enforces the rumor ceiling both at write time and on
// the way out of retrieval.
func (e *Engine) capRumorConfidence(confidence float64) float64 {
	ceiling := e.cfg.RumorConfidenceCap
	if ceiling <= 0 {
		ceiling = 40
	}
	if confidence > ceiling {
		return ceiling
	}
	return confidence
}
