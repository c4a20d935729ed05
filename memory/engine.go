// Package memory implements hybrid retrieval and deduplication over a
// persona's long-term fact store: keyword extraction, semantic and keyword
// fan-out search, confidence gating by trust lane, contextual reranking,
// diversity selection, knowledge gap detection, and the write-time and
// batch duplicate screens that keep the store from silting up.
package memory

import (
	"context"
	"fmt"
	"strings"

	"persona-recall/config"
	apperrors "persona-recall/errors"
	"persona-recall/graph"

	"go.uber.org/zap"
)

// Store is the persistence surface the engine consumes. Implemented by
// database.PostgresStore and database.SQLiteStore.
type Store interface {
	InsertFact(ctx context.Context, fact *Fact) error
	GetFact(ctx context.Context, id string) (*Fact, error)
	GetFactByContentHash(ctx context.Context, profileID, hash string) (*Fact, error)
	GetFactsWithEmbeddings(ctx context.Context, profileID string, limit int) ([]Fact, error)
	GetFactsWithoutEmbeddings(ctx context.Context, profileID string, limit int) ([]Fact, error)
	UpdateEmbedding(ctx context.Context, id string, vector []float32, model string) error
	UpdateLane(ctx context.Context, id string, lane Lane) error
	IncrementRetrievalCounts(ctx context.Context, ids []string) error
	IncrementSupportCount(ctx context.Context, id string) error
	SearchByEmbedding(ctx context.Context, profileID string, vector []float32, limit int) ([]FactMatch, error)
	SearchByKeywords(ctx context.Context, profileID string, keywords []string, limit int) ([]Fact, error)
	SearchDocumentFacts(ctx context.Context, profileID string, keywords []string, limit int) ([]Fact, error)
	SearchEntities(ctx context.Context, profileID string, names []string, limit int) ([]Entity, error)
	MergeGroup(ctx context.Context, masterID string, version int, update MergeUpdate, deleteIDs []string) error
	GetRecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error)
}

// Embedder turns text into vectors. Implemented by embedding.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, string, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine composes retrieval and deduplication over an injected store,
// embedder, and relationship graph. Construct once and share; all methods
// are safe for concurrent use.
type Engine struct {
	store    Store
	embedder Embedder
	graph    *graph.Graph
	cfg      *config.Config
	logger   *zap.Logger
}

// NewEngine wires the engine. The graph may be nil; edge writes and alias
// expansion then degrade to no-ops.
func NewEngine(store Store, embedder Embedder, g *graph.Graph, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("fact store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		graph:    g,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// DisputeFact marks a fact as contradicted: its lane flips to DISPUTED so
// retrieval stops grounding on it, and a disputes edge from the rival fact
// is recorded. Calling it again for the same pair changes nothing. The
// fact's accumulated dispute edges are returned.
func (e *Engine) DisputeFact(ctx context.Context, profileID, factID, rivalID, reason string) ([]graph.Edge, error) {
	if profileID == "" || factID == "" {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "profile id and fact id are required")
	}

	fact, err := e.store.GetFact(ctx, factID)
	if err != nil {
		return nil, fmt.Errorf("failed to load disputed fact: %w", err)
	}
	if fact.ProfileID != profileID {
		return nil, apperrors.WrapErrorf(apperrors.ErrNotFound, "fact %s", factID)
	}

	if fact.Lane != LaneDisputed {
		if err := e.store.UpdateLane(ctx, factID, LaneDisputed); err != nil {
			return nil, fmt.Errorf("failed to move fact to disputed lane: %w", err)
		}
		e.logger.Info("Fact moved to disputed lane",
			zap.String("fact_id", factID),
			zap.String("profile_id", profileID))
	}

	edges, err := e.graph.GetIncomingEdges(ctx, factID, graph.EdgeDisputes)
	if err != nil {
		e.logger.Warn("Failed to load dispute edges", zap.Error(err), zap.String("fact_id", factID))
		edges = nil
	}

	if rivalID != "" && !hasEdgeFrom(edges, rivalID) {
		rival, err := e.store.GetFact(ctx, rivalID)
		if err != nil {
			return nil, fmt.Errorf("failed to load rival fact: %w", err)
		}
		if rival.ProfileID != profileID {
			return nil, apperrors.WrapErrorf(apperrors.ErrNotFound, "fact %s", rivalID)
		}
		detail := map[string]any{}
		if reason = strings.TrimSpace(reason); reason != "" {
			detail["reason"] = reason
		}
		edge := graph.Edge{
			ProfileID: profileID,
			FromID:    rivalID,
			ToID:      factID,
			EdgeType:  graph.EdgeDisputes,
			Detail:    detail,
		}
		if err := e.graph.CreateEdge(ctx, edge); err != nil {
			e.logger.Warn("Failed to record dispute edge",
				zap.Error(err),
				zap.String("from", rivalID),
				zap.String("to", factID))
		} else if refreshed, err := e.graph.GetIncomingEdges(ctx, factID, graph.EdgeDisputes); err == nil {
			edges = refreshed
		}
	}

	return edges, nil
}

func hasEdgeFrom(edges []graph.Edge, fromID string) bool {
	for _, edge := range edges {
		if edge.FromID == fromID {
			return true
		}
	}
	return false
}

// RegisterAlias records nicknames for a canonical entity name so queries
// using either form resolve to the same entity.
func (e *Engine) RegisterAlias(ctx context.Context, profileID, canonicalName string, aliases []string) error {
	if profileID == "" || strings.TrimSpace(canonicalName) == "" {
		return apperrors.WrapError(apperrors.ErrInvalidInput, "profile id and canonical name are required")
	}
	var kept []string
	for _, alias := range aliases {
		if alias = strings.TrimSpace(alias); alias != "" {
			kept = append(kept, alias)
		}
	}
	if len(kept) == 0 {
		return apperrors.WrapError(apperrors.ErrInvalidInput, "at least one alias is required")
	}
	return e.graph.CreateOrUpdateAlias(ctx, profileID, canonicalName, kept)
}
