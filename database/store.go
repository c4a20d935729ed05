// Package database persists facts, entities, and conversation history for
// the retrieval engine. Two backends share one schema shape: Postgres with
// pgvector for deployments, SQLite for single-binary installs.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"persona-recall/config"
	"persona-recall/memory"
)

// Store is the full persistence surface: the engine-facing fact and
// conversation operations plus lifecycle hooks used at bootstrap.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Close() error
	DB() *sql.DB
	Dialect() string

	InsertFact(ctx context.Context, fact *memory.Fact) error
	GetFact(ctx context.Context, id string) (*memory.Fact, error)
	UpdateLane(ctx context.Context, id string, lane memory.Lane) error
	GetFactByContentHash(ctx context.Context, profileID, hash string) (*memory.Fact, error)
	GetFactsWithEmbeddings(ctx context.Context, profileID string, limit int) ([]memory.Fact, error)
	GetFactsWithoutEmbeddings(ctx context.Context, profileID string, limit int) ([]memory.Fact, error)
	UpdateEmbedding(ctx context.Context, id string, vector []float32, model string) error
	IncrementRetrievalCounts(ctx context.Context, ids []string) error
	IncrementSupportCount(ctx context.Context, id string) error
	SearchByEmbedding(ctx context.Context, profileID string, vector []float32, limit int) ([]memory.FactMatch, error)
	SearchByKeywords(ctx context.Context, profileID string, keywords []string, limit int) ([]memory.Fact, error)
	SearchDocumentFacts(ctx context.Context, profileID string, keywords []string, limit int) ([]memory.Fact, error)
	SearchEntities(ctx context.Context, profileID string, names []string, limit int) ([]memory.Entity, error)
	MergeGroup(ctx context.Context, masterID string, version int, update memory.MergeUpdate, deleteIDs []string) error
	ListProfileIDs(ctx context.Context) ([]string, error)
	CountFacts(ctx context.Context, profileID string) (int, error)

	GetRecentMessages(ctx context.Context, conversationID string, n int) ([]memory.Message, error)
	AddMessage(ctx context.Context, msg *memory.Message) error
}

// New opens the store named by DATABASE_DRIVER.
func New(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return NewPostgresStore(cfg, logger)
	case "sqlite":
		return NewSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

// factColumns is the canonical select list; scan helpers in each backend
// must consume columns in exactly this order.
const factColumns = `id, profile_id, content, content_hash, fact_type, lane, importance, confidence, keywords, relationships, embedding, embedding_model, retrieval_count, support_count, quality_score, is_protected, status, version, source, created_at, updated_at`

// likePatterns turns keywords into case-folded LIKE patterns.
func likePatterns(keywords []string) []string {
	patterns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		patterns = append(patterns, "%"+kw+"%")
	}
	return patterns
}
