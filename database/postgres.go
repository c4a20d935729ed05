package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"persona-recall/config"
	apperrors "persona-recall/errors"
	"persona-recall/memory"
)

// pgUniqueViolation is the SQLSTATE class for unique constraint failures.
const pgUniqueViolation = "23505"

// PostgresStore persists facts in Postgres with pgvector for semantic search.
type PostgresStore struct {
	db        *sql.DB
	logger    *zap.Logger
	dimension int
}

func NewPostgresStore(cfg *config.Config, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	logger.Info("Connected to postgres store")
	return &PostgresStore{db: db, logger: logger, dimension: cfg.EmbeddingDimension}, nil
}

func (s *PostgresStore) DB() *sql.DB     { return s.db }
func (s *PostgresStore) Dialect() string { return "postgres" }
func (s *PostgresStore) Close() error    { return s.db.Close() }

// EnsureSchema creates the required tables and indexes if they do not
// already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	// The vector extension needs elevated privileges on some hosts; when it
	// is already installed this is a no-op, otherwise vector queries will
	// fail loudly later.
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		s.logger.Warn("Could not create vector extension, assuming it exists", zap.Error(err))
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS facts (
            id UUID PRIMARY KEY,
            profile_id UUID NOT NULL,
            content TEXT NOT NULL,
            content_hash TEXT NOT NULL DEFAULT '',
            fact_type TEXT NOT NULL DEFAULT 'FACT',
            lane TEXT NOT NULL DEFAULT 'CANON',
            importance DOUBLE PRECISION NOT NULL DEFAULT 50,
            confidence DOUBLE PRECISION NOT NULL DEFAULT 50,
            keywords TEXT[] NOT NULL DEFAULT '{}'::TEXT[],
            relationships TEXT[] NOT NULL DEFAULT '{}'::TEXT[],
            embedding vector(%d),
            embedding_model TEXT NOT NULL DEFAULT '',
            retrieval_count INTEGER NOT NULL DEFAULT 0,
            support_count INTEGER NOT NULL DEFAULT 0,
            quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
            is_protected BOOLEAN NOT NULL DEFAULT FALSE,
            status TEXT NOT NULL DEFAULT 'ACTIVE',
            version INTEGER NOT NULL DEFAULT 1,
            source TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_facts_profile_created ON facts(profile_id, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_profile_hash ON facts(profile_id, content_hash)
            WHERE status = 'ACTIVE' AND content_hash <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_facts_keywords ON facts USING GIN(keywords)`,
		`CREATE TABLE IF NOT EXISTS entities (
            id UUID PRIMARY KEY,
            profile_id UUID NOT NULL,
            name TEXT NOT NULL,
            entity_type TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            mention_count INTEGER NOT NULL DEFAULT 0,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_entities_profile_name ON entities(profile_id, LOWER(name))`,
		`CREATE TABLE IF NOT EXISTS conversations (
            id UUID PRIMARY KEY,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_active TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
            id UUID PRIMARY KEY,
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            role TEXT NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON conversation_messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS fact_edges (
            id UUID PRIMARY KEY,
            profile_id UUID NOT NULL,
            from_id UUID NOT NULL,
            to_id UUID NOT NULL,
            edge_type TEXT NOT NULL,
            detail JSONB NOT NULL DEFAULT '{}'::jsonb,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_fact_edges_to ON fact_edges(to_id, edge_type)`,
		`CREATE INDEX IF NOT EXISTS idx_fact_edges_from ON fact_edges(from_id, edge_type)`,
		`CREATE TABLE IF NOT EXISTS entity_aliases (
            id UUID PRIMARY KEY,
            profile_id UUID NOT NULL,
            canonical_name TEXT NOT NULL,
            aliases JSONB NOT NULL DEFAULT '[]'::jsonb,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_entity_aliases_profile ON entity_aliases(profile_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// nullVector scans a nullable pgvector column.
type nullVector struct {
	vec   pgvector.Vector
	valid bool
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		n.valid = false
		return nil
	}
	if err := n.vec.Scan(src); err != nil {
		return err
	}
	n.valid = true
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresFact(row rowScanner, extra ...any) (*memory.Fact, error) {
	var f memory.Fact
	var keywords, relationships pq.StringArray
	var emb nullVector
	var source string

	dest := []any{
		&f.ID, &f.ProfileID, &f.Content, &f.ContentHash, &f.Type, &f.Lane,
		&f.Importance, &f.Confidence, &keywords, &relationships, &emb,
		&f.EmbeddingModel, &f.RetrievalCount, &f.SupportCount, &f.QualityScore,
		&f.Protected, &f.Status, &f.Version, &source, &f.CreatedAt, &f.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	f.Keywords = []string(keywords)
	f.Relationships = []string(relationships)
	if emb.valid {
		f.Embedding = emb.vec.Slice()
	}
	f.Source = memory.ParseSource(source)
	return &f, nil
}

func (s *PostgresStore) InsertFact(ctx context.Context, fact *memory.Fact) error {
	var embedding any
	if fact.HasEmbedding() {
		embedding = pgvector.NewVector(fact.Embedding)
	}

	query := `
        INSERT INTO facts (` + factColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
    `
	_, err := s.db.ExecContext(ctx, query,
		fact.ID, fact.ProfileID, fact.Content, fact.ContentHash, fact.Type, fact.Lane,
		fact.Importance, fact.Confidence, pq.Array(fact.Keywords), pq.Array(fact.Relationships),
		embedding, fact.EmbeddingModel, fact.RetrievalCount, fact.SupportCount, fact.QualityScore,
		fact.Protected, fact.Status, fact.Version, fact.Source.String(), fact.CreatedAt, fact.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperrors.WrapErrorf(apperrors.ErrDuplicate, "fact with hash %s already stored", fact.ContentHash)
		}
		return apperrors.WrapErrorf(apperrors.ErrStore, "failed to insert fact: %v", err)
	}
	return nil
}

func (s *PostgresStore) GetFact(ctx context.Context, id string) (*memory.Fact, error) {
	query := `SELECT ` + factColumns + ` FROM facts WHERE id = $1`
	fact, err := scanPostgresFact(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapErrorf(apperrors.ErrNotFound, "fact %s", id)
		}
		return nil, fmt.Errorf("failed to fetch fact: %w", err)
	}
	return fact, nil
}

// GetFactByContentHash returns the active fact matching the normalized
// content hash, or nil when no such fact exists.
func (s *PostgresStore) GetFactByContentHash(ctx context.Context, profileID, hash string) (*memory.Fact, error) {
	if hash == "" {
		return nil, nil
	}
	query := `
        SELECT ` + factColumns + ` FROM facts
        WHERE profile_id = $1 AND content_hash = $2 AND status = 'ACTIVE'
        LIMIT 1
    `
	fact, err := scanPostgresFact(s.db.QueryRowContext(ctx, query, profileID, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lookup fact by content hash: %w", err)
	}
	return fact, nil
}

// GetFactsWithEmbeddings returns active embedded facts newest first. A
// limit <= 0 returns all of them.
func (s *PostgresStore) GetFactsWithEmbeddings(ctx context.Context, profileID string, limit int) ([]memory.Fact, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT ` + factColumns + ` FROM facts WHERE profile_id = $1 AND status = 'ACTIVE' AND embedding IS NOT NULL ORDER BY created_at DESC`)
	args := []any{profileID}
	if limit > 0 {
		builder.WriteString(" LIMIT $2")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedded facts: %w", err)
	}
	defer rows.Close()

	return collectFacts(rows, scanPostgresFact)
}

func (s *PostgresStore) GetFactsWithoutEmbeddings(ctx context.Context, profileID string, limit int) ([]memory.Fact, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT ` + factColumns + ` FROM facts WHERE status = 'ACTIVE' AND embedding IS NULL`)
	args := []any{}
	if profileID != "" {
		args = append(args, profileID)
		builder.WriteString(fmt.Sprintf(" AND profile_id = $%d", len(args)))
	}
	builder.WriteString(" ORDER BY created_at ASC")
	if limit > 0 {
		args = append(args, limit)
		builder.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts without embeddings: %w", err)
	}
	defer rows.Close()

	return collectFacts(rows, scanPostgresFact)
}

func (s *PostgresStore) UpdateEmbedding(ctx context.Context, id string, vector []float32, model string) error {
	query := `UPDATE facts SET embedding = $1, embedding_model = $2, updated_at = NOW() WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, query, pgvector.NewVector(vector), model, id); err != nil {
		return apperrors.WrapErrorf(apperrors.ErrStore, "failed to update embedding for fact %s: %v", id, err)
	}
	return nil
}

func (s *PostgresStore) UpdateLane(ctx context.Context, id string, lane memory.Lane) error {
	res, err := s.db.ExecContext(ctx, `UPDATE facts SET lane = $1, updated_at = NOW() WHERE id = $2`, string(lane), id)
	if err != nil {
		return apperrors.WrapErrorf(apperrors.ErrStore, "failed to update lane for fact %s: %v", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read lane update result: %w", err)
	}
	if affected == 0 {
		return apperrors.WrapErrorf(apperrors.ErrNotFound, "fact %s", id)
	}
	return nil
}

func (s *PostgresStore) IncrementRetrievalCounts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE facts SET retrieval_count = retrieval_count + 1, updated_at = NOW() WHERE id = ANY($1)`
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to increment retrieval counts: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementSupportCount(ctx context.Context, id string) error {
	query := `UPDATE facts SET support_count = support_count + 1, updated_at = NOW() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment support count: %w", err)
	}
	return nil
}

// SearchByEmbedding runs cosine nearest-neighbor search over active
// embedded facts, returning matches ordered by similarity.
func (s *PostgresStore) SearchByEmbedding(ctx context.Context, profileID string, vector []float32, limit int) ([]memory.FactMatch, error) {
	query := `
        SELECT ` + factColumns + `, 1 - (embedding <=> $2::vector) AS similarity
        FROM facts
        WHERE profile_id = $1 AND status = 'ACTIVE' AND embedding IS NOT NULL
        ORDER BY embedding <=> $2::vector
        LIMIT $3
    `
	rows, err := s.db.QueryContext(ctx, query, profileID, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrStore, "failed to run vector search: %v", err)
	}
	defer rows.Close()

	var matches []memory.FactMatch
	for rows.Next() {
		var similarity float64
		fact, err := scanPostgresFact(rows, &similarity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vector search row: %w", err)
		}
		matches = append(matches, memory.FactMatch{Fact: *fact, Similarity: similarity})
	}
	return matches, rows.Err()
}

func (s *PostgresStore) SearchByKeywords(ctx context.Context, profileID string, keywords []string, limit int) ([]memory.Fact, error) {
	return s.searchKeywordFacts(ctx, profileID, keywords, limit, false)
}

// SearchDocumentFacts restricts the keyword search to facts whose source is
// a document.
func (s *PostgresStore) SearchDocumentFacts(ctx context.Context, profileID string, keywords []string, limit int) ([]memory.Fact, error) {
	return s.searchKeywordFacts(ctx, profileID, keywords, limit, true)
}

func (s *PostgresStore) searchKeywordFacts(ctx context.Context, profileID string, keywords []string, limit int, documentsOnly bool) ([]memory.Fact, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	var builder strings.Builder
	builder.WriteString(`SELECT ` + factColumns + ` FROM facts WHERE profile_id = $1 AND status = 'ACTIVE' AND (keywords && $2 OR content ILIKE ANY($3))`)
	if documentsOnly {
		builder.WriteString(` AND source LIKE 'document%'`)
	}
	builder.WriteString(` ORDER BY updated_at DESC LIMIT $4`)

	rows, err := s.db.QueryContext(ctx, builder.String(), profileID, pq.Array(keywords), pq.Array(likePatterns(keywords)), limit)
	if err != nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrStore, "failed to run keyword search: %v", err)
	}
	defer rows.Close()

	return collectFacts(rows, scanPostgresFact)
}

func (s *PostgresStore) SearchEntities(ctx context.Context, profileID string, names []string, limit int) ([]memory.Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query := `
        SELECT id, profile_id, name, entity_type, description, mention_count, updated_at
        FROM entities
        WHERE profile_id = $1 AND LOWER(name) = ANY($2)
        ORDER BY mention_count DESC
        LIMIT $3
    `
	rows, err := s.db.QueryContext(ctx, query, profileID, pq.Array(names), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	var entities []memory.Entity
	for rows.Next() {
		var e memory.Entity
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.Name, &e.EntityType, &e.Description, &e.MentionCount, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// MergeGroup applies a merge atomically: duplicates are deleted and the
// master row is rewritten, guarded by an optimistic version check. A stale
// version aborts the whole transaction with ErrVersionConflict.
func (s *PostgresStore) MergeGroup(ctx context.Context, masterID string, version int, update memory.MergeUpdate, deleteIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.WrapErrorf(apperrors.ErrStore, "failed to begin merge transaction: %v", err)
	}
	defer tx.Rollback()

	if len(deleteIDs) > 0 {
		// Protected facts stay even if the caller slips one into the set.
		if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE id = ANY($1) AND is_protected = FALSE`, pq.Array(deleteIDs)); err != nil {
			return apperrors.WrapErrorf(apperrors.ErrStore, "failed to delete merged duplicates: %v", err)
		}
	}

	query := `
        UPDATE facts
        SET content = $1, content_hash = $2, importance = $3, keywords = $4,
            relationships = $5, retrieval_count = $6, support_count = $7,
            quality_score = $8, version = version + 1, updated_at = NOW()
        WHERE id = $9 AND version = $10
    `
	res, err := tx.ExecContext(ctx, query,
		update.Content, update.ContentHash, update.Importance, pq.Array(update.Keywords),
		pq.Array(update.Relationships), update.RetrievalCount, update.SupportCount,
		update.QualityScore, masterID, version)
	if err != nil {
		return apperrors.WrapErrorf(apperrors.ErrStore, "failed to update merge master: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read merge update result: %w", err)
	}
	if affected == 0 {
		return apperrors.WrapErrorf(apperrors.ErrVersionConflict, "fact %s version %d", masterID, version)
	}

	return tx.Commit()
}

func (s *PostgresStore) ListProfileIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT profile_id FROM facts ORDER BY profile_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CountFacts(ctx context.Context, profileID string) (int, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT COUNT(*) FROM facts WHERE status = 'ACTIVE'`)
	args := []any{}
	if profileID != "" {
		builder.WriteString(" AND profile_id = $1")
		args = append(args, profileID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, builder.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count facts: %w", err)
	}
	return count, nil
}

// collectFacts drains a fact result set using the backend's scan helper.
func collectFacts(rows *sql.Rows, scan func(rowScanner, ...any) (*memory.Fact, error)) ([]memory.Fact, error) {
	var facts []memory.Fact
	for rows.Next() {
		fact, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact row: %w", err)
		}
		facts = append(facts, *fact)
	}
	return facts, rows.Err()
}
