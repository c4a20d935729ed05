package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"persona-recall/config"
	"persona-recall/embedding"
	apperrors "persona-recall/errors"
	"persona-recall/memory"
)

// SQLiteStore is the embedded backend for single-binary installs. Vectors
// are stored as blobs and nearest-neighbor search runs in process.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(cfg *config.Config, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	logger.Info("Opened sqlite store", zap.String("path", cfg.SQLitePath))
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) DB() *sql.DB     { return s.db }
func (s *SQLiteStore) Dialect() string { return "sqlite" }
func (s *SQLiteStore) Close() error    { return s.db.Close() }

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS facts (
            id TEXT PRIMARY KEY,
            profile_id TEXT NOT NULL,
            content TEXT NOT NULL,
            content_hash TEXT NOT NULL DEFAULT '',
            fact_type TEXT NOT NULL DEFAULT 'FACT',
            lane TEXT NOT NULL DEFAULT 'CANON',
            importance REAL NOT NULL DEFAULT 50,
            confidence REAL NOT NULL DEFAULT 50,
            keywords TEXT NOT NULL DEFAULT '[]',
            relationships TEXT NOT NULL DEFAULT '[]',
            embedding BLOB,
            embedding_model TEXT NOT NULL DEFAULT '',
            retrieval_count INTEGER NOT NULL DEFAULT 0,
            support_count INTEGER NOT NULL DEFAULT 0,
            quality_score REAL NOT NULL DEFAULT 0,
            is_protected INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'ACTIVE',
            version INTEGER NOT NULL DEFAULT 1,
            source TEXT NOT NULL DEFAULT '',
            created_at TEXT NOT NULL DEFAULT (datetime('now')),
            updated_at TEXT NOT NULL DEFAULT (datetime('now'))
        )`,
		`CREATE INDEX IF NOT EXISTS idx_facts_profile_created ON facts(profile_id, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_profile_hash ON facts(profile_id, content_hash)
            WHERE status = 'ACTIVE' AND content_hash <> ''`,
		`CREATE TABLE IF NOT EXISTS entities (
            id TEXT PRIMARY KEY,
            profile_id TEXT NOT NULL,
            name TEXT NOT NULL,
            entity_type TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            mention_count INTEGER NOT NULL DEFAULT 0,
            updated_at TEXT NOT NULL DEFAULT (datetime('now'))
        )`,
		`CREATE INDEX IF NOT EXISTS idx_entities_profile_name ON entities(profile_id, name)`,
		`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            created_at TEXT NOT NULL DEFAULT (datetime('now')),
            last_active TEXT NOT NULL DEFAULT (datetime('now'))
        )`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            role TEXT NOT NULL,
            content TEXT NOT NULL,
            created_at TEXT NOT NULL DEFAULT (datetime('now'))
        )`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON conversation_messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS fact_edges (
            id TEXT PRIMARY KEY,
            profile_id TEXT NOT NULL,
            from_id TEXT NOT NULL,
            to_id TEXT NOT NULL,
            edge_type TEXT NOT NULL,
            detail TEXT NOT NULL DEFAULT '{}',
            created_at TEXT NOT NULL DEFAULT (datetime('now'))
        )`,
		`CREATE INDEX IF NOT EXISTS idx_fact_edges_to ON fact_edges(to_id, edge_type)`,
		`CREATE INDEX IF NOT EXISTS idx_fact_edges_from ON fact_edges(from_id, edge_type)`,
		`CREATE TABLE IF NOT EXISTS entity_aliases (
            id TEXT PRIMARY KEY,
            profile_id TEXT NOT NULL,
            canonical_name TEXT NOT NULL,
            aliases TEXT NOT NULL DEFAULT '[]',
            created_at TEXT NOT NULL DEFAULT (datetime('now'))
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

// sqliteTimeLayout keeps fractional seconds fixed-width so lexicographic
// order on the TEXT column matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(raw string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func encodeStringList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStringList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func (s *SQLiteStore) scanFact(row rowScanner, extra ...any) (*memory.Fact, error) {
	var f memory.Fact
	var keywords, relationships, source, createdAt, updatedAt string
	var blob []byte

	dest := []any{
		&f.ID, &f.ProfileID, &f.Content, &f.ContentHash, &f.Type, &f.Lane,
		&f.Importance, &f.Confidence, &keywords, &relationships, &blob,
		&f.EmbeddingModel, &f.RetrievalCount, &f.SupportCount, &f.QualityScore,
		&f.Protected, &f.Status, &f.Version, &source, &createdAt, &updatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	f.Keywords = decodeStringList(keywords)
	f.Relationships = decodeStringList(relationships)
	if len(blob) > 0 {
		vec, err := DecodeVector(blob)
		if err != nil {
			// A corrupt blob downgrades the fact to keyword-only retrieval
			// instead of poisoning the whole result set.
			s.logger.Warn("Skipping unreadable embedding blob",
				zap.String("fact_id", f.ID),
				zap.Error(err))
		} else {
			f.Embedding = vec
		}
	}
	f.Source = memory.ParseSource(source)
	f.CreatedAt = parseSQLiteTime(createdAt)
	f.UpdatedAt = parseSQLiteTime(updatedAt)
	return &f, nil
}

func (s *SQLiteStore) InsertFact(ctx context.Context, fact *memory.Fact) error {
	var blob []byte
	if fact.HasEmbedding() {
		encoded, err := EncodeVector(fact.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
		blob = encoded
	}

	query := `
        INSERT INTO facts (` + factColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, query,
		fact.ID, fact.ProfileID, fact.Content, fact.ContentHash, string(fact.Type), string(fact.Lane),
		fact.Importance, fact.Confidence, encodeStringList(fact.Keywords), encodeStringList(fact.Relationships),
		blob, fact.EmbeddingModel, fact.RetrievalCount, fact.SupportCount, fact.QualityScore,
		fact.Protected, fact.Status, fact.Version, fact.Source.String(), sqliteTime(fact.CreatedAt), sqliteTime(fact.UpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.WrapErrorf(apperrors.ErrDuplicate, "fact with hash %s already stored", fact.ContentHash)
		}
		return apperrors.WrapErrorf(apperrors.ErrStore, "failed to insert fact: %v", err)
	}
	return nil
}

func (s *SQLiteStore) GetFact(ctx context.Context, id string) (*memory.Fact, error) {
	query := `SELECT ` + factColumns + ` FROM facts WHERE id = ?`
	fact, err := s.scanFact(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapErrorf(apperrors.ErrNotFound, "fact %s", id)
		}
		return nil, fmt.Errorf("failed to fetch fact: %w", err)
	}
	return fact, nil
}

func (s *SQLiteStore) GetFactByContentHash(ctx context.Context, profileID, hash string) (*memory.Fact, error) {
	if hash == "" {
		return nil, nil
	}
	query := `
        SELECT ` + factColumns + ` FROM facts
        WHERE profile_id = ? AND content_hash = ? AND status = 'ACTIVE'
        LIMIT 1
    `
	fact, err := s.scanFact(s.db.QueryRowContext(ctx, query, profileID, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lookup fact by content hash: %w", err)
	}
	return fact, nil
}

func (s *SQLiteStore) GetFactsWithEmbeddings(ctx context.Context, profileID string, limit int) ([]memory.Fact, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT ` + factColumns + ` FROM facts WHERE profile_id = ? AND status = 'ACTIVE' AND embedding IS NOT NULL ORDER BY created_at DESC`)
	args := []any{profileID}
	if limit > 0 {
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedded facts: %w", err)
	}
	defer rows.Close()

	return collectFacts(rows, s.scanFact)
}

func (s *SQLiteStore) GetFactsWithoutEmbeddings(ctx context.Context, profileID string, limit int) ([]memory.Fact, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT ` + factColumns + ` FROM facts WHERE status = 'ACTIVE' AND embedding IS NULL`)
	args := []any{}
	if profileID != "" {
		builder.WriteString(" AND profile_id = ?")
		args = append(args, profileID)
	}
	builder.WriteString(" ORDER BY created_at ASC")
	if limit > 0 {
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts without embeddings: %w", err)
	}
	defer rows.Close()

	return collectFacts(rows, s.scanFact)
}

func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, id string, vector []float32, model string) error {
	blob, err := EncodeVector(vector)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	query := `UPDATE facts SET embedding = ?, embedding_model = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, blob, model, sqliteTime(time.Now()), id); err != nil {
		return apperrors.WrapErrorf(apperrors.ErrStore, "failed to update embedding for fact %s: %v", id, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateLane(ctx context.Context, id string, lane memory.Lane) error {
	res, err := s.db.ExecContext(ctx, `UPDATE facts SET lane = ?, updated_at = ? WHERE id = ?`, string(lane), sqliteTime(time.Now()), id)
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *SQLiteStore) IncrementRetrievalCounts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE facts SET retrieval_count = retrieval_count + 1, updated_at = ? WHERE id IN (%s)`, placeholders(len(ids)))
	args := make([]any, 0, len(ids)+1)
	args = append(args, sqliteTime(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to increment retrieval counts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IncrementSupportCount(ctx context.Context, id string) error {
	query := `UPDATE facts SET support_count = support_count + 1, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, sqliteTime(time.Now()), id); err != nil {
		return fmt.Errorf("failed to increment support count: %w", err)
	}
	return nil
}

// SearchByEmbedding ranks embedded facts by cosine similarity in process.
// Sized for embedded installs where profiles hold thousands of facts, not
// millions.
func (s *SQLiteStore) SearchByEmbedding(ctx context.Context, profileID string, vector []float32, limit int) ([]memory.FactMatch, error) {
	facts, err := s.GetFactsWithEmbeddings(ctx, profileID, 0)
	if err != nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrStore, "failed to load facts for vector search: %v", err)
	}

	matches := make([]memory.FactMatch, 0, len(facts))
	for i := range facts {
		sim, err := embedding.CosineSimilarity(vector, facts[i].Embedding)
		if err != nil {
			s.logger.Warn("Skipping fact with incompatible embedding",
				zap.String("fact_id", facts[i].ID),
				zap.Error(err))
			continue
		}
		matches = append(matches, memory.FactMatch{Fact: facts[i], Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Fact.ID < matches[j].Fact.ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *SQLiteStore) SearchByKeywords(ctx context.Context, profileID string, keywords []string, limit int) ([]memory.Fact, error) {
	return s.searchKeywordFacts(ctx, profileID, keywords, limit, false)
}

func (s *SQLiteStore) SearchDocumentFacts(ctx context.Context, profileID string, keywords []string, limit int) ([]memory.Fact, error) {
	return s.searchKeywordFacts(ctx, profileID, keywords, limit, true)
}

func (s *SQLiteStore) searchKeywordFacts(ctx context.Context, profileID string, keywords []string, limit int, documentsOnly bool) ([]memory.Fact, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	var builder strings.Builder
	builder.WriteString(`SELECT ` + factColumns + ` FROM facts WHERE profile_id = ? AND status = 'ACTIVE'`)
	args := []any{profileID}

	clauses := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		clauses = append(clauses, "(LOWER(content) LIKE ? OR keywords LIKE ?)")
		args = append(args, "%"+strings.ToLower(kw)+"%", `%"`+kw+`"%`)
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	builder.WriteString(" AND (" + strings.Join(clauses, " OR ") + ")")
	if documentsOnly {
		builder.WriteString(" AND source LIKE 'document%'")
	}
	builder.WriteString(" ORDER BY updated_at DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrStore, "failed to run keyword search: %v", err)
	}
	defer rows.Close()

	return collectFacts(rows, s.scanFact)
}

func (s *SQLiteStore) SearchEntities(ctx context.Context, profileID string, names []string, limit int) ([]memory.Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
        SELECT id, profile_id, name, entity_type, description, mention_count, updated_at
        FROM entities
        WHERE profile_id = ? AND LOWER(name) IN (%s)
        ORDER BY mention_count DESC
        LIMIT ?
    `, placeholders(len(names)))
	args := make([]any, 0, len(names)+2)
	args = append(args, profileID)
	for _, name := range names {
		args = append(args, name)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	var entities []memory.Entity
	for rows.Next() {
		var e memory.Entity
		var updatedAt string
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.Name, &e.EntityType, &e.Description, &e.MentionCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.UpdatedAt = parseSQLiteTime(updatedAt)
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (s *SQLiteStore) MergeGroup(ctx context.Context, masterID string, version int, update memory.MergeUpdate, deleteIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.WrapErrorf(apperrors.ErrStore, "failed to begin merge transaction: %v", err)
	}
	defer tx.Rollback()

	if len(deleteIDs) > 0 {
		query := fmt.Sprintf(`DELETE FROM facts WHERE id IN (%s) AND is_protected = 0`, placeholders(len(deleteIDs)))
		args := make([]any, len(deleteIDs))
		for i, id := range deleteIDs {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return apperrors.WrapErrorf(apperrors.ErrStore, "failed to delete merged duplicates: %v", err)
		}
	}

	query := `
        UPDATE facts
        SET content = ?, content_hash = ?, importance = ?, keywords = ?,
            relationships = ?, retrieval_count = ?, support_count = ?,
            quality_score = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND version = ?
    `
	res, err := tx.ExecContext(ctx, query,
		update.Content, update.ContentHash, update.Importance, encodeStringList(update.Keywords),
		encodeStringList(update.Relationships), update.RetrievalCount, update.SupportCount,
		update.QualityScore, sqliteTime(time.Now()), masterID, version)
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

func (s *SQLiteStore) ListProfileIDs(ctx context.Context) ([]string, error) {
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

func (s *SQLiteStore) CountFacts(ctx context.Context, profileID string) (int, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT COUNT(*) FROM facts WHERE status = 'ACTIVE'`)
	args := []any{}
	if profileID != "" {
		builder.WriteString(" AND profile_id = ?")
		args = append(args, profileID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, builder.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count facts: %w", err)
	}
	return count, nil
}
