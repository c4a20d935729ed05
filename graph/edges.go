package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Edge types written by the engine.
const (
	EdgeSupersedes = "supersedes" // master absorbed a merged duplicate
	EdgeSupports   = "supports"   // a blocked resubmission reinforced the fact
	EdgeDisputes   = "disputes"   // another fact contradicts this one
)

// Edge is a typed relationship between two facts.
type Edge struct {
	ID        string
	ProfileID string
	FromID    string
	ToID      string
	EdgeType  string
	Detail    map[string]any
	CreatedAt time.Time
}

// CreateEdge records a relationship. Callers treat failures as best-effort:
// the engine logs and moves on, it never fails an operation over an edge.
func (g *Graph) CreateEdge(ctx context.Context, edge Edge) error {
	if !g.Enabled() {
		return nil
	}

	if _, err := uuid.Parse(edge.FromID); err != nil {
		return fmt.Errorf("invalid from_id: %w", err)
	}
	if _, err := uuid.Parse(edge.ToID); err != nil {
		return fmt.Errorf("invalid to_id: %w", err)
	}

	detail := edge.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal edge detail: %w", err)
	}

	query := g.bind(`
        INSERT INTO fact_edges (id, profile_id, from_id, to_id, edge_type, detail, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `)
	_, err = g.db.ExecContext(ctx, query,
		uuid.NewString(), edge.ProfileID, edge.FromID, edge.ToID, edge.EdgeType,
		string(detailJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}

	g.logger.Debug("Created fact edge",
		zap.String("type", edge.EdgeType),
		zap.String("from", edge.FromID),
		zap.String("to", edge.ToID))
	return nil
}

// HasIncomingEdge reports whether at least one edge of the given type
// points at the fact.
func (g *Graph) HasIncomingEdge(ctx context.Context, factID, edgeType string) (bool, error) {
	if !g.Enabled() {
		return false, nil
	}

	query := g.bind(`
        SELECT EXISTS (
            SELECT 1 FROM fact_edges
            WHERE to_id = ? AND edge_type = ?
        )
    `)
	var exists bool
	if err := g.db.QueryRowContext(ctx, query, factID, edgeType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check incoming edge: %w", err)
	}
	return exists, nil
}

// GetIncomingEdges returns the edges of one type pointing at a fact.
func (g *Graph) GetIncomingEdges(ctx context.Context, factID, edgeType string) ([]Edge, error) {
	if !g.Enabled() {
		return nil, nil
	}

	query := g.bind(`
        SELECT id, profile_id, from_id, to_id, edge_type, detail, created_at
        FROM fact_edges
        WHERE to_id = ? AND edge_type = ?
        ORDER BY created_at ASC
    `)
	rows, err := g.db.QueryContext(ctx, query, factID, edgeType)
	if err != nil {
		return nil, fmt.Errorf("failed to query incoming edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var edge Edge
		var detailJSON []byte
		var createdAt any
		if err := rows.Scan(&edge.ID, &edge.ProfileID, &edge.FromID, &edge.ToID, &edge.EdgeType, &detailJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		edge.CreatedAt = scanTime(createdAt)
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &edge.Detail); err != nil {
				g.logger.Warn("Failed to unmarshal edge detail", zap.Error(err))
				edge.Detail = map[string]any{}
			}
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}
