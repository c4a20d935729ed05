package graph

import (
	"context"
	"fmt"
)

// EdgeCounts summarizes the relationship index for one profile.
type EdgeCounts struct {
	Supersedes int
	Supports   int
	Disputes   int
}

// CountEdges tallies edges by type for the status report.
func (g *Graph) CountEdges(ctx context.Context, profileID string) (EdgeCounts, error) {
	var counts EdgeCounts
	if !g.Enabled() {
		return counts, nil
	}

	query := g.bind(`
        SELECT edge_type, COUNT(*)
        FROM fact_edges
        WHERE profile_id = ?
        GROUP BY edge_type
    `)
	rows, err := g.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return counts, fmt.Errorf("failed to count edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var edgeType string
		var count int
		if err := rows.Scan(&edgeType, &count); err != nil {
			return counts, fmt.Errorf("failed to scan edge count: %w", err)
		}
		switch edgeType {
		case EdgeSupersedes:
			counts.Supersedes = count
		case EdgeSupports:
			counts.Supports = count
		case EdgeDisputes:
			counts.Disputes = count
		}
	}
	return counts, rows.Err()
}
