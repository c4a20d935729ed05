// Package graph maintains a lightweight relationship index over the fact
// store: typed edges between facts and alias mappings for entity names.
// The fact store remains the source of truth; the index can be rebuilt
// from merge and dedup history.
package graph

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Graph indexes fact relationships and entity aliases.
type Graph struct {
	db      *sql.DB
	logger  *zap.Logger
	dialect string
	enabled bool
}

// New creates a Graph over an already-open store connection. When enabled
// is false every operation no-ops gracefully.
func New(db *sql.DB, dialect string, logger *zap.Logger, enabled bool) *Graph {
	return &Graph{
		db:      db,
		logger:  logger,
		dialect: dialect,
		enabled: enabled,
	}
}

// Enabled returns whether the graph is enabled.
func (g *Graph) Enabled() bool {
	return g != nil && g.enabled
}

// bind rewrites ? placeholders to $n for the postgres dialect.
func (g *Graph) bind(query string) string {
	if g.dialect != "postgres" {
		return query
	}
	var builder strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&builder, "$%d", n)
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// scanTime accepts whatever the backend hands over for a timestamp column.
func scanTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		return parseTimeString(x)
	case []byte:
		return parseTimeString(string(x))
	}
	return time.Time{}
}

func parseTimeString(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
