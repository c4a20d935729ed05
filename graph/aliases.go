package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EntityAlias maps raw surface forms ("the butcher", "sal from the shop")
// to a canonical entity name.
type EntityAlias struct {
	ID            string
	ProfileID     string
	CanonicalName string
	Aliases       []string
}

// CreateOrUpdateAlias registers aliases for a canonical entity name,
// merging with any existing mapping for the profile.
func (g *Graph) CreateOrUpdateAlias(ctx context.Context, profileID, canonicalName string, aliases []string) error {
	if !g.Enabled() {
		return nil
	}
	if canonicalName == "" {
		return fmt.Errorf("canonical name is required")
	}

	existing, err := g.getAlias(ctx, profileID, canonicalName)
	if err != nil {
		return fmt.Errorf("failed to check existing alias: %w", err)
	}

	if existing != nil {
		merged := mergeStringSets(existing.Aliases, aliases)
		query := g.bind(`UPDATE entity_aliases SET aliases = ? WHERE id = ?`)
		if _, err := g.db.ExecContext(ctx, query, encodeAliases(merged), existing.ID); err != nil {
			return fmt.Errorf("failed to update entity alias: %w", err)
		}
		return nil
	}

	query := g.bind(`
        INSERT INTO entity_aliases (id, profile_id, canonical_name, aliases, created_at)
        VALUES (?, ?, ?, ?, ?)
    `)
	_, err = g.db.ExecContext(ctx, query,
		uuid.NewString(), profileID, canonicalName, encodeAliases(aliases),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert entity alias: %w", err)
	}

	g.logger.Debug("Created entity alias",
		zap.String("profile_id", profileID),
		zap.String("canonical", canonicalName),
		zap.Strings("aliases", aliases))
	return nil
}

func (g *Graph) getAlias(ctx context.Context, profileID, canonicalName string) (*EntityAlias, error) {
	query := g.bind(`
        SELECT id, profile_id, canonical_name, aliases
        FROM entity_aliases
        WHERE profile_id = ? AND canonical_name = ?
        LIMIT 1
    `)
	var alias EntityAlias
	var rawAliases []byte
	err := g.db.QueryRowContext(ctx, query, profileID, canonicalName).
		Scan(&alias.ID, &alias.ProfileID, &alias.CanonicalName, &rawAliases)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alias.Aliases = decodeAliases(rawAliases)
	return &alias, nil
}

// listAliases returns every alias mapping for a profile.
func (g *Graph) listAliases(ctx context.Context, profileID string) ([]EntityAlias, error) {
	query := g.bind(`
        SELECT id, profile_id, canonical_name, aliases
        FROM entity_aliases
        WHERE profile_id = ?
        ORDER BY canonical_name ASC
    `)
	rows, err := g.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity aliases: %w", err)
	}
	defer rows.Close()

	var aliases []EntityAlias
	for rows.Next() {
		var alias EntityAlias
		var rawAliases []byte
		if err := rows.Scan(&alias.ID, &alias.ProfileID, &alias.CanonicalName, &rawAliases); err != nil {
			return nil, fmt.Errorf("failed to scan entity alias row: %w", err)
		}
		alias.Aliases = decodeAliases(rawAliases)
		aliases = append(aliases, alias)
	}
	return aliases, rows.Err()
}

// ExpandNames maps each surface form to its canonical entity name where an
// alias exists, keeping unmatched names as-is. The result is deduplicated
// and lowercased for name matching in the store.
func (g *Graph) ExpandNames(ctx context.Context, profileID string, names []string) ([]string, error) {
	expanded := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		expanded = append(expanded, name)
	}

	for _, name := range names {
		add(name)
	}
	if !g.Enabled() || len(names) == 0 {
		return expanded, nil
	}

	aliases, err := g.listAliases(ctx, profileID)
	if err != nil {
		return expanded, err
	}

	for _, name := range names {
		normalized := normalizeEntityName(name)
		for _, alias := range aliases {
			if normalizeEntityName(alias.CanonicalName) == normalized {
				add(alias.CanonicalName)
				continue
			}
			for _, raw := range alias.Aliases {
				if normalizeEntityName(raw) == normalized {
					add(alias.CanonicalName)
					break
				}
			}
		}
	}
	return expanded, nil
}

// normalizeEntityName folds case and separators for comparison.
func normalizeEntityName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "")
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, " ", "")
	return name
}

func encodeAliases(aliases []string) string {
	if len(aliases) == 0 {
		return "[]"
	}
	data, err := json.Marshal(aliases)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeAliases(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var aliases []string
	if err := json.Unmarshal(raw, &aliases); err != nil {
		return nil
	}
	return aliases
}

func mergeStringSets(a, b []string) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, item := range a {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	for _, item := range b {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
