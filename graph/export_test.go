package graph

import "context"

// GetAliasForTest exposes getAlias to the external test package.
func (g *Graph) GetAliasForTest(ctx context.Context, profileID, canonicalName string) (*EntityAlias, error) {
	return g.getAlias(ctx, profileID, canonicalName)
}
