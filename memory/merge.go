package memory

import (
	"context"
	"sort"

	"go.uber.org/zap"

	apperrors "persona-recall/errors"
	"persona-recall/graph"
)

// contentReplaceMargin: a duplicate's content only displaces the master's
// when it is meaningfully longer, not merely rephrased.
const contentReplaceMargin = 1.3

// comprehensiveness ranks merge candidates by how much they carry. Content
// length dominates; importance and quality act as weighted tiebreaks.
func comprehensiveness(f *Fact) float64 {
	return float64(len(f.Content)) + f.Importance*10 + f.QualityScore*5
}

// BuildGroup assembles the merged view of a master fact and its discovered
// duplicates. Protected facts are never deleted: a protected duplicate is
// promoted to master when the seed is unprotected, and any further protected
// members are left out of the group entirely.
func BuildGroup(master Fact, duplicates []Fact) DuplicateGroup {
	if !master.Protected {
		for i := range duplicates {
			if duplicates[i].Protected {
				master, duplicates[i] = duplicates[i], master
				break
			}
		}
	}
	kept := duplicates[:0]
	for _, d := range duplicates {
		if d.Protected {
			continue
		}
		kept = append(kept, d)
	}
	duplicates = kept

	group := DuplicateGroup{
		Master:         master,
		Duplicates:     duplicates,
		MergedContent:  master.Content,
		RetrievalCount: master.RetrievalCount,
		SupportCount:   master.SupportCount,
		QualityScore:   master.QualityScore,
	}

	best := comprehensiveness(&master)
	maxImportance := master.Importance
	sumImportance := master.Importance
	keywords := map[string]bool{}
	relationships := map[string]bool{}
	for _, kw := range master.Keywords {
		keywords[kw] = true
	}
	for _, rel := range master.Relationships {
		relationships[rel] = true
	}

	for i := range duplicates {
		d := &duplicates[i]
		if c := comprehensiveness(d); c > best && float64(len(d.Content)) > float64(len(group.MergedContent))*contentReplaceMargin {
			best = c
			group.MergedContent = d.Content
		}
		if d.Importance > maxImportance {
			maxImportance = d.Importance
		}
		sumImportance += d.Importance
		group.RetrievalCount += d.RetrievalCount
		group.SupportCount += d.SupportCount
		if d.QualityScore > group.QualityScore {
			group.QualityScore = d.QualityScore
		}
		for _, kw := range d.Keywords {
			keywords[kw] = true
		}
		for _, rel := range d.Relationships {
			relationships[rel] = true
		}
	}

	avgImportance := sumImportance / float64(len(duplicates)+1)
	group.CombinedImportance = min(100, maxImportance+0.1*avgImportance)
	group.CombinedKeywords = sortedSet(keywords)
	group.CombinedRelationships = sortedSet(relationships)
	return group
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// applyMerge folds a duplicate group into its master row and deletes the
// absorbed duplicates in one transaction, guarded by the master's version.
// Lineage edges are written best-effort afterwards; the merge itself never
// depends on the graph.
func (e *Engine) applyMerge(ctx context.Context, group *DuplicateGroup) error {
	if len(group.Duplicates) == 0 {
		return nil
	}
	update := MergeUpdate{
		Content:        group.MergedContent,
		ContentHash:    ContentHash(group.MergedContent),
		Importance:     group.CombinedImportance,
		Keywords:       group.CombinedKeywords,
		Relationships:  group.CombinedRelationships,
		RetrievalCount: group.RetrievalCount,
		SupportCount:   group.SupportCount,
		QualityScore:   group.QualityScore,
	}
	deleteIDs := make([]string, len(group.Duplicates))
	for i := range group.Duplicates {
		deleteIDs[i] = group.Duplicates[i].ID
	}
	if err := e.store.MergeGroup(ctx, group.Master.ID, group.Master.Version, update, deleteIDs); err != nil {
		if apperrors.IsVersionConflict(err) {
			return err
		}
		return apperrors.WrapErrorf(apperrors.ErrStore, "merge group for master %s: %v", group.Master.ID, err)
	}

	for i := range group.Duplicates {
		d := &group.Duplicates[i]
		edge := graph.Edge{
			ProfileID: group.Master.ProfileID,
			FromID:    group.Master.ID,
			ToID:      d.ID,
			EdgeType:  graph.EdgeSupersedes,
			Detail:    map[string]any{"content": d.Content},
		}
		if err := e.graph.CreateEdge(ctx, edge); err != nil {
			e.logger.Warn("Failed to record supersedes edge",
				zap.String("master_id", group.Master.ID),
				zap.String("duplicate_id", d.ID),
				zap.Error(err))
		}
	}
	return nil
}
