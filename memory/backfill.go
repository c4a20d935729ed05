package memory

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"persona-recall/embedding"
	apperrors "persona-recall/errors"
)

const defaultBackfillBatch = 50

// BackfillEmbeddings embeds facts stored while the provider was unavailable.
// Facts are fetched oldest-first in batches; items whose embedding still
// fails are skipped and retried on the next run. Safe to re-run at any time.
func (e *Engine) BackfillEmbeddings(ctx context.Context, profileID string, batchSize int) (int, error) {
	if err := uuid.Validate(profileID); err != nil {
		return 0, apperrors.WrapErrorf(apperrors.ErrInvalidInput, "invalid profile id %q", profileID)
	}
	if batchSize <= 0 {
		batchSize = e.cfg.BackfillBatchSize
	}
	if batchSize <= 0 {
		batchSize = defaultBackfillBatch
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		facts, err := e.store.GetFactsWithoutEmbeddings(ctx, profileID, batchSize)
		if err != nil {
			return total, apperrors.WrapErrorf(apperrors.ErrStore, "load unembedded facts: %v", err)
		}
		if len(facts) == 0 {
			break
		}

		texts := make([]string, len(facts))
		for i := range facts {
			texts[i] = facts[i].Content
		}
		vectors, err := e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, apperrors.WrapErrorf(apperrors.ErrProvider, "embed backfill batch: %v", err)
		}

		updated := 0
		for i := range facts {
			if i >= len(vectors) || embedding.IsZeroVector(vectors[i]) {
				e.logger.Warn("Skipping fact whose embedding failed",
					zap.String("fact_id", facts[i].ID))
				continue
			}
			if err := e.store.UpdateEmbedding(ctx, facts[i].ID, vectors[i], e.cfg.EmbeddingModel); err != nil {
				e.logger.Warn("Failed to store backfilled embedding",
					zap.String("fact_id", facts[i].ID), zap.Error(err))
				continue
			}
			updated++
		}
		total += updated
		// Skipped facts stay at the head of the oldest-first fetch; a
		// batch with no progress means only stuck items remain.
		if updated == 0 {
			break
		}
	}

	e.logger.Info("Embedding backfill complete",
		zap.String("profile_id", profileID),
		zap.Int("updated", total))
	return total, nil
}
