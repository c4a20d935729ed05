package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"persona-recall/embedding"
	apperrors "persona-recall/errors"
)

const (
	defaultScanThreshold = 0.90
	defaultTextThreshold = 0.85
	scanCheckpointEvery  = 25
)

// DeepScan sweeps a profile's fact corpus for accumulated near-duplicates
// the bounded write-time check missed. Vector mode compares embeddings
// pairwise; text mode falls back to lexical similarity and also covers facts
// that never received an embedding. With Apply set, discovered groups are
// merged; version conflicts skip the group rather than failing the scan.
func (e *Engine) DeepScan(ctx context.Context, req DeepScanRequest) (*DeepScanReport, error) {
	start := time.Now()
	if err := uuid.Validate(req.ProfileID); err != nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrInvalidInput, "invalid profile id %q", req.ProfileID)
	}
	depth := req.Depth
	if depth < 0 {
		depth = 0
	}

	report := &DeepScanReport{}
	var err error
	if req.TextMode {
		err = e.textScan(ctx, req, depth, report)
	} else {
		err = e.vectorScan(ctx, req, depth, report)
	}
	if err != nil {
		report.Elapsed = time.Since(start)
		return report, err
	}

	if req.Apply {
		for i := range report.Groups {
			if err := ctx.Err(); err != nil {
				report.Elapsed = time.Since(start)
				return report, err
			}
			group := &report.Groups[i]
			if err := e.applyMerge(ctx, group); err != nil {
				if apperrors.IsVersionConflict(err) {
					e.logger.Warn("Skipping group changed since scan",
						zap.String("master_id", group.Master.ID))
					continue
				}
				e.logger.Warn("Failed to merge duplicate group",
					zap.String("master_id", group.Master.ID), zap.Error(err))
				continue
			}
			report.Merged++
		}
	}

	report.Elapsed = time.Since(start)
	e.logger.Info("Deep scan complete",
		zap.String("profile_id", req.ProfileID),
		zap.Int("scanned", report.Scanned),
		zap.Int("groups", len(report.Groups)),
		zap.Int("duplicates", report.TotalDuplicates),
		zap.Int("merged", report.Merged),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

func (e *Engine) vectorScan(ctx context.Context, req DeepScanRequest, depth int, report *DeepScanReport) error {
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = e.cfg.DeepScanThreshold
	}
	if threshold <= 0 {
		threshold = defaultScanThreshold
	}

	facts, err := e.store.GetFactsWithEmbeddings(ctx, req.ProfileID, depth)
	if err != nil {
		return apperrors.WrapErrorf(apperrors.ErrStore, "load facts for scan: %v", err)
	}

	claimed := make(map[string]bool)
	for i := range facts {
		if err := ctx.Err(); err != nil {
			return err
		}
		seed := &facts[i]
		report.Scanned++
		e.checkpoint(req, report.Scanned, len(facts))
		if claimed[seed.ID] || embedding.IsZeroVector(seed.Embedding) {
			continue
		}
		var duplicates []Fact
		for j := i + 1; j < len(facts); j++ {
			other := &facts[j]
			if claimed[other.ID] || embedding.IsZeroVector(other.Embedding) {
				continue
			}
			sim, err := embedding.CosineSimilarity(seed.Embedding, other.Embedding)
			if err != nil {
				e.logger.Warn("Skipping pair with incompatible embeddings",
					zap.String("seed_id", seed.ID),
					zap.String("other_id", other.ID),
					zap.Error(err))
				continue
			}
			if sim >= threshold {
				duplicates = append(duplicates, *other)
				claimed[other.ID] = true
			}
		}
		if len(duplicates) == 0 {
			continue
		}
		claimed[seed.ID] = true
		group := BuildGroup(*seed, duplicates)
		if len(group.Duplicates) == 0 {
			continue
		}
		report.Groups = append(report.Groups, group)
		report.TotalDuplicates += len(group.Duplicates)
	}
	return nil
}

func (e *Engine) textScan(ctx context.Context, req DeepScanRequest, depth int, report *DeepScanReport) error {
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = e.cfg.TextDuplicateThreshold
	}
	if threshold <= 0 {
		threshold = defaultTextThreshold
	}

	facts, err := e.store.GetFactsWithEmbeddings(ctx, req.ProfileID, depth)
	if err != nil {
		return apperrors.WrapErrorf(apperrors.ErrStore, "load facts for scan: %v", err)
	}
	unembedded, err := e.store.GetFactsWithoutEmbeddings(ctx, req.ProfileID, depth)
	if err != nil {
		return apperrors.WrapErrorf(apperrors.ErrStore, "load unembedded facts for scan: %v", err)
	}
	facts = append(facts, unembedded...)
	if err := ctx.Err(); err != nil {
		return err
	}

	groups := FindTextDuplicates(facts, threshold)
	report.Scanned = len(facts)
	report.Groups = groups
	for i := range groups {
		report.TotalDuplicates += len(groups[i].Duplicates)
	}
	e.checkpoint(req, report.Scanned, len(facts))
	return nil
}

// checkpoint reports scan progress on a fixed stride so long sweeps stay
// observable from the API and logs.
func (e *Engine) checkpoint(req DeepScanRequest, scanned, total int) {
	if scanned != total && scanned%scanCheckpointEvery != 0 {
		return
	}
	if req.Progress != nil {
		req.Progress(scanned, total)
	}
	if scanned%scanCheckpointEvery == 0 {
		e.logger.Debug("Deep scan progress",
			zap.String("profile_id", req.ProfileID),
			zap.Int("scanned", scanned),
			zap.Int("total", total))
	}
}
