package versioning

import (
	"context"
	"time"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

// Stats summarizes every versioned memory for diagnostics.
func (s *Store) Stats(ctx context.Context) (model.VersioningStats, error) {
	memoryIDs, err := s.backend.ListAllMemoryIDsWithVersions(ctx)
	if err != nil {
		return model.VersioningStats{}, locerr.Wrap(err, "stats: list memory ids")
	}

	var stats model.VersioningStats
	stats.TotalMemories = len(memoryIDs)

	for _, memoryID := range memoryIDs {
		vs, err := s.backend.ListVersions(ctx, memoryID)
		if err != nil {
			return model.VersioningStats{}, locerr.Wrap(err, "stats: list versions")
		}
		for _, v := range vs {
			stats.TotalVersions++
			if v.IsDelta {
				stats.DeltaVersions++
			} else {
				stats.FullVersions++
			}
			if v.IsCompressed {
				stats.CompressedBytes += int64(v.SizeBytes)
			} else {
				stats.UncompressedBytes += int64(v.SizeBytes)
			}
		}
	}
	return stats, nil
}

// DiffVersions returns the hunk sequence between two arbitrary versions of a
// memory, computed fresh against their reconstructed contents (not assumed
// to be adjacent in the chain).
func (s *Store) DiffVersions(ctx context.Context, memoryID, fromVersionID, toVersionID string) ([]model.DiffHunk, error) {
	fromContent, err := s.reconstruct(ctx, memoryID, fromVersionID)
	if err != nil {
		return nil, err
	}
	toContent, err := s.reconstruct(ctx, memoryID, toVersionID)
	if err != nil {
		return nil, err
	}
	return computeDiff(fromContent, toContent), nil
}

// GetMemoryAtTime selects the version whose created_at is closest to t
// within a ±1-second tolerance window, preferring a version slightly after t
// within the window over one before it; outside the window it falls back to
// the latest version at or before t. Returning "unknown" (ok=false) is the
// correct answer when no version exists at t, even if the memory itself
// exists — never fabricate state.
func (s *Store) GetMemoryAtTime(ctx context.Context, memoryID string, t time.Time) (string, bool, error) {
	vs, err := s.backend.ListVersions(ctx, memoryID)
	if err != nil {
		return "", false, locerr.Wrap(err, "get memory at time: list versions")
	}
	if len(vs) == 0 {
		return "", false, nil
	}

	const tolerance = time.Second
	var best *model.MemoryVersion
	var bestDelta time.Duration
	var bestAfter bool

	for _, v := range vs {
		delta := v.CreatedAt.Sub(t)
		if delta < 0 {
			delta = -delta
		}
		if delta > tolerance {
			continue
		}
		after := !v.CreatedAt.Before(t)
		switch {
		case best == nil:
			best, bestDelta, bestAfter = v, delta, after
		case after && !bestAfter:
			best, bestDelta, bestAfter = v, delta, after
		case after == bestAfter && delta < bestDelta:
			best, bestDelta, bestAfter = v, delta, after
		}
	}

	if best == nil {
		// Outside the tolerance window: fall back to the latest version at
		// or before t.
		for i := len(vs) - 1; i >= 0; i-- {
			if !vs[i].CreatedAt.After(t) {
				best = vs[i]
				break
			}
		}
	}
	if best == nil {
		return "", false, nil
	}

	content, err := s.reconstruct(ctx, memoryID, best.VersionID)
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}
