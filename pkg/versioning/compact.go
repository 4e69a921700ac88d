package versioning

import (
	"context"
	"time"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

// compressAged gzip+base64s, in place, full copies older than
// CompressionThresholdDays that aren't already compressed.
func (s *Store) compressAged(ctx context.Context, memoryID string) error {
	vs, err := s.backend.ListVersions(ctx, memoryID)
	if err != nil {
		return locerr.Wrap(err, "compress aged: list versions")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.CompressionThresholdDays)
	for _, v := range vs {
		if v.IsDelta || v.IsCompressed {
			continue
		}
		if v.CreatedAt.After(cutoff) {
			continue
		}
		compressed, err := compressContent(v.Content)
		if err != nil {
			return locerr.Wrap(err, "compress aged: compress")
		}
		v.Content = compressed
		v.IsCompressed = true
		v.SizeBytes = len(compressed)
		if err := s.backend.PutVersion(ctx, v); err != nil {
			return locerr.Wrap(err, "compress aged: put")
		}
	}
	return nil
}

// Compact deletes versions matching filter, but never the KeepCount
// most-recent versions when KeepCount is set.
func (s *Store) Compact(ctx context.Context, memoryID string, filter model.CompactFilter) (int, error) {
	vs, err := s.backend.ListVersions(ctx, memoryID)
	if err != nil {
		return 0, locerr.Wrap(err, "compact: list versions")
	}

	protected := map[string]bool{}
	if filter.KeepCount != nil {
		keep := *filter.KeepCount
		start := len(vs) - keep
		if start < 0 {
			start = 0
		}
		for _, v := range vs[start:] {
			protected[v.VersionID] = true
		}
	}

	var cutoff time.Time
	hasCutoff := filter.OlderThanDays != nil
	if hasCutoff {
		cutoff = time.Now().UTC().AddDate(0, 0, -*filter.OlderThanDays)
	}

	doomed := map[string]bool{}
	for _, v := range vs {
		if protected[v.VersionID] {
			continue
		}
		if hasCutoff && !v.CreatedAt.Before(cutoff) {
			continue
		}
		doomed[v.VersionID] = true
	}

	// A surviving delta whose base falls in the deletion set would become
	// unreconstructable; promote the oldest survivor to a full copy while
	// the chain is still intact.
	if len(doomed) > 0 {
		for _, v := range vs {
			if doomed[v.VersionID] {
				continue
			}
			if v.IsDelta {
				if err := s.Promote(ctx, memoryID, v.VersionID); err != nil {
					return 0, locerr.Wrap(err, "compact: promote surviving base")
				}
			}
			break
		}
	}

	n := 0
	for _, v := range vs {
		if !doomed[v.VersionID] {
			continue
		}
		if err := s.backend.DeleteVersion(ctx, memoryID, v.VersionID); err != nil {
			return n, locerr.Wrap(err, "compact: delete version")
		}
		n++
	}

	if s.cache != nil && n > 0 {
		s.cacheMu.Lock()
		s.cache.invalidateMemory(memoryID)
		s.cacheMu.Unlock()
	}
	return n, nil
}
