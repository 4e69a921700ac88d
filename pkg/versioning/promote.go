package versioning

import (
	"context"

	"github.com/locai-dev/locai/pkg/locerr"
)

// Promote reconstructs a delta version and rewrites it in place as a full
// copy. Used both by auto-promotion (once a delta's
// access count crosses AutoPromotionAccessThreshold) and by Repair to fix a
// broken chain.
func (s *Store) Promote(ctx context.Context, memoryID, versionID string) error {
	v, err := s.backend.GetVersion(ctx, memoryID, versionID)
	if err != nil {
		return locerr.Wrap(err, "promote: load version")
	}
	if v == nil {
		return locerr.NewNotFound("version not found: " + versionID)
	}
	if !v.IsDelta {
		return nil
	}

	content, err := s.reconstructUncached(ctx, memoryID, versionID, map[string]bool{})
	if err != nil {
		return locerr.Wrap(err, "promote: reconstruct")
	}

	v.IsDelta = false
	v.Content = content
	v.DiffData = nil
	v.SizeBytes = len(content)
	v.IsCompressed = false

	if err := s.backend.PutVersion(ctx, v); err != nil {
		return locerr.Wrap(err, "promote: put")
	}

	if s.cache != nil {
		s.cacheMu.Lock()
		s.cache.invalidateMemory(memoryID)
		s.cacheMu.Unlock()
	}
	return nil
}
