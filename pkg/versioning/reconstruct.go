package versioning

import (
	"context"
	"time"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

// reconstruct returns the materialized content of (memoryID, versionID),
// consulting the cache first, then finding the nearest full-copy base and
// replaying the delta chain from base (exclusive) to target (inclusive).
// A visited-set cycle guard makes a malformed chain abort with locerr.Cycle
// instead of recursing forever.
func (s *Store) reconstruct(ctx context.Context, memoryID, versionID string) (string, error) {
	if s.cache != nil {
		s.cacheMu.Lock()
		if content, ok := s.cache.get(cacheKey(memoryID, versionID)); ok {
			s.cacheMu.Unlock()
			return content, nil
		}
		s.cacheMu.Unlock()
	}

	content, err := s.reconstructUncached(ctx, memoryID, versionID, map[string]bool{})
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		s.cacheMu.Lock()
		s.cache.put(cacheKey(memoryID, versionID), content)
		s.cacheMu.Unlock()
	}
	return content, nil
}

func (s *Store) reconstructUncached(ctx context.Context, memoryID, versionID string, visited map[string]bool) (string, error) {
	if visited[versionID] {
		return "", locerr.NewCycle("delta chain revisits version " + versionID)
	}
	visited[versionID] = true

	v, err := s.backend.GetVersion(ctx, memoryID, versionID)
	if err != nil {
		return "", locerr.Wrap(err, "reconstruct: load version")
	}
	if v == nil {
		return "", locerr.NewStorage("reconstruct: version not found: "+versionID, nil)
	}

	if !v.IsDelta {
		return s.loadDirect(v)
	}

	base, err := s.findBaseVersion(ctx, memoryID, v.CreatedAt)
	if err != nil {
		return "", err
	}
	if base == nil {
		return "", locerr.NewIntegrity("delta " + versionID + " has no reachable base version")
	}

	baseContent, err := s.loadDirectByID(ctx, memoryID, base.VersionID)
	if err != nil {
		return "", err
	}

	chain, err := s.deltaChain(ctx, memoryID, base, v)
	if err != nil {
		return "", err
	}

	content := baseContent
	for _, delta := range chain {
		if visited[delta.VersionID] && delta.VersionID != versionID {
			return "", locerr.NewCycle("delta chain revisits version " + delta.VersionID)
		}
		visited[delta.VersionID] = true
		content = applyHunks(content, delta.DiffData)
	}
	return content, nil
}

// loadDirect returns a version's own content, decompressing if needed, and
// errors if called on a delta — loadDirect is only ever used on full copies,
// guarding against the recursion the visited set exists to prevent.
func (s *Store) loadDirect(v *model.MemoryVersion) (string, error) {
	if v.IsDelta {
		return "", locerr.NewIntegrity("loadDirect called on a delta version: " + v.VersionID)
	}
	if v.IsCompressed {
		return decompressContent(v.Content)
	}
	return v.Content, nil
}

func (s *Store) loadDirectByID(ctx context.Context, memoryID, versionID string) (string, error) {
	v, err := s.backend.GetVersion(ctx, memoryID, versionID)
	if err != nil {
		return "", locerr.Wrap(err, "reconstruct: load base")
	}
	if v == nil {
		return "", locerr.NewIntegrity("base version not found: " + versionID)
	}
	return s.loadDirect(v)
}

// findBaseVersion reverse-iterates a memory's versions (already ordered by
// created_at ASC) to find the nearest full copy at or before target.
func (s *Store) findBaseVersion(ctx context.Context, memoryID string, target time.Time) (*model.MemoryVersion, error) {
	vs, err := s.backend.ListVersions(ctx, memoryID)
	if err != nil {
		return nil, locerr.Wrap(err, "find base version")
	}
	for i := len(vs) - 1; i >= 0; i-- {
		v := vs[i]
		if !v.IsDelta && !v.CreatedAt.After(target) {
			return v, nil
		}
	}
	return nil, nil
}

// deltaChain returns the ordered sequence of delta versions strictly after
// base and up to and including target.
func (s *Store) deltaChain(ctx context.Context, memoryID string, base, target *model.MemoryVersion) ([]*model.MemoryVersion, error) {
	vs, err := s.backend.ListVersions(ctx, memoryID)
	if err != nil {
		return nil, locerr.Wrap(err, "delta chain")
	}
	var chain []*model.MemoryVersion
	for _, v := range vs {
		if !v.CreatedAt.After(base.CreatedAt) {
			continue
		}
		if v.CreatedAt.After(target.CreatedAt) {
			break
		}
		chain = append(chain, v)
	}
	return chain, nil
}
